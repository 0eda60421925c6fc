package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of refusals the lock manager can return.
type Kind string

const (
	KindInvalidWindow              Kind = "InvalidWindow"
	KindResourceAlreadyHeld        Kind = "ResourceAlreadyHeld"
	KindHolderAlreadyHasActiveLock Kind = "HolderAlreadyHasActiveLock"
	KindNotOwner                   Kind = "NotOwner"
	KindLockNotActive              Kind = "LockNotActive"
)

// LockError is a typed refusal. ResourceID names the resource the caller should act on:
// for HolderAlreadyHasActiveLock it is the resource of the existing hold.
type LockError struct {
	Kind       Kind
	ResourceID string
	Reason     string
}

func (e *LockError) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.ResourceID != "" {
		msg += fmt.Sprintf(" (resource %s)", e.ResourceID)
	}
	return msg
}

// Is matches on Kind only, so errors.Is(err, ErrNotOwner) works for any resource.
func (e *LockError) Is(target error) bool {
	t, ok := target.(*LockError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidWindow              = &LockError{Kind: KindInvalidWindow}
	ErrResourceAlreadyHeld        = &LockError{Kind: KindResourceAlreadyHeld}
	ErrHolderAlreadyHasActiveLock = &LockError{Kind: KindHolderAlreadyHasActiveLock}
	ErrNotOwner                   = &LockError{Kind: KindNotOwner}
	ErrLockNotActive              = &LockError{Kind: KindLockNotActive}
)

// Store level errors.
var (
	ErrNotFound = errors.New("lock not found")

	ErrResourceConflict = errors.New("resource already has an active lock")

	ErrHolderConflict = errors.New("holder already has an active lock")

	ErrStaleTransition = errors.New("lock is no longer active")
)

func InvalidWindow(reason string) *LockError {
	return &LockError{Kind: KindInvalidWindow, Reason: reason}
}

func ResourceAlreadyHeld(resourceID string) *LockError {
	return &LockError{
		Kind:       KindResourceAlreadyHeld,
		ResourceID: resourceID,
		Reason:     "this property is currently held by someone else",
	}
}

func HolderAlreadyHasActiveLock(resourceID string) *LockError {
	return &LockError{
		Kind:       KindHolderAlreadyHasActiveLock,
		ResourceID: resourceID,
		Reason:     "you already have a pending hold",
	}
}

func NotOwner(resourceID string) *LockError {
	return &LockError{
		Kind:       KindNotOwner,
		ResourceID: resourceID,
		Reason:     "the active hold belongs to another holder",
	}
}

func LockNotActive(resourceID string) *LockError {
	return &LockError{
		Kind:       KindLockNotActive,
		ResourceID: resourceID,
		Reason:     "no active hold for this holder",
	}
}

// AsLockError extracts the typed refusal from err, if any.
func AsLockError(err error) (*LockError, bool) {
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		return lockErr, true
	}
	return nil, false
}
