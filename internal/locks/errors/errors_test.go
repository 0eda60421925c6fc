package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestLockError_IsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same kind other resource", ResourceAlreadyHeld("villa-12"), ErrResourceAlreadyHeld, true},
		{"wrapped", fmt.Errorf("acquire: %w", NotOwner("villa-12")), ErrNotOwner, true},
		{"different kind", LockNotActive("villa-12"), ErrNotOwner, false},
		{"store sentinel", ErrNotFound, ErrLockNotActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestAsLockError(t *testing.T) {
	err := fmt.Errorf("acquire: %w", HolderAlreadyHasActiveLock("villa-12"))

	lockErr, ok := AsLockError(err)
	if !ok {
		t.Fatal("expected a LockError")
	}
	if lockErr.Kind != KindHolderAlreadyHasActiveLock {
		t.Errorf("expected kind %s, got %s", KindHolderAlreadyHasActiveLock, lockErr.Kind)
	}
	if lockErr.ResourceID != "villa-12" {
		t.Errorf("expected resource villa-12, got %q", lockErr.ResourceID)
	}

	if _, ok := AsLockError(ErrStaleTransition); ok {
		t.Error("store sentinels are not LockErrors")
	}
}

func TestLockError_Message(t *testing.T) {
	msg := InvalidWindow("check_out must be after check_in").Error()
	if msg == "" || msg == string(KindInvalidWindow) {
		t.Errorf("expected reason in message, got %q", msg)
	}
}
