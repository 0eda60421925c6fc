package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of stay dates (check-in / check-out).
const DateLayout = "2006-01-02"

type LockStatus string

const (
	LockStatusActive    LockStatus = "ACTIVE"
	LockStatusConverted LockStatus = "CONVERTED"
	LockStatusReleased  LockStatus = "RELEASED"
	LockStatusExpired   LockStatus = "EXPIRED"
)

// IsTerminal reports whether the status can never transition again.
func (s LockStatus) IsTerminal() bool {
	switch s {
	case LockStatusConverted, LockStatusReleased, LockStatusExpired:
		return true
	}
	return false
}

// Window is the stay a hold protects. Both ends are calendar dates in UTC.
type Window struct {
	CheckIn  time.Time `bson:"check_in"`
	CheckOut time.Time `bson:"check_out"`
}

func NewWindow(checkIn, checkOut time.Time) Window {
	return Window{
		CheckIn:  TruncateToDate(checkIn),
		CheckOut: TruncateToDate(checkOut),
	}
}

// ParseWindow parses two YYYY-MM-DD dates. It does not check ordering.
func ParseWindow(checkIn, checkOut string) (Window, error) {
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		return Window{}, fmt.Errorf("invalid check_in %q: %w", checkIn, err)
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		return Window{}, fmt.Errorf("invalid check_out %q: %w", checkOut, err)
	}
	return NewWindow(in, out), nil
}

func (w Window) Valid() bool {
	return w.CheckOut.After(w.CheckIn)
}

func (w Window) Nights() int {
	if !w.Valid() {
		return 0
	}
	return int(w.CheckOut.Sub(w.CheckIn).Hours() / 24)
}

type windowJSON struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{
		CheckIn:  w.CheckIn.UTC().Format(DateLayout),
		CheckOut: w.CheckOut.UTC().Format(DateLayout),
	})
}

func (w *Window) UnmarshalJSON(data []byte) error {
	var raw windowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseWindow(raw.CheckIn, raw.CheckOut)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// TruncateToDate drops the time-of-day part of t in UTC.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Lock is a temporary, exclusive hold of a resource by a holder.
// Records are never deleted; terminal locks remain as audit entries.
type Lock struct {
	ID         string     `json:"lock_id" bson:"_id"`
	ResourceID string     `json:"resource_id" bson:"resource_id"`
	HolderID   string     `json:"holder_id" bson:"holder_id"`
	Window     Window     `json:"window" bson:"window"`
	Status     LockStatus `json:"status" bson:"status"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at" bson:"expires_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
}

func (l *Lock) IsActive() bool {
	return l.Status == LockStatusActive
}

// ExpiredAt reports whether an active lock has timed out at now.
// A lock is live on [CreatedAt, ExpiresAt).
func (l *Lock) ExpiredAt(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining is the advisory countdown shown to the holder.
func (l *Lock) Remaining(now time.Time) time.Duration {
	if !l.IsActive() || l.ExpiredAt(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	c := *l
	if l.ClosedAt != nil {
		closed := *l.ClosedAt
		c.ClosedAt = &closed
	}
	return &c
}

// AcquireLockRequest is the body of POST /api/v1/locks. The holder comes from the caller identity.
type AcquireLockRequest struct {
	ResourceID string `json:"resource_id" validate:"required,resource_id"`
	CheckIn    string `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut   string `json:"check_out" validate:"required,datetime=2006-01-02"`
}

// LockView is the response shape for lock reads and acquisition.
type LockView struct {
	*Lock
	SecondsRemaining int64 `json:"seconds_remaining"`
}

func NewLockView(lock *Lock, now time.Time) *LockView {
	if lock == nil {
		return nil
	}
	return &LockView{
		Lock:             lock,
		SecondsRemaining: int64(lock.Remaining(now) / time.Second),
	}
}

// ConversionHandle is handed to the booking collaborator after a successful convert.
type ConversionHandle struct {
	LockID      string          `json:"lock_id"`
	ResourceID  string          `json:"resource_id"`
	HolderID    string          `json:"holder_id"`
	Window      Window          `json:"window"`
	ConvertedAt time.Time       `json:"converted_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
