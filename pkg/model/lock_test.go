package model

import (
	"encoding/json"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name      string
		checkIn   string
		checkOut  string
		wantErr   bool
		wantValid bool
		nights    int
	}{
		{"three nights", "2024-06-01", "2024-06-04", false, true, 3},
		{"same day", "2024-06-01", "2024-06-01", false, false, 0},
		{"reversed", "2024-06-04", "2024-06-01", false, false, 0},
		{"bad check-in", "06/01/2024", "2024-06-04", true, false, 0},
		{"bad check-out", "2024-06-01", "2024-13-01", true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(tt.checkIn, tt.checkOut)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWindow error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if w.Valid() != tt.wantValid {
				t.Errorf("Valid() = %v, want %v", w.Valid(), tt.wantValid)
			}
			if w.Nights() != tt.nights {
				t.Errorf("Nights() = %d, want %d", w.Nights(), tt.nights)
			}
		})
	}
}

func TestNewWindow_TruncatesToDate(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	w := NewWindow(time.Date(2024, 6, 1, 1, 30, 0, 0, loc), time.Date(2024, 6, 4, 23, 0, 0, 0, time.UTC))

	if !w.CheckIn.Equal(date(2024, 5, 31)) {
		t.Errorf("CheckIn = %v, want 2024-05-31 UTC", w.CheckIn)
	}
	if !w.CheckOut.Equal(date(2024, 6, 4)) {
		t.Errorf("CheckOut = %v, want 2024-06-04 UTC", w.CheckOut)
	}
}

func TestWindow_JSON(t *testing.T) {
	w := NewWindow(date(2024, 6, 1), date(2024, 6, 4))

	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"check_in":"2024-06-01","check_out":"2024-06-04"}` {
		t.Errorf("unexpected JSON %s", raw)
	}

	var bad Window
	if err := json.Unmarshal([]byte(`{"check_in":"tomorrow","check_out":"2024-06-04"}`), &bad); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestLock_ExpiryBoundary(t *testing.T) {
	created := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	lock := &Lock{
		Status:    LockStatusActive,
		CreatedAt: created,
		ExpiresAt: created.Add(15 * time.Minute),
	}

	if lock.ExpiredAt(created.Add(15*time.Minute - time.Millisecond)) {
		t.Error("lock must be live one millisecond before its deadline")
	}
	if !lock.ExpiredAt(created.Add(15 * time.Minute)) {
		t.Error("lock must be expired at its deadline")
	}
	if got := lock.Remaining(created.Add(5 * time.Minute)); got != 10*time.Minute {
		t.Errorf("Remaining = %v, want 10m", got)
	}
	if got := lock.Remaining(created.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", got)
	}

	lock.Status = LockStatusConverted
	if got := lock.Remaining(created); got != 0 {
		t.Errorf("Remaining of a terminal lock = %v, want 0", got)
	}
}

func TestLockStatus_IsTerminal(t *testing.T) {
	if LockStatusActive.IsTerminal() {
		t.Error("ACTIVE is not terminal")
	}
	for _, s := range []LockStatus{LockStatusConverted, LockStatusReleased, LockStatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestLock_CloneCopiesClosedAt(t *testing.T) {
	closed := time.Date(2024, 5, 31, 12, 5, 0, 0, time.UTC)
	lock := &Lock{ID: "l-1", ClosedAt: &closed}

	c := lock.Clone()
	*c.ClosedAt = c.ClosedAt.Add(time.Hour)

	if !lock.ClosedAt.Equal(closed) {
		t.Error("Clone shares ClosedAt with the original")
	}
	if (*Lock)(nil).Clone() != nil {
		t.Error("Clone of nil must be nil")
	}
}

func TestNewLockView(t *testing.T) {
	if NewLockView(nil, time.Now()) != nil {
		t.Error("nil lock must give nil view")
	}

	created := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	lock := &Lock{Status: LockStatusActive, CreatedAt: created, ExpiresAt: created.Add(15 * time.Minute)}
	view := NewLockView(lock, created.Add(90*time.Second))
	if view.SecondsRemaining != 810 {
		t.Errorf("SecondsRemaining = %d, want 810", view.SecondsRemaining)
	}
}
