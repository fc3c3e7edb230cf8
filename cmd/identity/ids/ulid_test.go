package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewULID(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	id, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID error: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected 26 chars, got %d", len(id))
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(now) {
		t.Fatalf("timestamp mismatch: %v != %v", got, now)
	}
}

func TestNewULID_Sortable(t *testing.T) {
	a := MustULID(time.UnixMilli(1000))
	b := MustULID(time.UnixMilli(2000))
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}
