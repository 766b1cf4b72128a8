package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewAtSortsByTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewAt(base)
	second := NewAt(base.Add(time.Second))
	if first >= second {
		t.Fatalf("expected %s < %s", first, second)
	}
	parsed, err := ulid.Parse(first)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(base) {
		t.Fatalf("timestamp mismatch: %v", got)
	}
}
