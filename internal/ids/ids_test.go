package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not monotonic: %s then %s", prev, next)
		}
		prev = next
	}
	if !Valid(New()) {
		t.Fatalf("New produced an invalid id")
	}
	for _, bad := range []string{"", "missing", "01HX!"} {
		if Valid(bad) {
			t.Fatalf("Valid(%q) = true", bad)
		}
	}
}
