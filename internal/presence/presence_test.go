package presence

import (
	"testing"
	"time"
)

func TestUpdateAndGetCaseInsensitive(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(1000, 0)
	tr.Update("Alice@Example.COM", true, "away", "afk", 5, now)

	s, ok := tr.Get("alice@example.com")
	if !ok {
		t.Fatal("expected state to be found")
	}
	if !s.Available || s.Status != "away" || s.Priority != 5 {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestIsAvailableUnknownJID(t *testing.T) {
	tr := NewTracker()
	if tr.IsAvailable("nobody@example.com") {
		t.Fatal("expected unknown jid to be unavailable")
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Update("bob@example.com", true, "", "", 0, time.Unix(1, 0))
	tr.Clear()
	if _, ok := tr.Get("bob@example.com"); ok {
		t.Fatal("expected Clear to remove all state")
	}
}
