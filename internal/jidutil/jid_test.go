package jidutil

import "testing"

func TestNormalizeIdempotent(t *testing.T) {
	cases := []string{
		"Alice@Example.COM/Phone",
		"bob@example.com",
		"room@conference.example.com/nick",
	}
	for _, c := range cases {
		first, ok := Normalize(c)
		if !ok {
			t.Fatalf("Normalize(%q) failed to parse", c)
		}
		second, ok := Normalize(first)
		if !ok || second != first {
			t.Fatalf("Normalize not idempotent for %q: first=%q second=%q", c, first, second)
		}
	}
}

func TestNormalizeInvalid(t *testing.T) {
	if _, ok := Normalize(""); ok {
		t.Fatal("expected empty string to fail normalization")
	}
	if _, ok := Normalize("   "); ok {
		t.Fatal("expected whitespace-only string to fail normalization")
	}
}

func TestNormalizeAllowEntryWildcard(t *testing.T) {
	got, ok := NormalizeAllowEntry("*")
	if !ok || got != "*" {
		t.Fatalf("NormalizeAllowEntry(*) = %q, %v", got, ok)
	}
}

func TestNormalizeAllowEntryStripsPrefixOnce(t *testing.T) {
	got, ok := NormalizeAllowEntry("xmpp:alice@example.com")
	if !ok || got != "alice@example.com" {
		t.Fatalf("got %q, %v", got, ok)
	}

	if _, ok := NormalizeAllowEntry("xmpp:xmpp:alice@example.com"); ok {
		t.Fatal("expected double prefix to fail to parse as a JID")
	}
}

func TestNormalizeAllowEntryUserAndRoomPrefix(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"user:bob@example.com", "bob@example.com"},
		{"room:r@conference.example.com", "r@conference.example.com"},
	} {
		got, ok := NormalizeAllowEntry(tc.in)
		if !ok || got != tc.want {
			t.Fatalf("NormalizeAllowEntry(%q) = %q, %v; want %q", tc.in, got, ok, tc.want)
		}
	}
}

func TestIsRoomJID(t *testing.T) {
	if !IsRoomJID("foo@conference.example.com") {
		t.Fatal("expected conference domain to be detected as a room")
	}
	if !IsRoomJID("foo@muc.example.com") {
		t.Fatal("expected muc domain to be detected as a room")
	}
	if IsRoomJID("alice@example.com") {
		t.Fatal("expected plain user JID to not be a room")
	}
}

func TestOccupantNickname(t *testing.T) {
	if got := OccupantNickname("room@conference.example.com/nick"); got != "nick" {
		t.Fatalf("got %q", got)
	}
	if got := OccupantNickname("alice@example.com"); got != "" {
		t.Fatalf("expected empty nickname, got %q", got)
	}
}

func TestMatchAllowlist(t *testing.T) {
	allow := []string{"alice@example.com"}
	if !MatchAllowlist([]string{"alice@example.com"}, allow) {
		t.Fatal("expected exact bare JID match")
	}
	if MatchAllowlist([]string{"bob@example.com"}, allow) {
		t.Fatal("expected no match for unrelated JID")
	}
	if !MatchAllowlist([]string{"anyone@example.com"}, []string{"*"}) {
		t.Fatal("expected wildcard to match anything")
	}
}
