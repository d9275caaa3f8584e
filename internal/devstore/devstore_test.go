package devstore

import (
	"context"
	"strings"
	"testing"

	"github.com/chatbridge/xmppchannel/internal/hostapi"
)

func newTestStore(t *testing.T) *DB {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertPairingRequestCreatesOnce(t *testing.T) {
	store := newTestStore(t)

	created, code, err := store.UpsertPairingRequest("xmpp", "User@Example.com")
	if err != nil {
		t.Fatalf("UpsertPairingRequest: %v", err)
	}
	if !created {
		t.Fatal("expected first request to be created")
	}
	if len(code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}

	createdAgain, code2, err := store.UpsertPairingRequest("xmpp", "user@example.com")
	if err != nil {
		t.Fatalf("UpsertPairingRequest (repeat): %v", err)
	}
	if createdAgain {
		t.Fatal("expected repeat request to not be created")
	}
	if code2 != code {
		t.Fatalf("expected same code on repeat, got %q want %q", code2, code)
	}
}

func TestApprovePairingAddsToAllowFrom(t *testing.T) {
	store := newTestStore(t)

	if _, _, err := store.UpsertPairingRequest("xmpp", "user@example.com"); err != nil {
		t.Fatalf("UpsertPairingRequest: %v", err)
	}

	allowed, err := store.ReadAllowFrom("xmpp")
	if err != nil {
		t.Fatalf("ReadAllowFrom: %v", err)
	}
	if len(allowed) != 0 {
		t.Fatalf("expected no allowed entries before approval, got %v", allowed)
	}

	if err := store.ApprovePairing("xmpp", "user@example.com"); err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}

	allowed, err = store.ReadAllowFrom("xmpp")
	if err != nil {
		t.Fatalf("ReadAllowFrom: %v", err)
	}
	if len(allowed) != 1 || allowed[0] != "user@example.com" {
		t.Fatalf("expected user@example.com allowed, got %v", allowed)
	}
}

func TestApprovePairingWithoutRequestFails(t *testing.T) {
	store := newTestStore(t)
	if err := store.ApprovePairing("xmpp", "nobody@example.com"); err == nil {
		t.Fatal("expected error approving a request that was never made")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.PreviousSessionAt(ctx, "k1"); err != nil || ok {
		t.Fatalf("expected no prior session, got ok=%v err=%v", ok, err)
	}

	if err := store.RecordSession(ctx, "k1", 1000); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	at, ok, err := store.PreviousSessionAt(ctx, "k1")
	if err != nil || !ok || at != 1000 {
		t.Fatalf("expected at=1000 ok=true, got at=%d ok=%v err=%v", at, ok, err)
	}

	if err := store.RecordSession(ctx, "k1", 2000); err != nil {
		t.Fatalf("RecordSession (update): %v", err)
	}
	at, ok, err = store.PreviousSessionAt(ctx, "k1")
	if err != nil || !ok || at != 2000 {
		t.Fatalf("expected updated at=2000, got at=%d ok=%v err=%v", at, ok, err)
	}
}

func TestDetectCommandPrefix(t *testing.T) {
	store := newTestStore(t)
	if prefix, ok := store.Detect("!status"); !ok || prefix != "!" {
		t.Fatalf("expected command detected, got prefix=%q ok=%v", prefix, ok)
	}
	if _, ok := store.Detect("hello there"); ok {
		t.Fatal("expected plain text to not be a command")
	}
}

func TestTablesToPlaintextStripsPipesAndDelimiters(t *testing.T) {
	store := newTestStore(t)
	md := "intro\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	got := store.TablesToPlaintext(md)
	want := "intro\na  b\n1  2\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDispatchEchoesBody(t *testing.T) {
	store := newTestStore(t)
	var delivered string
	err := store.Dispatch(context.Background(), hostapi.ContextPayload{Body: "hi"}, hostapi.DispatchOptions{}, func(ctx context.Context, chunk string) error {
		delivered = chunk
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(delivered, "hi") {
		t.Fatalf("expected the delivered chunk to echo the body, got %q", delivered)
	}
}

func TestResolveRouteIsStablePerPeer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	peer := hostapi.Peer{Kind: "direct", ID: "user@example.com"}

	a, err := store.ResolveRoute(ctx, "xmpp", "default", peer)
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	b, err := store.ResolveRoute(ctx, "xmpp", "default", peer)
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable route, got %q and %q", a, b)
	}
}
