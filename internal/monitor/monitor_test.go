package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/chatbridge/xmppchannel/internal/account"
	"github.com/chatbridge/xmppchannel/internal/config"
	"github.com/chatbridge/xmppchannel/internal/hostapi"
	"github.com/chatbridge/xmppchannel/internal/inbound"
	"github.com/chatbridge/xmppchannel/internal/policy"
	"github.com/chatbridge/xmppchannel/internal/presence"
	"github.com/chatbridge/xmppchannel/internal/xmppclient"
	"github.com/chatbridge/xmppchannel/internal/xmppstanza"
)

type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(ctx context.Context, payload hostapi.ContextPayload, opts hostapi.DispatchOptions, deliver func(context.Context, string) error) error {
	return deliver(ctx, "pong")
}

func newTestMonitor() *Monitor {
	return &Monitor{
		AccountID:    "default",
		Pipeline:     &inbound.Pipeline{},
		Presence:     presence.NewTracker(),
		inboundQueue: make(chan inbound.Message, 4),
		done:         make(chan struct{}),
	}
}

func TestOnMessageTranslatesGroupStanza(t *testing.T) {
	m := newTestMonitor()
	m.onMessage(xmppclient.MessageEvent{Stanza: xmppstanza.Message{
		From: "room@conference.example.com/alice",
		ID:   "abc",
		Body: "hi room",
	}})

	select {
	case msg := <-m.inboundQueue:
		if !msg.IsGroup {
			t.Fatal("expected group message")
		}
		if msg.SenderNickname != "alice" {
			t.Fatalf("expected nickname alice, got %q", msg.SenderNickname)
		}
		if msg.Target != "room@conference.example.com" {
			t.Fatalf("unexpected target %q", msg.Target)
		}
	default:
		t.Fatal("expected message to be enqueued")
	}
}

func TestOnMessageTranslatesDirectStanza(t *testing.T) {
	m := newTestMonitor()
	m.onMessage(xmppclient.MessageEvent{Stanza: xmppstanza.Message{
		From: "alice@example.com/phone",
		ID:   "abc",
		Body: "hi",
	}})

	select {
	case msg := <-m.inboundQueue:
		if msg.IsGroup {
			t.Fatal("expected direct message")
		}
		if msg.Target != "alice@example.com" {
			t.Fatalf("unexpected target %q", msg.Target)
		}
		if msg.SenderBareJID != "alice@example.com" {
			t.Fatalf("unexpected sender bare jid %q", msg.SenderBareJID)
		}
	default:
		t.Fatal("expected message to be enqueued")
	}
}

func TestOnPresenceUpdatesTrackerAvailability(t *testing.T) {
	m := newTestMonitor()
	m.onPresence(xmppclient.PresenceEvent{From: "alice@example.com/phone", Type: "", Show: "away"})

	state, ok := m.Presence.Get("alice@example.com")
	if !ok {
		t.Fatal("expected presence state to be recorded")
	}
	if !state.Available {
		t.Fatal("expected available presence")
	}
	if state.Show != "away" {
		t.Fatalf("expected show=away, got %q", state.Show)
	}

	m.onPresence(xmppclient.PresenceEvent{From: "alice@example.com/phone", Type: "unavailable"})
	if m.Presence.IsAvailable("alice@example.com") {
		t.Fatal("expected presence to become unavailable")
	}
}

func TestRunDispatchesQueuedMessage(t *testing.T) {
	acct := account.Account{
		AccountID: "default",
		BareJID:   "agent@localhost",
		Config:    config.AccountConfig{DMPolicy: "open", AllowFrom: []string{"*"}},
	}
	delivered := make(chan string, 1)
	m := newTestMonitor()
	m.Pipeline = &inbound.Pipeline{
		Account:  acct,
		Policy:   &policy.Engine{Account: acct},
		Dispatch: fakeDispatcher{},
		Deliver: func(ctx context.Context, target, chunk string) error {
			delivered <- chunk
			return nil
		},
	}
	m.inboundQueue <- inbound.Message{
		MessageID:     "m1",
		Target:        "u@localhost",
		SenderBareJID: "u@localhost",
		SenderJID:     "u@localhost",
		Text:          "hi",
	}

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pipeline to handle queued message")
	}
	cancel()

	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to exit after cancel")
	}
}
