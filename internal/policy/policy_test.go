package policy

import (
	"testing"

	"github.com/chatbridge/xmppchannel/internal/account"
	"github.com/chatbridge/xmppchannel/internal/config"
)

type fakeStore struct {
	allow []string
}

func (f *fakeStore) ReadAllowFrom(channel string) ([]string, error) {
	return f.allow, nil
}

func engineWith(acctCfg config.AccountConfig, store PairingStore) *Engine {
	return &Engine{
		Account: account.Account{
			BareJID: "agent@localhost",
			Config:  acctCfg,
		},
		Pairing: store,
	}
}

func TestDMOpenAllowsAnySender(t *testing.T) {
	e := engineWith(config.AccountConfig{DMPolicy: "open", AllowFrom: []string{"*"}}, nil)
	d := e.Decide(Input{SenderBareJID: "u@localhost"})
	if d.Verdict != Allow {
		t.Fatalf("expected allow, got drop: %s", d.Reason)
	}
}

func TestGroupOpenWithWildcardRoomAllowsAnySender(t *testing.T) {
	enabled := true
	requireMention := false
	e := engineWith(config.AccountConfig{
		GroupPolicy: "open",
		Rooms: map[string]config.RoomConfig{
			"*": {Enabled: &enabled, RequireMention: &requireMention},
		},
	}, nil)
	d := e.Decide(Input{
		IsGroup:        true,
		RoomJID:        "r@conference.localhost",
		SenderBareJID:  "r@conference.localhost",
		SenderFullJID:  "r@conference.localhost/u",
		SenderNickname: "u",
		Body:           "hello room",
	})
	if d.Verdict != Allow {
		t.Fatalf("expected allow, got drop: %s", d.Reason)
	}
}

func TestPairingPolicyUnknownSenderDropsWithChallengeReason(t *testing.T) {
	e := engineWith(config.AccountConfig{DMPolicy: "pairing"}, &fakeStore{})

	d := e.Decide(Input{SenderBareJID: "bob@ex"})
	if d.Verdict != Drop || d.Reason != "pairing-challenge" {
		t.Fatalf("expected drop with pairing-challenge reason, got %+v", d)
	}
}

func TestGroupAllowlistWithNoRoomsDropsEveryMessage(t *testing.T) {
	e := engineWith(config.AccountConfig{GroupPolicy: "allowlist"}, nil)
	d := e.Decide(Input{IsGroup: true, RoomJID: "r@conference.localhost", SenderBareJID: "r@conference.localhost"})
	if d.Verdict != Drop || d.Reason != "no rooms configured" {
		t.Fatalf("expected drop with 'no rooms configured', got %+v", d)
	}
}

func TestRequireMentionAllowsAuthorizedCommandWithoutMention(t *testing.T) {
	enabled := true
	requireMention := true
	e := engineWith(config.AccountConfig{
		GroupPolicy: "allowlist",
		Rooms: map[string]config.RoomConfig{
			"r@conference.localhost": {Enabled: &enabled, RequireMention: &requireMention, AllowFrom: []string{"admin"}},
		},
	}, nil)

	d := e.Decide(Input{
		IsGroup:        true,
		RoomJID:        "r@conference.localhost",
		SenderBareJID:  "r@conference.localhost",
		SenderFullJID:  "r@conference.localhost/admin",
		SenderNickname: "admin",
		Body:           "agent: help",
		CommandPrefix:  "agent:",
	})
	if d.Verdict != Allow {
		t.Fatalf("expected allowlisted command-author to bypass mention gate, got %+v", d)
	}
}

func TestMissingMentionDropsNonCommandMessage(t *testing.T) {
	enabled := true
	requireMention := true
	e := engineWith(config.AccountConfig{
		GroupPolicy: "allowlist",
		Rooms: map[string]config.RoomConfig{
			"r@conference.localhost": {Enabled: &enabled, RequireMention: &requireMention, AllowFrom: []string{"*"}},
		},
	}, nil)

	d := e.Decide(Input{
		IsGroup:        true,
		RoomJID:        "r@conference.localhost",
		SenderBareJID:  "r@conference.localhost/someone",
		SenderFullJID:  "r@conference.localhost/someone",
		SenderNickname: "someone",
		Body:           "hello",
	})
	if d.Verdict != Drop || d.Reason != "missing-mention" {
		t.Fatalf("expected missing-mention drop, got %+v", d)
	}
}

func TestDynamicMentionPatternSatisfiesMentionGate(t *testing.T) {
	enabled := true
	requireMention := true
	e := engineWith(config.AccountConfig{
		GroupPolicy: "allowlist",
		Rooms: map[string]config.RoomConfig{
			"r@conference.localhost": {Enabled: &enabled, RequireMention: &requireMention, AllowFrom: []string{"*"}},
		},
	}, nil)

	d := e.Decide(Input{
		IsGroup:         true,
		RoomJID:         "r@conference.localhost",
		SenderBareJID:   "r@conference.localhost/someone",
		SenderFullJID:   "r@conference.localhost/someone",
		SenderNickname:  "someone",
		Body:            "hey bubbles, you there?",
		MentionPatterns: []string{"bubbles"}, // e.g. host-resolved display-name alias
	})
	if d.Verdict != Allow {
		t.Fatalf("expected a host-provided mention pattern to satisfy the mention gate, got %+v", d)
	}
	if !d.WasMentioned {
		t.Fatal("expected WasMentioned to be true")
	}
}

func TestSelfMessageDropped(t *testing.T) {
	e := engineWith(config.AccountConfig{DMPolicy: "open", AllowFrom: []string{"*"}}, nil)
	d := e.Decide(Input{SenderBareJID: "agent@localhost"})
	if d.Verdict != Drop || d.Reason != "self-message" {
		t.Fatalf("expected self-message drop, got %+v", d)
	}
}
