// Package policy implements the fixed-order access-control decisions
// spec.md §4.4 describes: group access, room match, allowlist matching,
// DM gate, control-command gate, and mention gate. Per spec.md §9's
// design note, DM/group policy are closed enums dispatched by value
// switch, never interfaces — the decision tree is pure data in, tagged
// Decision out.
package policy

import (
	"strings"

	"github.com/chatbridge/xmppchannel/internal/account"
	"github.com/chatbridge/xmppchannel/internal/config"
	"github.com/chatbridge/xmppchannel/internal/jidutil"
)

// Verdict tags the outcome of a gate: ALLOW or DROP, never both.
type Verdict int

const (
	Allow Verdict = iota
	Drop
)

// Decision is the tagged result of running the full gate chain for one
// inbound message.
type Decision struct {
	Verdict           Verdict
	Reason            string // e.g. "open", "allowlisted", "no rooms configured", "missing-mention", "pairing-challenge"
	CommandAuthorized bool
	WasMentioned      bool
}

// PairingStore is the read side of the host-provided collaborator
// spec.md §4.5 and §6 name; the write side (UpsertPairingRequest,
// triggered on a pairing-challenge verdict) lives in package pairing
// and is invoked by the inbound pipeline, not by the gate chain itself.
type PairingStore interface {
	ReadAllowFrom(channel string) ([]string, error)
}

// Input is everything a gate decision needs about one inbound message.
type Input struct {
	IsGroup          bool
	RoomJID          string // bare room jid when IsGroup
	SenderBareJID    string
	SenderFullJID    string
	SenderNickname   string
	Body             string
	CommandPrefix    string // "" if the channel doesn't recognize command prefixes, or the host disallows them
	AccountLocalpart string
	// MentionPatterns is the effective pattern set for this message:
	// the account's static config patterns plus whatever the host's
	// MentionPatternBuilder contributed (spec.md §6), merged by the
	// caller before Decide runs.
	MentionPatterns []string
}

// Engine runs the gate chain against one account's resolved
// configuration and an injected pairing store.
type Engine struct {
	Account account.Account
	Pairing PairingStore
	// IsRoomJID overrides the room-JID heuristic (spec.md §9: "exposed
	// as a collaborator-replaceable predicate"). Defaults to
	// jidutil.IsRoomJID when nil.
	IsRoomJID func(string) bool
}

func (e *Engine) isRoomJID(j string) bool {
	if e.IsRoomJID != nil {
		return e.IsRoomJID(j)
	}
	return jidutil.IsRoomJID(j)
}

// Decide runs the full fixed-order gate chain (spec.md §4.4). Any NO
// short-circuits to DROP.
func (e *Engine) Decide(in Input) Decision {
	if strings.EqualFold(in.SenderBareJID, e.Account.BareJID) {
		return Decision{Verdict: Drop, Reason: "self-message"}
	}

	roomCfg, wildcardCfg, roomConfigured := e.matchRoom(in.RoomJID)

	if in.IsGroup {
		if d, ok := e.groupAccessGate(in, roomCfg, wildcardCfg, roomConfigured); !ok {
			return d
		}
	} else {
		if d, ok := e.dmGate(in); !ok {
			return d
		}
	}

	commandAuthorized := e.commandGate(in, roomCfg, wildcardCfg)

	if in.IsGroup {
		if d, ok := e.mentionGate(in, roomCfg, wildcardCfg, commandAuthorized); !ok {
			return d
		}
	}

	reason := "open"
	if in.IsGroup && e.Account.EffectiveGroupPolicy() == "allowlist" {
		reason = "allowlisted"
	}
	return Decision{Verdict: Allow, Reason: reason, CommandAuthorized: commandAuthorized, WasMentioned: e.wasMentioned(in)}
}

// matchRoom finds the room config by exact key, then case-insensitive
// equality, else the wildcard "*" entry (spec.md §4.4 "Room match").
func (e *Engine) matchRoom(roomJID string) (room *config.RoomConfig, wildcard *config.RoomConfig, found bool) {
	rooms := e.Account.Config.Rooms
	if rooms == nil {
		return nil, nil, false
	}
	if rc, ok := rooms[roomJID]; ok {
		r := rc
		room, found = &r, true
	} else {
		lower := strings.ToLower(roomJID)
		for key, rc := range rooms {
			if strings.ToLower(key) == lower {
				r := rc
				room, found = &r, true
				break
			}
		}
	}
	if wc, ok := rooms["*"]; ok {
		w := wc
		wildcard = &w
	}
	return room, wildcard, found
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// groupAccessGate is spec.md §4.4's "Group access gate".
func (e *Engine) groupAccessGate(in Input, roomCfg, wildcardCfg *config.RoomConfig, roomConfigured bool) (Decision, bool) {
	groupPolicy := e.Account.EffectiveGroupPolicy()

	if groupPolicy == "disabled" {
		return Decision{Verdict: Drop, Reason: "group-disabled"}, false
	}

	if groupPolicy == "allowlist" {
		if len(e.Account.Config.Rooms) == 0 {
			return Decision{Verdict: Drop, Reason: "no rooms configured"}, false
		}
		if !roomConfigured {
			return Decision{Verdict: Drop, Reason: "not allowlisted"}, false
		}
	}

	enabled := true
	if roomCfg != nil && roomCfg.Enabled != nil {
		enabled = *roomCfg.Enabled
	} else if wildcardCfg != nil && wildcardCfg.Enabled != nil {
		enabled = *wildcardCfg.Enabled
	}
	if !enabled {
		return Decision{Verdict: Drop, Reason: "room-disabled"}, false
	}

	if !e.groupSenderAllowed(in, roomCfg) {
		return Decision{Verdict: Drop, Reason: "not allowlisted"}, false
	}

	return Decision{}, true
}

// groupSenderAllowed implements the group half of "Allowlist matching".
func (e *Engine) groupSenderAllowed(in Input, roomCfg *config.RoomConfig) bool {
	var entries []string
	switch {
	case roomCfg != nil && len(roomCfg.AllowFrom) > 0:
		entries = roomCfg.AllowFrom
	default:
		entries = e.effectiveGroupAllowlist()
	}

	if len(entries) == 0 {
		return e.Account.EffectiveGroupPolicy() == "open"
	}

	return jidutil.MatchAllowlist(candidates(in), entries)
}

// effectiveGroupAllowlist unions the account's groupAllowFrom with the
// pairing store's recorded group allowlist for this channel.
func (e *Engine) effectiveGroupAllowlist() []string {
	entries := append([]string{}, e.Account.Config.GroupAllowFrom...)
	if e.Pairing != nil {
		if stored, err := e.Pairing.ReadAllowFrom("xmpp"); err == nil {
			entries = append(entries, stored...)
		}
	}
	return entries
}

// effectiveDMAllowlist unions the account's allowFrom with the pairing
// store's recorded allowlist for this channel.
func (e *Engine) effectiveDMAllowlist() []string {
	entries := append([]string{}, e.Account.Config.AllowFrom...)
	if e.Pairing != nil {
		if stored, err := e.Pairing.ReadAllowFrom("xmpp"); err == nil {
			entries = append(entries, stored...)
		}
	}
	return entries
}

func candidates(in Input) []string {
	c := []string{in.SenderBareJID, in.SenderFullJID}
	if in.SenderNickname != "" {
		c = append(c, in.SenderNickname)
	}
	return c
}

// dmGate is spec.md §4.4's "DM gate".
func (e *Engine) dmGate(in Input) (Decision, bool) {
	switch e.Account.EffectiveDMPolicy() {
	case "disabled":
		return Decision{Verdict: Drop, Reason: "dm-disabled"}, false
	case "open":
		return Decision{}, true
	case "pairing":
		if jidutil.MatchAllowlist(candidates(in), e.effectiveDMAllowlist()) {
			return Decision{}, true
		}
		return Decision{Verdict: Drop, Reason: "pairing-challenge"}, false
	default: // "allowlist"
		if jidutil.MatchAllowlist(candidates(in), e.effectiveDMAllowlist()) {
			return Decision{}, true
		}
		return Decision{Verdict: Drop, Reason: "not allowlisted"}, false
	}
}

// commandGate is spec.md §4.4's "Control-command gate": a recognized
// command is authorized iff the channel allows text commands at all
// (CommandPrefix is only ever non-empty when the caller already
// confirmed hostapi.CommandGate.TextCommandsAllowed) and, in a group,
// the sender is already allowlisted. Outside of groups there is no
// additional gate beyond the DM gate already having passed.
func (e *Engine) commandGate(in Input, roomCfg, wildcardCfg *config.RoomConfig) bool {
	if in.CommandPrefix == "" || !strings.HasPrefix(strings.TrimSpace(in.Body), in.CommandPrefix) {
		return false
	}
	if !in.IsGroup {
		return true
	}
	return e.groupSenderAllowed(in, roomCfg)
}

// mentionGate is spec.md §4.4's "Mention gate".
func (e *Engine) mentionGate(in Input, roomCfg, wildcardCfg *config.RoomConfig, commandAuthorized bool) (Decision, bool) {
	requireMention := true
	if roomCfg != nil && roomCfg.RequireMention != nil {
		requireMention = *roomCfg.RequireMention
	} else if wildcardCfg != nil && wildcardCfg.RequireMention != nil {
		requireMention = *wildcardCfg.RequireMention
	}

	if !requireMention {
		return Decision{}, true
	}
	if e.wasMentioned(in) {
		return Decision{}, true
	}
	if in.CommandPrefix != "" && strings.HasPrefix(strings.TrimSpace(in.Body), in.CommandPrefix) && commandAuthorized {
		return Decision{}, true
	}
	return Decision{Verdict: Drop, Reason: "missing-mention"}, false
}

// wasMentioned implements spec.md §4.4's mention-match rule: patterns
// (static config plus whatever the host's MentionPatternBuilder
// contributed, already merged into in.MentionPatterns by the caller),
// or the account's localpart as a standalone word (optionally followed
// by ':' or ',').
func (e *Engine) wasMentioned(in Input) bool {
	for _, pattern := range in.MentionPatterns {
		if pattern != "" && strings.Contains(strings.ToLower(in.Body), strings.ToLower(pattern)) {
			return true
		}
	}
	return matchesLocalpartMention(in.Body, in.AccountLocalpart)
}

func matchesLocalpartMention(body, localpart string) bool {
	if localpart == "" {
		return false
	}
	lower := strings.ToLower(body)
	needle := strings.ToLower(localpart)
	idx := 0
	for {
		at := strings.Index(lower[idx:], needle)
		if at < 0 {
			return false
		}
		pos := idx + at
		before := pos == 0 || !isWordChar(lower[pos-1])
		afterPos := pos + len(needle)
		after := afterPos >= len(lower) || !isWordChar(lower[afterPos])
		if before && after {
			return true
		}
		idx = pos + 1
		if idx >= len(lower) {
			return false
		}
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
