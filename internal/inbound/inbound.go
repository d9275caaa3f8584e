// Package inbound orchestrates the six-step inbound pipeline spec.md
// §4.6 describes: activity recording, route resolution, envelope
// formatting, session recording, context payload construction, and
// agent dispatch.
package inbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatbridge/xmppchannel/internal/account"
	"github.com/chatbridge/xmppchannel/internal/hostapi"
	"github.com/chatbridge/xmppchannel/internal/pairing"
	"github.com/chatbridge/xmppchannel/internal/policy"
)

// Message is spec.md §3's InboundMessage.
type Message struct {
	MessageID      string
	Target         string // room JID for MUC, else senderBareJid
	RawTarget      string
	SenderJID      string // full
	SenderBareJID  string
	SenderResource string
	SenderNickname string
	Text           string
	TimestampMS    int64
	IsGroup        bool
	StanzaID       string
}

// Pipeline binds one account's collaborators together.
type Pipeline struct {
	Account  account.Account
	Policy   *policy.Engine
	Pairing  *pairing.Notifier
	Activity hostapi.ActivityRecorder
	Sessions hostapi.SessionStore
	Routing  hostapi.RoutingResolver
	Dispatch hostapi.BlockStreamingDispatcher
	Mentions hostapi.MentionPatternBuilder
	Commands hostapi.CommandGate

	Deliver func(ctx context.Context, target string, chunk string) error
}

// Handle runs the full pipeline for one inbound message: gate decision,
// then (on ALLOW) the six ordered steps of spec.md §4.6. Self-messages
// and policy drops return nil with no further action, matching spec.md
// §7 ("policy drops... do not produce a user reply except pairing").
func (p *Pipeline) Handle(ctx context.Context, m Message) error {
	in := p.buildPolicyInput(ctx, m)

	decision := p.Policy.Decide(in)
	if decision.Verdict == policy.Drop {
		if decision.Reason == "pairing-challenge" && p.Pairing != nil {
			return p.Pairing.ChallengeIfNeeded(ctx, strings.ToLower(m.SenderBareJID))
		}
		return nil
	}

	// Step 1: record inbound activity.
	if p.Activity != nil {
		_ = p.Activity.RecordActivity(ctx, "xmpp", p.Account.AccountID, "inbound", m.TimestampMS)
	}

	// Step 2: resolve agent route.
	peer := hostapi.Peer{Kind: "direct", ID: m.Target}
	if m.IsGroup {
		peer.Kind = "group"
	}
	var routeID string
	if p.Routing != nil {
		routeID, _ = p.Routing.ResolveRoute(ctx, "xmpp", p.Account.AccountID, peer)
	}

	sessionKey := sessionKeyFor(p.Account.AccountID, m)

	// Step 3/4: look up the previous session timestamp before recording
	// this one, then record it (spec.md §4.6 steps 3-4).
	var previousSessionAt int64
	if p.Sessions != nil {
		previousSessionAt, _, _ = p.Sessions.PreviousSessionAt(ctx, sessionKey)
		_ = p.Sessions.RecordSession(ctx, sessionKey, m.TimestampMS)
	}

	payload := p.buildContextPayload(m, decision, sessionKey, previousSessionAt)
	_ = routeID // carried by the host's resolver internally; not part of the payload shape

	// Step 6: dispatch to the agent runtime.
	if p.Dispatch == nil {
		return nil
	}
	opts := hostapi.DispatchOptions{
		BlockStreaming: p.Account.Config.BlockStreaming,
		SkillFilter:    p.skillFilterFor(m),
	}
	return p.Dispatch.Dispatch(ctx, payload, opts, func(ctx context.Context, chunk string) error {
		if p.Deliver == nil {
			return nil
		}
		return p.Deliver(ctx, m.Target, chunk)
	})
}

func (p *Pipeline) buildPolicyInput(ctx context.Context, m Message) policy.Input {
	prefix := ""
	if p.Commands != nil {
		if pre, isCmd := p.Commands.Detect(m.Text); isCmd {
			// spec.md §4.4: a recognized prefix only authorizes a command
			// when the channel also allows text commands at all.
			if allowed, err := p.Commands.TextCommandsAllowed(ctx, p.Account.AccountID); err == nil && allowed {
				prefix = pre
			}
		}
	}

	localpart := p.Account.BareJID
	if at := strings.IndexByte(localpart, '@'); at >= 0 {
		localpart = localpart[:at]
	}

	patterns := append([]string{}, p.Account.Config.MentionPatterns...)
	if p.Mentions != nil {
		if dynamic, err := p.Mentions.BuildMentionPatterns(ctx, p.Account.AccountID, m.Target); err == nil {
			patterns = append(patterns, dynamic...)
		}
	}

	return policy.Input{
		IsGroup:          m.IsGroup,
		RoomJID:          m.Target,
		SenderBareJID:    m.SenderBareJID,
		SenderFullJID:    m.SenderJID,
		SenderNickname:   m.SenderNickname,
		Body:             m.Text,
		CommandPrefix:    prefix,
		AccountLocalpart: localpart,
		MentionPatterns:  patterns,
	}
}

// skillFilterFor resolves RoomConfig's Skills/Tools/ToolsBySender for m
// into the flat SkillFilter spec.md §4.6 step 6 passes through
// DispatchOptions: per-sender tools override the room's general list
// when a direct entry for the sender exists.
func (p *Pipeline) skillFilterFor(m Message) []string {
	if !m.IsGroup {
		return nil
	}
	room, ok := p.Account.Config.Rooms[m.Target]
	if !ok {
		return nil
	}
	if tools, ok := room.ToolsBySender[m.SenderBareJID]; ok {
		return tools
	}
	filter := append([]string{}, room.Skills...)
	filter = append(filter, room.Tools...)
	return filter
}

func sessionKeyFor(accountID string, m Message) string {
	return fmt.Sprintf("xmpp:%s:%s", accountID, m.Target)
}

// buildContextPayload is spec.md §4.6 step 5, including step 3's
// formatted agent envelope.
func (p *Pipeline) buildContextPayload(m Message, d policy.Decision, sessionKey string, previousSessionAt int64) hostapi.ContextPayload {
	chatType := "direct"
	from := "xmpp:" + m.SenderBareJID
	conversationLabel := m.SenderBareJID
	channelLabel := "xmpp:" + m.Target
	senderLabel := m.SenderBareJID
	if m.IsGroup {
		chatType = "group"
		from = "xmpp:room:" + m.Target
		conversationLabel = m.Target
		if m.SenderNickname != "" {
			senderLabel = m.SenderNickname
		}
	}

	var groupSubject, groupSystemPrompt string
	if m.IsGroup {
		if room, ok := p.Account.Config.Rooms[m.Target]; ok {
			groupSystemPrompt = room.SystemPrompt
		}
	}

	envelope := formatEnvelope(channelLabel, senderLabel, m.TimestampMS, previousSessionAt, m.Text)

	return hostapi.ContextPayload{
		Body:               m.Text,
		RawBody:            m.Text,
		CommandBody:        strings.TrimSpace(m.Text),
		From:               from,
		To:                 "xmpp:" + m.Target,
		SessionKey:         sessionKey,
		AccountID:          p.Account.AccountID,
		ChatType:           chatType,
		ConversationLabel:  conversationLabel,
		SenderName:         m.SenderNickname,
		SenderID:           m.SenderBareJID,
		GroupSubject:       groupSubject,
		GroupSystemPrompt:  groupSystemPrompt,
		Provider:           "xmpp",
		WasMentioned:       d.WasMentioned,
		MessageSID:         m.MessageID,
		Timestamp:          m.TimestampMS,
		OriginatingChannel: "xmpp",
		OriginatingTo:      m.Target,
		CommandAuthorized:  d.CommandAuthorized,
		Envelope:           envelope,
	}
}

// formatEnvelope builds spec.md §4.6 step 3's agent envelope: channel
// label, sender label, current timestamp, previous-session timestamp
// (or "none" when this session key has no prior record), and body.
func formatEnvelope(channelLabel, senderLabel string, currentMS, previousMS int64, body string) string {
	current := time.UnixMilli(currentMS).UTC().Format(time.RFC3339)
	previous := "none"
	if previousMS > 0 {
		previous = time.UnixMilli(previousMS).UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s] %s (now=%s, previous=%s): %s", channelLabel, senderLabel, current, previous, body)
}
