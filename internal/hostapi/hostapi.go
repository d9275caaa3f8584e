// Package hostapi describes the collaborator interfaces this adapter
// consumes from its host gateway (spec.md §6 "Host plugin API
// consumed") and the descriptor it exposes back (§6 "Plugin API
// exposed"). The host implements these; this package only declares the
// shapes so internal/inbound, internal/outbound, and internal/pairing
// can depend on interfaces instead of a concrete gateway.
package hostapi

import "context"

// PairingStore is the channel-agnostic pairing persistence the host
// owns, keyed by (channel, bareJid) per spec.md §3's Lifecycle note.
type PairingStore interface {
	UpsertPairingRequest(channel, bareJID string) (created bool, code string, err error)
	ReadAllowFrom(channel string) ([]string, error)
}

// SessionStore records inbound sessions under the resolved store path
// (spec.md §4.6 step 4).
type SessionStore interface {
	RecordSession(ctx context.Context, sessionKey string, at int64) error
	PreviousSessionAt(ctx context.Context, sessionKey string) (int64, bool, error)
}

// Peer identifies the conversation an inbound message belongs to
// (spec.md §4.6 step 2).
type Peer struct {
	Kind string // "group" or "direct"
	ID   string
}

// RoutingResolver resolves which agent route handles a given
// (channel, accountId, peer) triple.
type RoutingResolver interface {
	ResolveRoute(ctx context.Context, channel, accountID string, peer Peer) (routeID string, err error)
}

// ActivityRecorder logs inbound/outbound activity to the shared ledger
// (spec.md §4.6 step 1, §4.7 last step).
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, channel, accountID, direction string, at int64) error
}

// MentionPatternBuilder builds the effective set of mention patterns for
// a room, beyond the literal strings in AccountConfig.MentionPatterns (e.g.
// derived from a display name or alias list the host tracks).
type MentionPatternBuilder interface {
	BuildMentionPatterns(ctx context.Context, accountID, roomJID string) ([]string, error)
}

// CommandGate detects a recognized command prefix in a message body and
// reports whether the channel allows text commands at all.
type CommandGate interface {
	Detect(body string) (prefix string, isCommand bool)
	TextCommandsAllowed(ctx context.Context, accountID string) (bool, error)
}

// MarkdownConverter converts markdown tables to the plaintext mode
// spec.md §4.7 requires for outbound text.
type MarkdownConverter interface {
	TablesToPlaintext(markdown string) string
}

// BlockStreamingDispatcher dispatches an inbound context payload to the
// agent runtime, invoking deliver for each reply chunk (spec.md §4.6
// step 6).
type BlockStreamingDispatcher interface {
	Dispatch(ctx context.Context, payload ContextPayload, opts DispatchOptions, deliver func(ctx context.Context, chunk string) error) error
}

// DispatchOptions carries the per-room dispatch configuration spec.md
// §4.6 step 6 names.
type DispatchOptions struct {
	SkillFilter    []string
	Model          func(ctx context.Context) (string, error)
	BlockStreaming bool
}

// ContextPayload is the full set of keys spec.md §4.6 step 5 names.
type ContextPayload struct {
	Body               string
	RawBody            string
	CommandBody        string
	From               string // "xmpp:room:<jid>" | "xmpp:<bareJid>"
	To                 string // "xmpp:<peer>"
	SessionKey         string
	AccountID          string
	ChatType           string // "group" | "direct"
	ConversationLabel  string
	SenderName         string
	SenderID           string
	GroupSubject       string
	GroupSystemPrompt  string
	Provider           string // always "xmpp"
	WasMentioned       bool
	MessageSID         string
	Timestamp          int64
	OriginatingChannel string // always "xmpp"
	OriginatingTo      string
	CommandAuthorized  bool

	// Envelope is the formatted agent envelope spec.md §4.6 step 3 names:
	// channel label, sender label, current timestamp, previous-session
	// timestamp (when any prior session exists for this key), and body.
	Envelope string
}

// Capabilities mirror spec.md §6's exposed plugin descriptor.
type Capabilities struct {
	ChatTypes      []string
	Media          bool
	BlockStreaming bool
	Edit           bool
	Reply          bool
}

// DefaultCapabilities is the fixed capability set this adapter exposes.
var DefaultCapabilities = Capabilities{
	ChatTypes:      []string{"direct", "group"},
	Media:          true,
	BlockStreaming: true,
	Edit:           true,
	Reply:          true,
}

// PluginID is the id this channel registers under (spec.md §6: `id=xmpp`).
const PluginID = "xmpp"
