// Package xmppstanza encodes and decodes the XMPP stanza shapes this
// adapter needs: plain messages, XEP-0045 MUC presence, XEP-0085 chat
// states, XEP-0184 receipts, XEP-0203 delayed delivery, XEP-0308
// corrections, and XEP-0461 reply markers.
package xmppstanza

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/google/uuid"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// Namespaces used by the decoders/encoders in this package.
const (
	NSMUC         = "http://jabber.org/protocol/muc"
	NSMUCOwner    = "http://jabber.org/protocol/muc#owner"
	NSMUCUser     = "http://jabber.org/protocol/muc#user"
	NSChatStates  = "http://jabber.org/protocol/chatstates"
	NSReceipts    = "urn:xmpp:receipts"
	NSDelay       = "urn:xmpp:delay"
	NSCorrect     = "urn:xmpp:message-correct:0"
	NSReply       = "urn:xmpp:reply:0"
	NSDataForm    = "jabber:x:data"
)

// ChatState is the XEP-0085 state of a chat participant.
type ChatState string

const (
	StateComposing ChatState = "composing"
	StatePaused    ChatState = "paused"
	StateActive    ChatState = "active"
	StateInactive  ChatState = "inactive"
	StateGone      ChatState = "gone"
)

// Message is the decoded form of an inbound <message/> stanza, carrying
// only the fields spec.md §4.1 names.
type Message struct {
	From string
	To   string
	ID   string
	Type string // chat, groupchat, normal, headline, error
	Body string

	// DelayStamp is the XEP-0203 delayed-delivery timestamp, zero if absent.
	DelayStamp time.Time
	// CorrectionID is the XEP-0308 id of the message being replaced, "" if absent.
	CorrectionID string
	// ReplyTo is the XEP-0461 thread-origin address, "" if absent.
	ReplyTo string
}

type delayElement struct {
	XMLName xml.Name `xml:"urn:xmpp:delay delay"`
	Stamp   string   `xml:"stamp,attr"`
}

type replaceElement struct {
	XMLName xml.Name `xml:"urn:xmpp:message-correct:0 replace"`
	ID      string   `xml:"id,attr"`
}

type replyElement struct {
	XMLName xml.Name `xml:"urn:xmpp:reply:0 reply"`
	To      string   `xml:"to,attr"`
	ID      string   `xml:"id,attr"`
}

// rawMessage mirrors the subset of <message/> children this adapter reads.
type rawMessage struct {
	stanza.Message
	Body     string          `xml:"body"`
	Delay    *delayElement   `xml:"urn:xmpp:delay delay"`
	Replace  *replaceElement `xml:"urn:xmpp:message-correct:0 replace"`
	Reply    *replyElement   `xml:"urn:xmpp:reply:0 reply"`
}

// DecodeMessage decodes a <message/> element previously read as start into
// a Message. A decode error is the caller's signal to drop the stanza and
// keep going (spec.md §4.2 "stanza decode errors are logged and the
// stanza dropped, never fatal") — it is never returned to the transport
// as fatal.
func DecodeMessage(d *xml.Decoder, start xml.StartElement) (Message, error) {
	var raw rawMessage
	if err := d.DecodeElement(&raw, &start); err != nil {
		return Message{}, err
	}

	m := Message{
		From: raw.Message.From.String(),
		To:   raw.Message.To.String(),
		ID:   raw.Message.ID,
		Type: string(raw.Message.Type),
		Body: raw.Body,
	}

	if raw.Delay != nil {
		if t, err := time.Parse(time.RFC3339, raw.Delay.Stamp); err == nil {
			m.DelayStamp = t
		}
	}
	if raw.Replace != nil {
		m.CorrectionID = raw.Replace.ID
	}
	if raw.Reply != nil {
		m.ReplyTo = raw.Reply.To
	}

	return m, nil
}

// HasBody reports whether a decoded message carries non-empty text; per
// spec.md §4.2, message events are only delivered upward when true.
func (m Message) HasBody() bool {
	return strings.TrimSpace(m.Body) != ""
}

// NewMessageID returns a fresh UUID v4 for use as a stanza id, per
// spec.md §4.1.
func NewMessageID() string {
	return uuid.NewString()
}

// EncodeMessage builds a <message/> element ready to send: to, a fresh
// id, the given type, and body trimmed of leading/trailing whitespace
// (internal newlines are preserved verbatim per spec.md §4.1).
func EncodeMessage(to, body, msgType string) rawMessage {
	return rawMessage{
		Message: stanza.Message{
			To:   mustJID(to),
			ID:   NewMessageID(),
			Type: stanza.MessageType(msgType),
		},
		Body: strings.Trim(body, "\n\t "),
	}
}

type chatStateElement struct {
	XMLName xml.Name
}

// EncodeChatState builds a <message type=chat><{state}/></message>
// stanza per XEP-0085 (spec.md §4.1).
func EncodeChatState(to string, state ChatState) interface{} {
	type chatStateMessage struct {
		stanza.Message
		State chatStateElement
	}
	return chatStateMessage{
		Message: stanza.Message{To: mustJID(to), Type: stanza.ChatMessage},
		State:   chatStateElement{XMLName: xml.Name{Space: NSChatStates, Local: string(state)}},
	}
}

type receivedElement struct {
	XMLName xml.Name `xml:"urn:xmpp:receipts received"`
	ID      string   `xml:"id,attr"`
}

// EncodeReceipt builds a XEP-0184 <received/> acknowledgement for id
// (spec.md §4.1).
func EncodeReceipt(to, id string) interface{} {
	type receiptMessage struct {
		stanza.Message
		Received receivedElement
	}
	return receiptMessage{
		Message:  stanza.Message{To: mustJID(to)},
		Received: receivedElement{ID: id},
	}
}

// EncodePresence builds a <presence/> stanza with the optional fields
// spec.md §4.1 lists.
func EncodePresence(presenceType, to, status, show string) interface{} {
	type presenceWithStatus struct {
		stanza.Presence
		Show   string `xml:"show,omitempty"`
		Status string `xml:"status,omitempty"`
	}
	p := presenceWithStatus{
		Presence: stanza.Presence{Type: stanza.PresenceType(presenceType)},
		Show:     show,
		Status:   status,
	}
	if to != "" {
		p.Presence.To = mustJID(to)
	}
	return p
}

type mucJoin struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/muc x"`
}

// EncodeMUCJoin builds step 1 of the MUC JOIN PROTOCOL (spec.md §4.2):
// <presence to="room/nick"><x xmlns=.../muc/></presence>.
func EncodeMUCJoin(occupantJID string) interface{} {
	type joinPresence struct {
		stanza.Presence
		X mucJoin
	}
	return joinPresence{
		Presence: stanza.Presence{To: mustJID(occupantJID)},
		X:        mucJoin{},
	}
}

type dataForm struct {
	XMLName xml.Name `xml:"jabber:x:data x"`
	Type    string   `xml:"type,attr"`
}

type mucOwnerQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/muc#owner query"`
	Form    dataForm `xml:"jabber:x:data x"`
}

// EncodeMUCConfigSubmit builds step 3 of the MUC JOIN PROTOCOL: the
// owner-configuration submit IQ that unlocks a newly created room by
// accepting its defaults (spec.md §4.2, XEP-0045 §10.1). idSuffix should
// be a monotonically distinguishing value (e.g. a timestamp) so the IQ
// id is unique per room join.
func EncodeMUCConfigSubmit(room, idSuffix string) interface{} {
	type ownerConfigIQ struct {
		stanza.IQ
		Query mucOwnerQuery
	}
	return ownerConfigIQ{
		IQ: stanza.IQ{
			To:   mustJID(room),
			Type: stanza.SetIQ,
			ID:   "cfg-" + idSuffix,
		},
		Query: mucOwnerQuery{
			Form: dataForm{Type: "submit"},
		},
	}
}

// RosterPushNS is the roster query namespace an unsolicited roster-push
// IQ set carries (RFC 6121 §2.1.6); the adapter does not synchronize a
// roster (a spec.md Non-goal) but still acks these so a server doesn't
// treat the stream as unresponsive.
const RosterPushNS = "jabber:iq:roster"

type rawIQ struct {
	stanza.IQ
	RosterQuery *struct {
		XMLName xml.Name `xml:"jabber:iq:roster query"`
	} `xml:"jabber:iq:roster query"`
}

// IsRosterPush reports whether start/d describe an unsolicited
// roster-push IQ set, decoding it in the process; id is the IQ id the
// caller must ack with EncodeIQResult.
func IsRosterPush(d *xml.Decoder, start xml.StartElement) (id string, isPush bool, err error) {
	var raw rawIQ
	if err := d.DecodeElement(&raw, &start); err != nil {
		return "", false, err
	}
	if raw.IQ.Type != stanza.SetIQ || raw.RosterQuery == nil {
		return raw.IQ.ID, false, nil
	}
	return raw.IQ.ID, true, nil
}

// EncodeIQResult builds an empty <iq type="result"/> acknowledging id,
// addressed to, per RFC 6120 §8.2.3.
func EncodeIQResult(to, id string) interface{} {
	return stanza.IQ{
		To:   mustJID(to),
		Type: stanza.ResultIQ,
		ID:   id,
	}
}

// mustJID parses s, returning the zero JID on failure. Callers that need
// to surface parse errors to the caller should validate with jidutil
// before reaching the encoders in this package. Not every caller does:
// xmppclient acks roster pushes with an empty to and builds MUC occupant
// JIDs itself.
func mustJID(s string) jid.JID {
	parsed, err := jid.Parse(s)
	if err != nil {
		return jid.JID{}
	}
	return parsed
}
