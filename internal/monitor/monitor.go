// Package monitor binds one account's XMPP client to the inbound
// pipeline and outbound sender, translating client events into inbound
// pipeline calls (spec.md §2, §5). Each Monitor is one logical task:
// stanzas from its account are processed in receive order, serialized,
// while dispatch to the agent runtime may run in parallel across
// accounts (spec.md §5 "Ordering").
package monitor

import (
	"context"
	"time"

	"github.com/chatbridge/xmppchannel/internal/inbound"
	"github.com/chatbridge/xmppchannel/internal/jidutil"
	"github.com/chatbridge/xmppchannel/internal/logging"
	"github.com/chatbridge/xmppchannel/internal/outbound"
	"github.com/chatbridge/xmppchannel/internal/presence"
	"github.com/chatbridge/xmppchannel/internal/xmppclient"
)

// Monitor owns one account's client and pipeline wiring.
type Monitor struct {
	AccountID string
	Client    *xmppclient.Client
	Pipeline  *inbound.Pipeline
	Outbound  *outbound.Sender
	Presence  *presence.Tracker
	Logger    *logging.Logger

	inboundQueue chan inbound.Message
	done         chan struct{}
}

// New builds a Monitor whose Handlers feed its serialized inbound
// queue; it neither installs those handlers on client nor starts it.
// logger may be nil, in which case Monitor's diagnostics are dropped
// silently.
func New(accountID string, client *xmppclient.Client, pipeline *inbound.Pipeline, sender *outbound.Sender, logger *logging.Logger) *Monitor {
	m := &Monitor{
		AccountID:    accountID,
		Client:       client,
		Pipeline:     pipeline,
		Outbound:     sender,
		Presence:     presence.NewTracker(),
		Logger:       logger,
		inboundQueue: make(chan inbound.Message, 64),
		done:         make(chan struct{}),
	}
	if pipeline.Deliver == nil && sender != nil {
		pipeline.Deliver = func(ctx context.Context, target, chunk string) error {
			return sender.SendMessage(ctx, target, chunk, outbound.Options{AccountID: accountID, Client: m.Client})
		}
	}
	return m
}

func (m *Monitor) logInfo(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Info(format, args...)
	}
}

func (m *Monitor) logWarn(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Warn(format, args...)
	}
}

// Handlers returns the xmppclient.Handlers this monitor installs on its
// client; callers build the client with these so events route here.
func (m *Monitor) Handlers() xmppclient.Handlers {
	return xmppclient.Handlers{
		OnOnline:   func() { m.logInfo("monitor[%s]: online", m.AccountID) },
		OnOffline:  func() { m.logWarn("monitor[%s]: offline", m.AccountID); m.Presence.Clear() },
		OnError:    func(err error) { m.logWarn("monitor[%s]: error: %v", m.AccountID, err) },
		OnMessage:  m.onMessage,
		OnPresence: m.onPresence,
	}
}

// onMessage translates a client MessageEvent into an inbound.Message
// and enqueues it for serialized processing.
func (m *Monitor) onMessage(ev xmppclient.MessageEvent) {
	s := ev.Stanza
	isGroup := jidutil.IsRoomJID(s.From)

	target := s.From
	senderBare := s.From
	senderFull := s.From
	nickname := ""
	if isGroup {
		if bare, ok := jidutil.Bare(s.From); ok {
			target = bare
			senderBare = bare
		}
		nickname = jidutil.OccupantNickname(s.From)
	} else if bare, ok := jidutil.Bare(s.From); ok {
		senderBare = bare
		target = bare
	}

	if m.Logger != nil && (s.CorrectionID != "" || s.ReplyTo != "") {
		m.Logger.Debug("monitor[%s]: message %s correction=%q reply=%q", m.AccountID, s.ID, s.CorrectionID, s.ReplyTo)
	}

	ts := s.DelayStamp
	if ts.IsZero() {
		ts = time.Now()
	}

	select {
	case m.inboundQueue <- inbound.Message{
		MessageID:      s.ID,
		Target:         target,
		RawTarget:      s.From,
		SenderJID:      senderFull,
		SenderBareJID:  senderBare,
		SenderNickname: nickname,
		Text:           s.Body,
		TimestampMS:    ts.UnixMilli(),
		IsGroup:        isGroup,
		StanzaID:       s.ID,
	}:
	case <-m.done:
	}
}

func (m *Monitor) onPresence(ev xmppclient.PresenceEvent) {
	bare, ok := jidutil.Bare(ev.From)
	if !ok {
		return
	}
	available := ev.Type != "unavailable"
	m.Presence.Update(bare, available, "", ev.Show, 0, time.Now())
}

// Run processes the inbound queue in receive order until ctx is
// cancelled. It is the single logical task this account owns; call it
// once per Monitor, typically from its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.inboundQueue:
			if err := m.Pipeline.Handle(ctx, msg); err != nil {
				m.logWarn("monitor[%s]: inbound pipeline error: %v", m.AccountID, err)
			}
		}
	}
}
