// Package outbound formats and routes text to the correct stanza type
// and transport, per spec.md §4.7.
package outbound

import (
	"context"
	"errors"
	"strings"

	"github.com/chatbridge/xmppchannel/internal/hostapi"
	"github.com/chatbridge/xmppchannel/internal/jidutil"
	"github.com/chatbridge/xmppchannel/internal/xerr"
	"github.com/chatbridge/xmppchannel/internal/xmppstanza"
)

var errNoTransientFactory = errors.New("no client supplied and no transient client factory configured")

// Client is the subset of xmppclient.Client outbound needs: enough to
// send a message. It exposes no readiness check, so SendMessage uses a
// supplied client as-is, whatever its connection state.
type Client interface {
	Send(ctx context.Context, v interface{}) error
}

// ClientFactory opens a transient client when no live one is supplied,
// and returns a stop function to close it afterward (spec.md §4.7:
// "otherwise open a transient client, send, then stop it").
type ClientFactory func(ctx context.Context) (Client, func() error, error)

// Options are the optional per-send parameters spec.md §4.7 names.
type Options struct {
	AccountID string
	ReplyTo   string
	Client    Client // live client to reuse; nil opens a transient one
}

// Sender sends outbound text, converting markdown and choosing chat vs
// groupchat per spec.md §4.7.
type Sender struct {
	Markdown       hostapi.MarkdownConverter
	Activity       hostapi.ActivityRecorder
	NewTransient   ClientFactory
	AccountBareJID string // this account's own bare JID; SendMessage does not read it
	IsRoomJID      func(string) bool
}

func (s *Sender) isRoomJID(j string) bool {
	if s.IsRoomJID != nil {
		return s.IsRoomJID(j)
	}
	return jidutil.IsRoomJID(j)
}

// SendMessage implements spec.md §4.7's sendMessage(to, text, opts).
func (s *Sender) SendMessage(ctx context.Context, to, text string, opts Options) error {
	target, ok := jidutil.Bare(stripTargetPrefix(to))
	if !ok {
		return xerr.New(xerr.KindInvalidTarget, "resolve target", nil)
	}

	body := text
	if s.Markdown != nil {
		body = s.Markdown.TablesToPlaintext(body)
	}
	if opts.ReplyTo != "" {
		body += "\n\n[reply:" + opts.ReplyTo + "]"
	}

	msgType := "chat"
	if s.isRoomJID(target) {
		msgType = "groupchat"
	}

	client := opts.Client
	if client == nil {
		if s.NewTransient == nil {
			return xerr.New(xerr.KindTransport, "send message", errNoTransientFactory)
		}
		c, stop, err := s.NewTransient(ctx)
		if err != nil {
			return xerr.New(xerr.KindTransport, "open transient client", err)
		}
		defer stop()
		client = c
	}

	if err := client.Send(ctx, xmppstanza.EncodeMessage(target, body, msgType)); err != nil {
		return xerr.New(xerr.KindTransport, "send stanza", err)
	}

	if s.Activity != nil {
		_ = s.Activity.RecordActivity(ctx, "xmpp", opts.AccountID, "outbound", 0)
	}

	return nil
}

// stripTargetPrefix strips one recognized target-string prefix
// (xmpp:, user:, room:), per spec.md §6's target-string syntax.
func stripTargetPrefix(to string) string {
	to = strings.TrimSpace(to)
	for _, p := range []string{"xmpp:", "user:", "room:"} {
		if strings.HasPrefix(to, p) {
			return strings.TrimPrefix(to, p)
		}
	}
	return to
}
