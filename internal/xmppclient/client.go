// Package xmppclient drives one account's connection lifecycle: TCP/TLS
// transport, SASL negotiation, resource binding, presence, MUC auto-join,
// and stanza dispatch to the handlers the monitor layer installs.
package xmppclient

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/chatbridge/xmppchannel/internal/logging"
	"github.com/chatbridge/xmppchannel/internal/xerr"
	"github.com/chatbridge/xmppchannel/internal/xmppstanza"
)

// Default timeouts per spec.md §4.2.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultProbeTimeout   = 8 * time.Second
	mucJoinSettleDelay    = 500 * time.Millisecond
)

// MessageEvent is delivered for inbound <message/> stanzas carrying a
// non-empty body (spec.md §4.2).
type MessageEvent struct {
	Stanza xmppstanza.Message
}

// PresenceEvent is delivered for inbound <presence/> stanzas.
type PresenceEvent struct {
	From   string
	Type   string
	Show   string
	Status string
}

// Config configures a single account's client connection.
type Config struct {
	JID      string
	Password string
	Host     string // overrides the JID domain when set
	Port     int    // default 5222
	Resource string

	AutoJoinRooms  []string // bare room JIDs, without nickname
	RoomNickname   string   // nickname used for every auto-joined room
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration

	// Logger receives transport/auth/stanza-level diagnostics. New
	// constructs a stderr-only default when nil.
	Logger *logging.Logger
}

// Handlers are the upward event callbacks spec.md §4.2 names. Any may be
// nil; the client skips delivery rather than panicking.
type Handlers struct {
	OnOnline    func()
	OnOffline   func()
	OnError     func(err error)
	OnMessage   func(MessageEvent)
	OnPresence  func(PresenceEvent)
}

// Client is one account's XMPP connection and state machine
// (spec.md §4.2: Idle → Connecting → Authenticating → Bound → Online →
// Offline).
type Client struct {
	cfg Config
	h   Handlers

	mu    sync.RWMutex
	state State
	jid   jid.JID

	session *xmpp.Session
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a Client for cfg. It does not connect.
func New(cfg Config, h Handlers) (*Client, error) {
	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, xerr.New(xerr.KindConfig, "parse jid", err)
	}
	if cfg.Resource != "" {
		j, err = j.WithResource(cfg.Resource)
		if err != nil {
			return nil, xerr.New(xerr.KindConfig, "apply resource", err)
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 5222
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = logging.New(logging.Config{Console: true})
	}
	return &Client{cfg: cfg, h: h, state: Idle, jid: j}, nil
}

// State reports the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// JID returns the client's full bound JID, or the configured JID before
// binding completes.
func (c *Client) JID() jid.JID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jid
}

// Connect dials the server, negotiates TLS/SASL/bind, and on success
// enters Online: sends initial presence and auto-joins configured rooms.
// It blocks until the connection is established or ctx/the connect
// timeout expires; stanza dispatch continues in the background after
// Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(Connecting)

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	connectCtx, connectCancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer connectCancel()

	server := c.cfg.Host
	if server == "" {
		server = c.jid.Domain().String()
	}
	addr := net.JoinHostPort(server, strconv.Itoa(c.cfg.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		cancel()
		return xerr.New(xerr.KindTransport, "dial", err)
	}

	c.setState(Authenticating)

	tlsConfig := &tls.Config{
		ServerName: c.jid.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", c.cfg.Password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	session, err := xmpp.NewSession(connectCtx, c.jid.Domain(), c.jid, conn, 0, negotiator)
	if err != nil {
		conn.Close()
		cancel()
		return xerr.New(xerr.KindAuth, "negotiate session", err)
	}

	c.mu.Lock()
	c.session = session
	c.jid = session.LocalAddr()
	c.state = Bound
	c.mu.Unlock()

	go c.run()

	if err := c.goOnline(); err != nil {
		return err
	}

	return nil
}

// goOnline sends initial presence, marks the client Online, notifies the
// handler, and kicks off auto-join for configured rooms.
func (c *Client) goOnline() error {
	session := c.sessionRef()
	if session == nil {
		return xerr.New(xerr.KindTransport, "go online", fmt.Errorf("no session"))
	}

	if err := session.Encode(c.ctxRef(), stanza.Presence{}); err != nil {
		return xerr.New(xerr.KindTransport, "send initial presence", err)
	}

	c.setState(Online)
	if c.h.OnOnline != nil {
		c.h.OnOnline()
	}

	for _, room := range c.cfg.AutoJoinRooms {
		go c.joinRoomMUC(room)
	}

	return nil
}

func (c *Client) sessionRef() *xmpp.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) ctxRef() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// joinRoomMUC performs the three-step MUC JOIN PROTOCOL (spec.md §4.2):
// join presence, a cooperative 500ms settle wait, then an owner
// configuration submit that accepts defaults — a no-op for pre-existing
// rooms, and the unlock step for a room our join implicitly created
// (XEP-0045 §10.1 "201" case).
func (c *Client) joinRoomMUC(room string) {
	session := c.sessionRef()
	if session == nil {
		return
	}
	ctx := c.ctxRef()

	nick := c.cfg.RoomNickname
	if nick == "" {
		nick = c.jid.Localpart()
	}
	occupant := room + "/" + nick

	if err := session.Encode(ctx, xmppstanza.EncodeMUCJoin(occupant)); err != nil {
		c.reportError(xerr.New(xerr.KindTransport, "join room "+room, err))
		return
	}

	select {
	case <-time.After(mucJoinSettleDelay):
	case <-ctx.Done():
		return
	}

	idSuffix := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := session.Encode(ctx, xmppstanza.EncodeMUCConfigSubmit(room, idSuffix)); err != nil {
		c.reportError(xerr.New(xerr.KindTransport, "unlock room "+room, err))
	}
}

func (c *Client) reportError(err error) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Error("xmppclient[%s]: %v", c.cfg.JID, err)
	}
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

// run reads stanzas off the session until the context is cancelled or
// the stream ends. Stanza decode errors are logged and the stanza
// dropped; they never tear down the connection (spec.md §4.2). A
// transport-level read error (EOF, reset) does tear the connection down
// and surfaces offline/error.
func (c *Client) run() {
	session := c.sessionRef()
	ctx := c.ctxRef()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tok, err := session.TokenReader().Token()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "message":
			c.dispatchMessage(session, start)
		case "presence":
			c.dispatchPresence(session, start)
		case "iq":
			c.dispatchIQ(session, start)
		default:
			// Unknown top-level stanza; drain its subtree so the token
			// stream stays aligned on the next Token() call.
			_ = xml.NewTokenDecoder(session.TokenReader()).Skip()
		}
	}
}

func (c *Client) dispatchMessage(session *xmpp.Session, start xml.StartElement) {
	msg, err := xmppstanza.DecodeMessage(xml.NewTokenDecoder(session.TokenReader()), start)
	if err != nil {
		c.reportError(xerr.New(xerr.KindStanzaDecode, "decode message", err))
		return
	}
	if !msg.HasBody() {
		return
	}
	if c.h.OnMessage != nil {
		c.h.OnMessage(MessageEvent{Stanza: msg})
	}
}

func (c *Client) dispatchPresence(session *xmpp.Session, start xml.StartElement) {
	ev := PresenceEvent{}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "from":
			ev.From = attr.Value
		case "type":
			ev.Type = attr.Value
		}
	}
	// Decode the show/status children and drain the rest (e.g. MUC status
	// codes) so the reader stays aligned.
	var body struct {
		Show   string `xml:"show"`
		Status string `xml:"status"`
	}
	if err := xml.NewTokenDecoder(session.TokenReader()).DecodeElement(&body, &start); err != nil {
		c.reportError(xerr.New(xerr.KindStanzaDecode, "decode presence body", err))
		return
	}
	ev.Show = body.Show
	ev.Status = body.Status
	if c.h.OnPresence != nil {
		c.h.OnPresence(ev)
	}
}

// dispatchIQ handles the one IQ shape this adapter reacts to: an
// unsolicited roster push. The adapter does not synchronize a roster
// (a Non-goal), but a well-behaved client still acks the push per
// RFC 6121 §2.1.6 rather than leaving the server waiting on a reply it
// will retry.
func (c *Client) dispatchIQ(session *xmpp.Session, start xml.StartElement) {
	id, isPush, err := xmppstanza.IsRosterPush(xml.NewTokenDecoder(session.TokenReader()), start)
	if err != nil {
		c.reportError(xerr.New(xerr.KindStanzaDecode, "decode iq", err))
		return
	}
	if !isPush {
		return
	}
	if err := session.Encode(c.ctxRef(), xmppstanza.EncodeIQResult("", id)); err != nil {
		c.reportError(xerr.New(xerr.KindTransport, "ack roster push", err))
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setState(Offline)
	if err != nil && err != io.EOF {
		c.reportError(xerr.New(xerr.KindTransport, "read stanza", err))
	}
	if c.h.OnOffline != nil {
		c.h.OnOffline()
	}
}

// Stop gracefully closes the stream: an external cancellation signal
// per spec.md §4.2. Safe to call from any state.
func (c *Client) Stop() error {
	c.mu.Lock()
	session := c.session
	cancel := c.cancel
	ctx := c.ctx
	c.state = Offline
	c.mu.Unlock()

	if cancel != nil {
		defer cancel()
	}
	if session == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	_ = session.Encode(ctx, stanza.Presence{Type: stanza.UnavailablePresence})
	return session.Close()
}

// Send encodes v on the session. Callers (outbound, presence updates)
// use this directly; it is a thin pass-through so this package stays the
// single place that owns the session reference.
func (c *Client) Send(ctx context.Context, v interface{}) error {
	session := c.sessionRef()
	if session == nil {
		return xerr.New(xerr.KindTransport, "send", fmt.Errorf("not connected"))
	}
	return session.Encode(ctx, v)
}
