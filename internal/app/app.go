// Package app wires one gateway process together: configured accounts,
// resolved via internal/account, each get a policy engine, a pairing
// notifier, an outbound sender, an inbound pipeline and a monitor
// binding that pipeline to an internal/xmppclient.Client. App is the
// hostapi.ChannelPlugin this adapter exposes to its gateway host.
package app

import (
	"context"
	"sync"

	"github.com/chatbridge/xmppchannel/internal/account"
	"github.com/chatbridge/xmppchannel/internal/config"
	"github.com/chatbridge/xmppchannel/internal/hostapi"
	"github.com/chatbridge/xmppchannel/internal/inbound"
	"github.com/chatbridge/xmppchannel/internal/jidutil"
	"github.com/chatbridge/xmppchannel/internal/logging"
	"github.com/chatbridge/xmppchannel/internal/monitor"
	"github.com/chatbridge/xmppchannel/internal/outbound"
	"github.com/chatbridge/xmppchannel/internal/pairing"
	"github.com/chatbridge/xmppchannel/internal/policy"
	"github.com/chatbridge/xmppchannel/internal/xmppclient"
)

// App is the top-level object a gateway host starts and stops.
type App struct {
	cfg    *config.Config
	host   hostapi.Host
	logger *logging.Logger

	mu       sync.Mutex
	monitors map[string]*monitor.Monitor
	clients  map[string]*xmppclient.Client
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New builds an App from cfg. It does not connect any account; call
// Start for that. logger may be nil, in which case App and its monitors
// drop their diagnostics silently and each client falls back to its own
// stderr logger (see xmppclient.Config.Logger).
func New(cfg *config.Config, logger *logging.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		monitors: make(map[string]*monitor.Monitor),
		clients:  make(map[string]*xmppclient.Client),
		cancels:  make(map[string]context.CancelFunc),
	}
}

func (a *App) logWarn(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Warn(format, args...)
	}
}

// ID implements hostapi.ChannelPlugin.
func (a *App) ID() string { return hostapi.PluginID }

// Capabilities implements hostapi.ChannelPlugin.
func (a *App) Capabilities() hostapi.Capabilities { return hostapi.DefaultCapabilities }

// Start implements hostapi.ChannelPlugin: it resolves every configured
// account and, for each enabled one, connects a client and starts its
// monitor. A single account failing to connect is logged and skipped
// rather than aborting the others (spec.md §5 "Ordering" is per-account;
// one account's failure must not block the rest).
func (a *App) Start(ctx context.Context, host hostapi.Host) error {
	a.host = host

	for _, id := range account.ListAccountIDs(a.cfg) {
		acct, err := account.Resolve(a.cfg, id)
		if err != nil {
			a.logWarn("app: resolve account %s: %v", id, err)
			continue
		}
		if !acct.Enabled || !acct.Configured {
			continue
		}
		if err := a.startAccount(ctx, acct); err != nil {
			a.logWarn("app: start account %s: %v", acct.AccountID, err)
		}
	}

	return nil
}

func (a *App) startAccount(ctx context.Context, acct account.Account) error {
	policyEngine := &policy.Engine{Account: acct, Pairing: a.host}

	sender := &outbound.Sender{
		Markdown:       a.host,
		Activity:       a.host,
		AccountBareJID: acct.BareJID,
	}

	pipeline := &inbound.Pipeline{
		Account:  acct,
		Policy:   policyEngine,
		Activity: a.host,
		Sessions: a.host,
		Routing:  a.host,
		Dispatch: a.host,
		Mentions: a.host,
		Commands: a.host,
	}

	mon := monitor.New(acct.AccountID, nil, pipeline, sender, a.logger)
	pipeline.Pairing = &pairing.Notifier{
		Store: a.host,
		Sender: senderFunc(func(ctx context.Context, to, text string) error {
			return sender.SendMessage(ctx, to, text, outbound.Options{
				AccountID: acct.AccountID,
				Client:    mon.Client,
			})
		}),
	}

	clientCfg := xmppclient.Config{
		JID:           acct.BareJID,
		Password:      acct.Password,
		Host:          acct.Host,
		Port:          acct.Port,
		Resource:      acct.Resource,
		AutoJoinRooms: acct.Config.AutoJoinRooms,
		Logger:        a.logger,
	}

	client, err := xmppclient.New(clientCfg, mon.Handlers())
	if err != nil {
		return err
	}
	mon.Client = client
	sender.NewTransient = func(ctx context.Context) (outbound.Client, func() error, error) {
		return client, func() error { return nil }, nil
	}
	sender.IsRoomJID = jidutil.IsRoomJID

	accountCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.monitors[acct.AccountID] = mon
	a.clients[acct.AccountID] = client
	a.cancels[acct.AccountID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		mon.Run(accountCtx)
	}()

	return client.Connect(accountCtx)
}

// Stop implements hostapi.ChannelPlugin: it cancels every account's
// monitor, closes every client's stream, and waits for every monitor's
// Run loop to return. Messages still waiting in a monitor's inbound
// queue at that point are not processed.
func (a *App) Stop() error {
	a.mu.Lock()
	cancels := a.cancels
	clients := a.clients
	a.cancels = make(map[string]context.CancelFunc)
	a.clients = make(map[string]*xmppclient.Client)
	a.monitors = make(map[string]*monitor.Monitor)
	a.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for id, client := range clients {
		if err := client.Stop(); err != nil {
			a.logWarn("app: stop account %s: %v", id, err)
		}
	}
	a.wg.Wait()
	return nil
}

// senderFunc adapts a plain function to pairing.Sender.
type senderFunc func(ctx context.Context, to, text string) error

func (f senderFunc) SendMessage(ctx context.Context, to, text string) error {
	return f(ctx, to, text)
}
