// Command xmppchanneld runs the XMPP channel adapter as a standalone
// process: it loads configuration, attaches a devstore-backed
// hostapi.Host (or, with -plugin, exposes itself as a go-plugin
// ChannelPlugin for a real gateway to load instead), and runs until
// interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatbridge/xmppchannel/internal/account"
	"github.com/chatbridge/xmppchannel/internal/app"
	"github.com/chatbridge/xmppchannel/internal/config"
	"github.com/chatbridge/xmppchannel/internal/devstore"
	"github.com/chatbridge/xmppchannel/internal/hostapi"
	"github.com/chatbridge/xmppchannel/internal/logging"
)

func main() {
	plugin := flag.Bool("plugin", false, "serve as a go-plugin ChannelPlugin instead of running standalone")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("xmppchanneld: load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		log.Fatalf("xmppchanneld: init logger: %v", err)
	}
	defer logger.Close()

	// spec.md §6/§7: dmPolicy=open without "*" in allowFrom is rejected
	// here, not silently accepted per-account at connect time.
	if errs := account.Validate(cfg); len(errs) > 0 {
		for _, verr := range errs {
			logger.Error("xmppchanneld: config validation: %v", verr)
		}
		os.Exit(1)
	}

	application := app.New(cfg, logger)

	if *plugin {
		// hostapi.Serve blocks serving the go-plugin handshake to the
		// gateway process that loaded us. Its gRPC service is a stub, so
		// in this mode application.Start is not called and no Host is
		// received.
		hostapi.Serve(application)
		return
	}

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		logger.Error("xmppchanneld: create data dir: %v", err)
		os.Exit(1)
	}
	store, err := devstore.New(cfg.General.DataDir)
	if err != nil {
		logger.Error("xmppchanneld: open devstore: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx, store); err != nil {
		logger.Error("xmppchanneld: start: %v", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("xmppchanneld: shutting down")
	if err := application.Stop(); err != nil {
		logger.Error("xmppchanneld: stop: %v", err)
	}
}
