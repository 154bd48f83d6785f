// Package app wires the configured pieces into a running player tab or
// a standalone bridge.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/bridge"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/bus"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/config"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/engine"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/identity"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/resolver"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/session"
)

type Options struct {
	ConfigPath string

	// When set, run only the websocket bridge on this address instead
	// of a player tab.
	BridgeAddr string
}

// Run starts the process and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.BridgeAddr != "" {
		log.Printf("APP: bridge listening on %s", opts.BridgeAddr)
		return bridge.Run(ctx, opts.BridgeAddr)
	}

	cfg, created, err := config.Ensure(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if created {
		log.Printf("APP: wrote default config to %s", opts.ConfigPath)
	}

	tabID := identity.LoadOrCreate(cfg.Identity.TabFile)
	log.Printf("APP: tab %s starting (bus=%s)", tabID, cfg.Bus.Kind)

	b, err := openBus(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	mgr := session.New(session.Options{
		TabID:                tabID,
		Bus:                  b,
		Engine:               engine.NewMemory(),
		Resolver:             resolver.NewClient(cfg.Backend.BaseURL, time.Duration(cfg.Backend.TimeoutSec)*time.Second),
		ProgressInterval:     cfg.Replication.ProgressInterval(),
		RequestStateAttempts: cfg.Replication.RequestStateAttempts,
		RequestStateInterval: cfg.Replication.RequestStateInterval(),
		ProbeTimeout:         cfg.Replication.ProbeTimeout(),
	})
	mgr.Run(ctx)

	if err := config.Watch(ctx, opts.ConfigPath, func(c config.Config) {
		mgr.SetProgressInterval(c.Replication.ProgressInterval())
	}); err != nil {
		log.Printf("APP: config watch disabled: %v", err)
	}

	<-ctx.Done()

	// Announce departure before tearing the carrier down so mirrors can
	// latch no-owner instead of timing out.
	mgr.Close()
	if b != nil {
		b.Close()
	}
	log.Printf("APP: tab %s stopped", tabID)
	return nil
}

func openBus(ctx context.Context, c config.Bus) (bus.Bus, error) {
	switch c.Kind {
	case "none":
		return nil, nil
	case "memory":
		// Single-process carrier, useful for local experiments.
		return bus.NewHub().Attach(), nil
	case "ws":
		return bus.DialBridge(ctx, c.BridgeURL)
	case "pubsub":
		return bus.NewPubSub(ctx, c.ListenPort, c.Topic, c.Bootstrap)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", c.Kind)
	}
}
