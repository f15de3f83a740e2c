// Command bluealsad runs the SCO transport engine daemon: one dispatcher per
// configured adapter, accepting inbound HFP/HSP SCO links and handing them
// to transports registered by the (out-of-scope) control-plane RPC layer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bluealsa-go/bluealsad/pkg/config"
	"github.com/bluealsa-go/bluealsad/pkg/sco"
)

func main() {
	configPath := flag.String("c", "/etc/bluealsad.ini", "configuration file path")
	debug := flag.Bool("d", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("bluealsad: failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := sco.NewRegistry(logger)
	registry.SetTimeouts(sco.Timeouts{
		DrainMs:  cfg.DrainTimeout,
		LingerMs: cfg.LingerTimeout,
		CloseMs:  cfg.CloseTimeout,
	})
	collab := newStaticCollaborators()

	for i, adapter := range cfg.Adapters {
		adapterID := uint16(i)
		if err := registry.StartDispatcher(ctx, adapterID, 0, adapter.Wideband, collab); err != nil {
			logger.Error("bluealsad: dispatcher startup failed", "adapter", adapter.Name, "err", err)
			continue
		}
		logger.Info("bluealsad: dispatcher started", "adapter", adapter.Name, "wideband", adapter.Wideband)
	}

	<-ctx.Done()
	logger.Info("bluealsad: shutting down")
	registry.Shutdown()
}
