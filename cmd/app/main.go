package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rugs_go/internal/app"
	"rugs_go/internal/domain"
	"rugs_go/internal/engine"
	"rugs_go/internal/event"
	"rugs_go/internal/execution"
	"rugs_go/internal/feed"
	"rugs_go/internal/infra"
	"rugs_go/internal/normalize"
	"rugs_go/internal/reconcile"
	"rugs_go/internal/strategy"

	_ "net/http/pprof" // For pprof profiling
)

// strategyWindow is the price-history length the sidebet strategy warms up
// before it will fade a round.
const strategyWindow = 50

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Event bus + store subscription
	bus := event.NewBus(cfg.Bus.MailboxSize)
	bootstrap.Store.Start(ctx)
	bus.Subscribe("store", bootstrap.Store.HandleEvent)

	// 5. Reconciler + strategy + executor + decision engine
	rec := reconcile.New()

	exec, err := execution.New(cfg)
	if err != nil {
		slog.Error("❌ Executor setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("✅ Executor ready", slog.String("mode", exec.Name()))

	strat := strategy.NewSidebetStrategy(cfg.Engine.EntryTick, strategyWindow, cfg.Engine.Stake)

	var ledger engine.Ledger
	if bootstrap.Ledger != nil {
		ledger = bootstrap.Ledger
	}
	eng := engine.New(engine.Options{
		EntryTick:           cfg.Engine.EntryTick,
		Stake:               cfg.Engine.Stake,
		MaxActionsPerGame:   cfg.Engine.MaxActionsPerGame,
		ConfirmTimeoutTicks: cfg.Engine.ConfirmTimeoutTicks,
	}, strat, exec, rec, ledger, infra.GlobalMetrics)
	bus.Subscribe("decision", eng.HandleEvent)

	// 6. Feed ingest (normalizer is the frame sink)
	norm := normalize.New(bus, infra.GlobalMetrics)
	var client domain.FeedWorker = feed.NewClient(cfg.Feed.WSURL, cfg.Feed.Origin, cfg.Feed.AuthToken, norm, infra.GlobalMetrics)
	if err := client.Connect(ctx); err != nil {
		slog.Error("❌ Feed connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.InfoContext(ctx, "✅ Feed client started", slog.String("url", cfg.Feed.WSURL))

	// 7. Periodic status heartbeat
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := bootstrap.Store.Check(); err != nil {
					slog.Warn("Event store unhealthy", slog.Any("error", err))
				}
				snap := infra.GlobalMetrics.Snapshot()
				slog.Info("Status",
					slog.Bool("connected", snap.Connected),
					slog.String("store", bootstrap.Store.Status().String()),
					slog.Uint64("events", snap.EventsEmitted),
					slog.Uint64("placements", snap.Placements),
					slog.Uint64("timeouts", snap.Timeouts),
					slog.Uint64("bus_dropped", bus.Dropped()),
					slog.Uint64("store_dropped", bootstrap.Store.Dropped()))
			}
		}
	}()

	slog.InfoContext(ctx, "✨ Capture pipeline fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	client.Disconnect()
	bus.Close()
	bootstrap.Store.Close()
}
