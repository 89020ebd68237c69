package app

import (
	"log/slog"
	"os"
	"time"

	"rugs_go/internal/infra"
	"rugs_go/internal/infra/storage"
	"rugs_go/internal/store"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config *infra.Config
	Ledger *storage.Ledger
	Store  *store.Store
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, storage).
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping rugs capture...")

	// 1. Load Config
	path := os.Getenv("RUGS_CONFIG")
	if path == "" {
		path = "configs/config.yaml"
	}
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Wager ledger (SQLite)
	if cfg.Data.DBPath != "" {
		ledger, err := storage.Open(cfg.Data.DBPath)
		if err != nil {
			return err
		}
		b.Ledger = ledger
		slog.Info("✅ Wager ledger initialized", slog.String("path", cfg.Data.DBPath))
	}

	// 4. Event store (partitioned batch files)
	st, err := store.New(
		cfg.Data.Root,
		cfg.Data.QueueSize,
		cfg.Data.BatchSize,
		time.Duration(cfg.Data.FlushIntervalMS)*time.Millisecond,
		infra.GlobalMetrics,
	)
	if err != nil {
		return err
	}
	b.Store = st
	slog.Info("✅ Event store initialized", slog.String("root", cfg.Data.Root))

	return nil
}
