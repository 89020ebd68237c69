package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rugs_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// WagerRecord is one terminal wager outcome.
type WagerRecord struct {
	ActionID   string    `gorm:"primaryKey" json:"action_id"`
	GameID     string    `gorm:"index" json:"game_id"`
	Kind       string    `json:"kind"`
	Amount     string    `json:"amount"`
	PlacedTick int64     `json:"placed_tick"`
	EndTick    int64     `json:"end_tick"`
	Status     string    `gorm:"index" json:"status"`
	Payout     string    `json:"payout"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// GameRound is one finished round summary.
type GameRound struct {
	GameID    string    `gorm:"primaryKey" json:"game_id"`
	EndTick   int64     `json:"end_tick"`
	PeakPrice float64   `json:"peak_price"`
	Rugged    bool      `json:"rugged"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger persists wager outcomes and round summaries to SQLite.
type Ledger struct {
	db *gorm.DB
}

// Open creates the ledger at the given path, creating directories and
// migrating the schema as needed.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go SQLite
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&WagerRecord{}, &GameRound{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Ledger{db: db}, nil
}

// WagerSettled implements engine.Ledger. Persistence failures are logged,
// never propagated into the decision path.
func (l *Ledger) WagerSettled(action domain.PendingAction, window domain.WagerWindow, payout decimal.Decimal, latency time.Duration) {
	rec := WagerRecord{
		ActionID:   action.ActionID,
		GameID:     action.GameID,
		Kind:       action.Kind.String(),
		Amount:     action.Amount.String(),
		PlacedTick: window.PlacedTick,
		EndTick:    window.EndTick,
		Status:     action.Status.String(),
		Payout:     payout.String(),
		LatencyMS:  latency.Milliseconds(),
	}
	if err := l.db.Save(&rec).Error; err != nil {
		slog.Error("Failed to persist wager record",
			slog.String("action_id", action.ActionID),
			slog.Any("error", err))
	}
}

// RoundFinished implements engine.Ledger.
func (l *Ledger) RoundFinished(game domain.GameSnapshot) {
	round := GameRound{
		GameID:    game.GameID,
		EndTick:   game.Tick,
		PeakPrice: game.Price,
		Rugged:    game.Rugged,
	}
	if err := l.db.Save(&round).Error; err != nil {
		slog.Error("Failed to persist game round",
			slog.String("game_id", game.GameID),
			slog.Any("error", err))
	}
}

// RecentWagers returns the most recent terminal wagers, newest first.
func (l *Ledger) RecentWagers(limit int) ([]WagerRecord, error) {
	var recs []WagerRecord
	err := l.db.Order("created_at desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// TotalPayout sums all recorded payouts.
func (l *Ledger) TotalPayout() (decimal.Decimal, error) {
	var recs []WagerRecord
	if err := l.db.Select("payout").Find(&recs).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, rec := range recs {
		p, err := decimal.NewFromString(rec.Payout)
		if err != nil {
			continue
		}
		total = total.Add(p)
	}
	return total, nil
}

// WagerCountByStatus returns how many wagers ended in the given status.
func (l *Ledger) WagerCountByStatus(status domain.ActionStatus) (int64, error) {
	var count int64
	err := l.db.Model(&WagerRecord{}).Where("status = ?", status.String()).Count(&count).Error
	return count, err
}
