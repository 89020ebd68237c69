package strategy

import (
	"rugs_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Intent is a wager the strategy proposes for the current tick. The engine
// still applies every timing and concurrency gate before dispatch.
type Intent struct {
	Kind   domain.ActionKind
	GameID string
	Tick   int64
	Amount decimal.Decimal
}

// Strategy is the interface that all decision strategies must implement.
// OnTick is called synchronously by the engine for each reconciled game
// tick; it returns at most one intent.
type Strategy interface {
	OnTick(game domain.GameSnapshot, player domain.PlayerSnapshot) *Intent
}
