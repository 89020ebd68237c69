package execution

import (
	"context"
	"fmt"

	"rugs_go/internal/domain"
	"rugs_go/internal/infra"

	"github.com/shopspring/decimal"
)

// Action is one financial request handed to a backend.
type Action struct {
	ID     string
	Kind   domain.ActionKind
	GameID string
	Tick   int64
	Amount decimal.Decimal
}

// Result is the synchronous outcome of a dispatch. A failed dispatch is
// terminal for the attempt: callers must never retry automatically.
type Result struct {
	Success bool
	Err     error
}

// Executor dispatches actions against some backend. Implementations may
// simulate, drive UI automation, or call a network endpoint; callers never
// branch on which one is in use.
type Executor interface {
	Execute(ctx context.Context, a Action) Result
	Name() string
}

// New selects the configured backend at construction time.
func New(cfg *infra.Config) (Executor, error) {
	switch cfg.Executor.Mode {
	case "sim":
		return NewSimExecutor(0), nil
	case "api":
		return NewAPIExecutor(cfg.Executor.APIURL, cfg.Feed.AuthToken), nil
	case "browser":
		return NewBridgeExecutor(cfg.Executor.BridgeURL), nil
	default:
		return nil, fmt.Errorf("unknown executor mode: %s", cfg.Executor.Mode)
	}
}

// endpointFor maps an action kind to its request path.
func endpointFor(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionBuy:
		return "/buy"
	case domain.ActionSell:
		return "/sell"
	case domain.ActionSidebet:
		return "/sidebet"
	case domain.ActionAddStake:
		return "/stake/add"
	case domain.ActionReduceStake:
		return "/stake/reduce"
	default:
		return "/unknown"
	}
}
