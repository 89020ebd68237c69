package domain

import "github.com/shopspring/decimal"

// Phase is the coarse game lifecycle state derived from the raw upstream flags.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseCooldown
	PhasePresale
	PhaseActive
	PhaseRugged
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseCooldown:
		return "COOLDOWN"
	case PhasePresale:
		return "PRESALE"
	case PhaseActive:
		return "ACTIVE"
	case PhaseRugged:
		return "RUGGED"
	default:
		return "UNKNOWN"
	}
}

// ClassifyPhase derives the phase from the four raw upstream flags, evaluated
// in strict priority order. The upstream exhibits a short window where rugged
// and active are simultaneously true; rugged always dominates.
//
// There is no literal "timer reached zero" event on the wire. The start of a
// round is signaled by active=true at tick 0, so a zero cooldown timer alone
// never classifies as ACTIVE.
func ClassifyPhase(active, rugged bool, cooldownTimer int64, allowPreRoundBuys bool) Phase {
	switch {
	case rugged:
		return PhaseRugged
	case active:
		return PhaseActive
	case allowPreRoundBuys:
		return PhasePresale
	case cooldownTimer > 0:
		return PhaseCooldown
	default:
		return PhaseUnknown
	}
}

// GameSnapshot is the authoritative remote-derived view of a single round.
// It is mutated only by the reconciler and read as a value copy.
type GameSnapshot struct {
	GameID string  `json:"game_id"`
	Tick   int64   `json:"tick"`
	Price  float64 `json:"price"`
	Phase  Phase   `json:"phase"`
	Active bool    `json:"active"`
	Rugged bool    `json:"rugged"`
}

// PlayerSnapshot holds the remote-reported account state. It is populated
// exclusively from authoritative events; local speculative logic never
// writes to it.
type PlayerSnapshot struct {
	Cash          decimal.Decimal `json:"cash"`
	PositionQty   decimal.Decimal `json:"position_qty"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
}
