package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sidebet timing facts fixed by the upstream protocol, not tunables.
// A window spans exactly 40 ticks, and 5 further ticks must elapse after the
// window closes before the next placement is accepted.
const (
	SidebetWindowTicks   = 40
	SidebetCooldownTicks = 5
)

// ActionKind defines the type of financial action
type ActionKind int

const (
	ActionBuy ActionKind = iota + 1
	ActionSell
	ActionSidebet
	ActionAddStake
	ActionReduceStake
)

// String returns the string representation of ActionKind
func (k ActionKind) String() string {
	switch k {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	case ActionSidebet:
		return "SIDEBET"
	case ActionAddStake:
		return "ADD_STAKE"
	case ActionReduceStake:
		return "REDUCE_STAKE"
	default:
		return "UNKNOWN"
	}
}

// ActionStatus is the lifecycle state of a dispatched action.
type ActionStatus int

const (
	StatusPending ActionStatus = iota + 1
	StatusConfirmed
	StatusRejected
	StatusTimedOut
)

// String returns the string representation of ActionStatus
func (s ActionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusRejected:
		return "REJECTED"
	case StatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// PendingAction tracks one dispatched financial action from submission until
// it reaches a terminal status. Once terminal it is never resurrected.
type PendingAction struct {
	ActionID      string          `json:"action_id"`
	Kind          ActionKind      `json:"kind"`
	GameID        string          `json:"game_id"`
	SubmittedTick int64           `json:"submitted_tick"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	Amount        decimal.Decimal `json:"amount"`
	Status        ActionStatus    `json:"status"`
}

// Terminal reports whether the action has reached a final status.
func (a *PendingAction) Terminal() bool {
	return a.Status == StatusConfirmed || a.Status == StatusRejected || a.Status == StatusTimedOut
}

// WagerWindow is the tick span covered by one placed sidebet.
type WagerWindow struct {
	GameID     string `json:"game_id"`
	PlacedTick int64  `json:"placed_tick"`
	EndTick    int64  `json:"end_tick"`
}

// NewWagerWindow builds the window for a wager placed at the given tick.
func NewWagerWindow(gameID string, placedTick int64) WagerWindow {
	return WagerWindow{
		GameID:     gameID,
		PlacedTick: placedTick,
		EndTick:    placedTick + SidebetWindowTicks,
	}
}

// NextEligibleTick returns the first tick at which a new wager may be placed
// after this window.
func (w WagerWindow) NextEligibleTick() int64 {
	return w.EndTick + SidebetCooldownTicks
}

// ExpiredAt reports whether the window has closed as of the given tick.
func (w WagerWindow) ExpiredAt(tick int64) bool {
	return tick >= w.EndTick
}
