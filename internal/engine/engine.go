package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"
	"rugs_go/internal/execution"
	"rugs_go/internal/infra"
	"rugs_go/internal/reconcile"
	"rugs_go/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger records terminal wager outcomes and finished rounds. Implemented by
// the sqlite storage layer; nil disables recording.
type Ledger interface {
	WagerSettled(action domain.PendingAction, window domain.WagerWindow, payout decimal.Decimal, latency time.Duration)
	RoundFinished(game domain.GameSnapshot)
}

// Options are the engine's explicit tunables. Window length and cooldown are
// protocol facts and live in domain, not here.
type Options struct {
	EntryTick           int64
	Stake               decimal.Decimal
	MaxActionsPerGame   int
	ConfirmTimeoutTicks int64
}

// WagerState is the per-game placement state machine position.
type WagerState int

const (
	StateIdle WagerState = iota
	StatePlacing
	StateActive
	StateExpired
	StateResolved
)

// String returns the string representation of WagerState
func (s WagerState) String() string {
	switch s {
	case StatePlacing:
		return "PLACING"
	case StateActive:
		return "ACTIVE"
	case StateExpired:
		return "EXPIRED"
	case StateResolved:
		return "RESOLVED"
	default:
		return "IDLE"
	}
}

// gameState tracks one game's wager lifecycle. Guarded by Engine.mu.
type gameState struct {
	state          WagerState
	inFlight       bool // execution lock: exactly one dispatch at a time
	attempts       int
	hasPlaced      bool
	lastPlacedTick int64
	window         *domain.WagerWindow
	windowExpired  bool
	pending        *domain.PendingAction
	peakPrice      float64
	roundClosed    bool
}

// Engine is the tick-driven decision loop. It consumes one bus subscription,
// applies each authoritative event to the reconciler, then evaluates the
// placement gates — so tick evaluation for a game is strictly sequential and
// always sees fully reconciled state.
type Engine struct {
	opts     Options
	strat    strategy.Strategy
	executor execution.Executor
	rec      *reconcile.Reconciler
	ledger   Ledger
	metrics  *infra.Metrics

	mu    sync.Mutex
	games map[string]*gameState
}

// New wires the decision loop. The executor is whichever backend the
// configuration selected; the engine never inspects its concrete type.
func New(opts Options, strat strategy.Strategy, exec execution.Executor, rec *reconcile.Reconciler, ledger Ledger, metrics *infra.Metrics) *Engine {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Engine{
		opts:     opts,
		strat:    strat,
		executor: exec,
		rec:      rec,
		ledger:   ledger,
		metrics:  metrics,
	}
}

// HandleEvent is the bus subscription entry point.
func (e *Engine) HandleEvent(ev event.Event) {
	switch ev.Type {
	case event.TypeGameTick:
		e.rec.Apply(ev)
		e.onTick(ev)
	case event.TypePlayerState:
		e.rec.Apply(ev)
	case event.TypeSidebetResult:
		e.onResult(ev)
	}
}

func (e *Engine) onTick(ev event.Event) {
	game, player := e.rec.Snapshot()
	gameID := ev.GameID
	if gameID == "" {
		gameID = game.GameID
	}
	if gameID == "" {
		return
	}

	e.mu.Lock()
	st := e.stateForLocked(gameID)

	if game.Price > st.peakPrice {
		st.peakPrice = game.Price
	}

	settled := e.sweepLocked(st, gameID, game.Tick)

	if game.Phase == domain.PhaseRugged {
		closed := !st.roundClosed
		st.roundClosed = true
		peak := st.peakPrice
		e.mu.Unlock()
		e.settle(settled)
		if closed && e.ledger != nil {
			round := game
			round.Price = peak
			e.ledger.RoundFinished(round)
		}
		return
	}

	if !e.gatesPassLocked(st, game.Tick, player) {
		e.mu.Unlock()
		e.settle(settled)
		return
	}

	intent := e.strat.OnTick(game, player)
	if intent == nil || intent.GameID != gameID {
		e.mu.Unlock()
		e.settle(settled)
		return
	}

	// CANDIDATE -> PLACING: take the execution lock synchronously, before
	// any I/O, so a tick arriving during the network round-trip cannot
	// re-enter and duplicate the action. The attempt is consumed now:
	// a failed dispatch never refunds it.
	st.inFlight = true
	st.state = StatePlacing
	st.attempts++
	action := &domain.PendingAction{
		ActionID:      uuid.NewString(),
		Kind:          intent.Kind,
		GameID:        gameID,
		SubmittedTick: game.Tick,
		SubmittedAt:   time.Now(),
		Amount:        intent.Amount,
		Status:        domain.StatusPending,
	}
	e.mu.Unlock()

	e.settle(settled)
	e.dispatch(st, gameID, game.Tick, action)
}

// gatesPassLocked evaluates the placement gates in their fixed order.
func (e *Engine) gatesPassLocked(st *gameState, tick int64, player domain.PlayerSnapshot) bool {
	// 1. No execution currently in flight for this game.
	if st.inFlight {
		return false
	}
	// 2. Per-game action count below the configured maximum.
	if st.attempts >= e.opts.MaxActionsPerGame {
		return false
	}
	// 3. No currently active wager window.
	if st.window != nil && !st.windowExpired && st.state == StateActive {
		return false
	}
	// 4. Spacing: window length plus cooldown since the last placement.
	if st.hasPlaced && tick < st.lastPlacedTick+domain.SidebetWindowTicks+domain.SidebetCooldownTicks {
		return false
	}
	// 5. Entry tick, first action only.
	if !st.hasPlaced && tick < e.opts.EntryTick {
		return false
	}
	// 6. Available balance covers the stake.
	if player.Cash.LessThan(e.opts.Stake) {
		return false
	}
	return true
}

// dispatch is the single asynchronous I/O boundary. The execution lock is
// released on every path, success or failure.
func (e *Engine) dispatch(st *gameState, gameID string, tick int64, action *domain.PendingAction) {
	defer func() {
		e.mu.Lock()
		st.inFlight = false
		e.mu.Unlock()
	}()

	res := e.executor.Execute(context.Background(), execution.Action{
		ID:     action.ActionID,
		Kind:   action.Kind,
		GameID: gameID,
		Tick:   tick,
		Amount: action.Amount,
	})

	if !res.Success {
		// Consumed attempt, terminal rejection. An automatic retry could
		// double-place a financial action.
		e.mu.Lock()
		st.state = StateIdle
		e.mu.Unlock()

		action.Status = domain.StatusRejected
		e.metrics.RecordRejection()
		slog.Warn("Dispatch failed, attempt consumed",
			slog.String("action_id", action.ActionID),
			slog.String("game_id", gameID),
			slog.Any("error", res.Err))
		if e.ledger != nil {
			e.ledger.WagerSettled(*action, domain.NewWagerWindow(gameID, tick), decimal.Zero, 0)
		}
		return
	}

	w := domain.NewWagerWindow(gameID, tick)

	e.mu.Lock()
	// An expired-window action still awaiting its result is resolved now:
	// overwriting the pending slot must never lose a placed wager.
	var stale *settlement
	if st.pending != nil {
		old := *st.pending
		old.Status = domain.StatusTimedOut
		stale = &settlement{action: old, window: *st.window}
		e.metrics.RecordTimeout()
		slog.Warn("Unresolved action superseded, timed out",
			slog.String("action_id", old.ActionID),
			slog.String("game_id", gameID),
			slog.String("superseded_by", action.ActionID))
	}
	st.state = StateActive
	st.window = &w
	st.windowExpired = false
	st.pending = action
	st.hasPlaced = true
	st.lastPlacedTick = tick
	e.mu.Unlock()

	e.settle(stale)

	e.metrics.RecordPlacement()
	slog.Info("Wager placed",
		slog.String("action_id", action.ActionID),
		slog.String("game_id", gameID),
		slog.Int64("tick", tick),
		slog.Int64("end_tick", w.EndTick),
		slog.String("amount", action.Amount.String()))
}

func (e *Engine) stateForLocked(gameID string) *gameState {
	if e.games == nil {
		e.games = make(map[string]*gameState)
	}
	st, ok := e.games[gameID]
	if !ok {
		st = &gameState{}
		e.games[gameID] = st
	}
	return st
}

// PendingFor returns a copy of the game's unresolved action, if any.
func (e *Engine) PendingFor(gameID string) (domain.PendingAction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.games[gameID]
	if !ok || st.pending == nil {
		return domain.PendingAction{}, false
	}
	return *st.pending, true
}

// StateFor returns the game's wager state machine position.
func (e *Engine) StateFor(gameID string) WagerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.games[gameID]
	if !ok {
		return StateIdle
	}
	return st.state
}

// Attempts returns how many placement attempts the game has consumed.
func (e *Engine) Attempts(gameID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.games[gameID]
	if !ok {
		return 0
	}
	return st.attempts
}
