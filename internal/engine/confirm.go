package engine

import (
	"log/slog"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"

	"github.com/shopspring/decimal"
)

// settlement carries a terminal outcome out of the engine lock so ledger
// writes never happen while the lock is held.
type settlement struct {
	action  domain.PendingAction
	window  domain.WagerWindow
	payout  decimal.Decimal
	latency time.Duration
}

func (e *Engine) settle(s *settlement) {
	if s == nil || e.ledger == nil {
		return
	}
	e.ledger.WagerSettled(s.action, s.window, s.payout, s.latency)
}

// sweepLocked advances window expiry and the confirmation timeout for one
// game on each tick. Expiry frees the spacing gate while the action itself
// stays PENDING; only the bounded timeout makes it terminal.
func (e *Engine) sweepLocked(st *gameState, gameID string, tick int64) *settlement {
	if st.window == nil {
		return nil
	}

	if !st.windowExpired && st.window.ExpiredAt(tick) {
		st.windowExpired = true
		if st.state == StateActive {
			st.state = StateExpired
		}
		slog.Info("Wager window expired",
			slog.String("game_id", gameID),
			slog.Int64("end_tick", st.window.EndTick),
			slog.Bool("awaiting_result", st.pending != nil))
	}

	if st.pending != nil && tick >= st.window.EndTick+e.opts.ConfirmTimeoutTicks {
		action := *st.pending
		action.Status = domain.StatusTimedOut
		window := *st.window
		st.pending = nil
		st.state = StateIdle

		e.metrics.RecordTimeout()
		slog.Warn("Confirmation never arrived, action timed out",
			slog.String("action_id", action.ActionID),
			slog.String("game_id", gameID),
			slog.Int64("tick", tick))
		return &settlement{action: action, window: window}
	}

	return nil
}

// onResult correlates a server result event with the game's pending action.
// A result outside the action's timing window is logged and ignored: a stale
// confirmation must never resolve a newer wager.
func (e *Engine) onResult(ev event.Event) {
	gameID := ev.GameID
	if gameID == "" {
		return
	}

	e.mu.Lock()
	st, ok := e.games[gameID]
	if !ok || st.pending == nil || st.window == nil {
		e.mu.Unlock()
		slog.Debug("Unmatched sidebet result", slog.String("game_id", gameID))
		return
	}

	if tick, has := ev.Int("tickCount"); has {
		if tick < st.window.PlacedTick || tick > st.window.EndTick+e.opts.ConfirmTimeoutTicks {
			e.mu.Unlock()
			slog.Warn("Stale sidebet result ignored",
				slog.String("game_id", gameID),
				slog.Int64("result_tick", tick),
				slog.Int64("placed_tick", st.window.PlacedTick))
			return
		}
	}

	action := *st.pending
	window := *st.window
	st.pending = nil
	st.state = StateResolved

	accepted := true
	if v, has := ev.Data["accepted"].(bool); has {
		accepted = v
	}
	payoutF, _ := ev.Float("payout")
	payout := decimal.NewFromFloat(payoutF)

	// Confirmation latency is upstream's timestamp minus submission; local
	// receipt time is the fallback when the event carries none.
	latency := time.Since(action.SubmittedAt)
	if ev.Ts > 0 {
		if d := time.Duration(ev.Ts-action.SubmittedAt.UnixMilli()) * time.Millisecond; d >= 0 {
			latency = d
		}
	}

	if accepted {
		action.Status = domain.StatusConfirmed
		e.metrics.RecordConfirmation(latency.Nanoseconds())
	} else {
		action.Status = domain.StatusRejected
		e.metrics.RecordRejection()
	}
	e.mu.Unlock()

	slog.Info("Wager resolved",
		slog.String("action_id", action.ActionID),
		slog.String("game_id", gameID),
		slog.String("status", action.Status.String()),
		slog.String("payout", payout.String()),
		slog.Duration("latency", latency))

	e.settle(&settlement{action: action, window: window, payout: payout, latency: latency})
}
