package engine

import (
	"sync"
	"testing"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"
	"rugs_go/internal/execution"
	"rugs_go/internal/infra"
	"rugs_go/internal/reconcile"
	"rugs_go/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eagerStrategy proposes a sidebet on every active tick; the engine's gates
// are the subject under test.
type eagerStrategy struct {
	stake decimal.Decimal
}

func (s *eagerStrategy) OnTick(game domain.GameSnapshot, player domain.PlayerSnapshot) *strategy.Intent {
	if game.Phase != domain.PhaseActive {
		return nil
	}
	return &strategy.Intent{
		Kind:   domain.ActionSidebet,
		GameID: game.GameID,
		Tick:   game.Tick,
		Amount: s.stake,
	}
}

type recordingLedger struct {
	mu        sync.Mutex
	settled   []domain.PendingAction
	windows   []domain.WagerWindow
	latencies []time.Duration
	rounds    []domain.GameSnapshot
}

func (l *recordingLedger) WagerSettled(action domain.PendingAction, window domain.WagerWindow, payout decimal.Decimal, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settled = append(l.settled, action)
	l.windows = append(l.windows, window)
	l.latencies = append(l.latencies, latency)
}

func (l *recordingLedger) RoundFinished(game domain.GameSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rounds = append(l.rounds, game)
}

func (l *recordingLedger) settledCopy() []domain.PendingAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PendingAction, len(l.settled))
	copy(out, l.settled)
	return out
}

func gameTick(gameID string, tick int64, price float64) event.Event {
	return event.Event{
		Type:   event.TypeGameTick,
		GameID: gameID,
		Seq:    uint64(tick + 1),
		Data: map[string]any{
			"gameId":    gameID,
			"tickCount": float64(tick),
			"price":     price,
			"active":    true,
			"rugged":    false,
		},
	}
}

func ruggedTick(gameID string, tick int64, price float64) event.Event {
	ev := gameTick(gameID, tick, price)
	ev.Data["rugged"] = true
	return ev
}

func playerState(cash float64) event.Event {
	return event.Event{
		Type: event.TypePlayerState,
		Data: map[string]any{"cash": cash},
	}
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *execution.SimExecutor, *recordingLedger) {
	t.Helper()
	if opts.Stake.IsZero() {
		opts.Stake = decimal.NewFromFloat(0.001)
	}
	if opts.MaxActionsPerGame == 0 {
		opts.MaxActionsPerGame = 10
	}
	if opts.ConfirmTimeoutTicks == 0 {
		opts.ConfirmTimeoutTicks = 60
	}
	exec := execution.NewSimExecutor(0)
	ledger := &recordingLedger{}
	eng := New(opts, &eagerStrategy{stake: opts.Stake}, exec, reconcile.New(), ledger, &infra.Metrics{})
	eng.HandleEvent(playerState(100))
	return eng, exec, ledger
}

func TestEngine_PlacesWagerWhenGatesPass(t *testing.T) {
	eng, exec, _ := newTestEngine(t, Options{EntryTick: 10})

	eng.HandleEvent(gameTick("g-1", 10, 1.5))

	executed := exec.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, domain.ActionSidebet, executed[0].Kind)
	assert.Equal(t, "g-1", executed[0].GameID)

	pending, ok := eng.PendingFor("g-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, pending.Status)
	assert.Equal(t, int64(10), pending.SubmittedTick)
	assert.Equal(t, StateActive, eng.StateFor("g-1"))
}

// Scenario: wager at tick 10 covers ticks 10..50. A second attempt at tick
// 20 is rejected by the spacing gate; tick 55 is the first accepted tick.
func TestEngine_SpacingInvariant(t *testing.T) {
	eng, exec, _ := newTestEngine(t, Options{EntryTick: 0})

	eng.HandleEvent(gameTick("g-1", 10, 1.5))
	require.Len(t, exec.Executed(), 1, "first wager accepted")

	eng.HandleEvent(gameTick("g-1", 20, 1.6))
	assert.Len(t, exec.Executed(), 1, "tick 20 must be rejected by spacing gate")

	eng.HandleEvent(gameTick("g-1", 54, 1.7))
	assert.Len(t, exec.Executed(), 1, "tick 54 is one short of window end + cooldown")

	eng.HandleEvent(gameTick("g-1", 55, 1.8))
	executed := exec.Executed()
	require.Len(t, executed, 2, "tick 55 must be accepted")

	assert.GreaterOrEqual(t, executed[1].Tick, executed[0].Tick+domain.SidebetWindowTicks+domain.SidebetCooldownTicks)
}

func TestEngine_EntryTickGatesFirstActionOnly(t *testing.T) {
	eng, exec, _ := newTestEngine(t, Options{EntryTick: 100})

	eng.HandleEvent(gameTick("g-1", 50, 1.5))
	assert.Empty(t, exec.Executed(), "before entry tick nothing is placed")

	eng.HandleEvent(gameTick("g-1", 100, 1.5))
	require.Len(t, exec.Executed(), 1)

	// Second action only needs spacing, not the entry tick again.
	eng.HandleEvent(gameTick("g-1", 145, 1.6))
	assert.Len(t, exec.Executed(), 2)
}

func TestEngine_BalanceGate(t *testing.T) {
	eng, exec, _ := newTestEngine(t, Options{EntryTick: 0, Stake: decimal.NewFromInt(1000)})

	// Player cash is 100, stake 1000.
	eng.HandleEvent(gameTick("g-1", 10, 1.5))
	assert.Empty(t, exec.Executed(), "insufficient balance must gate placement")
}

func TestEngine_PerGameActionCap(t *testing.T) {
	eng, exec, _ := newTestEngine(t, Options{EntryTick: 0, MaxActionsPerGame: 2})

	eng.HandleEvent(gameTick("g-1", 10, 1.5))
	eng.HandleEvent(gameTick("g-1", 55, 1.6))
	require.Len(t, exec.Executed(), 2)

	eng.HandleEvent(gameTick("g-1", 100, 1.7))
	assert.Len(t, exec.Executed(), 2, "per-game action cap reached")
	assert.Equal(t, 2, eng.Attempts("g-1"))
}

func TestEngine_FailedDispatchConsumesAttemptWithoutRetry(t *testing.T) {
	eng, exec, ledger := newTestEngine(t, Options{EntryTick: 0, MaxActionsPerGame: 1})
	exec.FailNext()

	eng.HandleEvent(gameTick("g-1", 10, 1.5))

	assert.Empty(t, exec.Executed(), "dispatch failed")
	assert.Equal(t, 1, eng.Attempts("g-1"), "failed dispatch still consumes the attempt")

	_, ok := eng.PendingFor("g-1")
	assert.False(t, ok, "no pending action survives a failed dispatch")

	settled := ledger.settledCopy()
	require.Len(t, settled, 1)
	assert.Equal(t, domain.StatusRejected, settled[0].Status)

	// Cap of one: the engine must not try again on the next tick.
	eng.HandleEvent(gameTick("g-1", 60, 1.6))
	assert.Empty(t, exec.Executed())
}

// Property: even under a concurrent burst of ticks for the same game, at
// most one PENDING action ever exists and only one dispatch happens.
func TestEngine_AtMostOneInFlightUnderConcurrentTicks(t *testing.T) {
	opts := Options{EntryTick: 0, MaxActionsPerGame: 10}
	opts.Stake = decimal.NewFromFloat(0.001)
	opts.ConfirmTimeoutTicks = 60
	exec := execution.NewSimExecutor(20 * time.Millisecond)
	eng := New(opts, &eagerStrategy{stake: opts.Stake}, exec, reconcile.New(), nil, &infra.Metrics{})
	eng.HandleEvent(playerState(100))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.HandleEvent(gameTick("g-1", 10, 1.5))
		}()
	}
	wg.Wait()

	assert.Len(t, exec.Executed(), 1, "the execution lock must serialize dispatch")
	assert.Equal(t, 1, eng.Attempts("g-1"))

	pending, ok := eng.PendingFor("g-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, pending.Status)
}

// A wager whose window expired but whose result never arrived must not be
// lost when the spacing gate frees and a second wager is accepted: the first
// reaches a terminal status, and only the new action is pending.
func TestEngine_SupersededActionSettlesAsTimedOut(t *testing.T) {
	eng, exec, ledger := newTestEngine(t, Options{EntryTick: 0, ConfirmTimeoutTicks: 60})

	eng.HandleEvent(gameTick("g-1", 10, 1.5))
	executed := exec.Executed()
	require.Len(t, executed, 1)
	first, ok := eng.PendingFor("g-1")
	require.True(t, ok)

	// No result ever arrives. Tick 55 frees the spacing gate before the
	// confirmation timeout (110) fires.
	eng.HandleEvent(gameTick("g-1", 55, 1.6))
	require.Len(t, exec.Executed(), 2)

	settled := ledger.settledCopy()
	require.Len(t, settled, 1, "the superseded action must settle")
	assert.Equal(t, first.ActionID, settled[0].ActionID)
	assert.Equal(t, domain.StatusTimedOut, settled[0].Status)

	pending, ok := eng.PendingFor("g-1")
	require.True(t, ok)
	assert.NotEqual(t, first.ActionID, pending.ActionID, "only the new action is pending")
	assert.Equal(t, domain.StatusPending, pending.Status)
}

func TestEngine_IndependentGames(t *testing.T) {
	eng, exec, _ := newTestEngine(t, Options{EntryTick: 0})

	eng.HandleEvent(gameTick("g-1", 10, 1.5))
	eng.HandleEvent(gameTick("g-2", 10, 1.5))

	executed := exec.Executed()
	require.Len(t, executed, 2, "games gate independently")
	assert.NotEqual(t, executed[0].GameID, executed[1].GameID)
}

func TestEngine_RugFinishesRound(t *testing.T) {
	eng, exec, ledger := newTestEngine(t, Options{EntryTick: 0})

	eng.HandleEvent(gameTick("g-1", 10, 1.5))
	eng.HandleEvent(gameTick("g-1", 20, 3.0))
	eng.HandleEvent(ruggedTick("g-1", 21, 0.02))

	ledger.mu.Lock()
	rounds := len(ledger.rounds)
	var peak float64
	if rounds > 0 {
		peak = ledger.rounds[0].Price
	}
	ledger.mu.Unlock()

	require.Equal(t, 1, rounds, "rug must record one round summary")
	assert.Equal(t, 3.0, peak, "round summary carries the peak price")

	// No new placement during RUGGED, even though a wager gate would pass.
	eng.HandleEvent(ruggedTick("g-1", 22, 0.02))
	assert.Len(t, exec.Executed(), 1)
}
