package reconcile

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"

	"github.com/shopspring/decimal"
)

// driftPriceTolerance bounds how far a local price estimate may sit from the
// remote value before the divergence is reported.
const driftPriceTolerance = 1e-9

// Reconciler holds the single authoritative game/player state pair behind
// one lock. Remote events replace fields wholesale; a locally maintained
// fallback view is compared for drift but never promoted.
type Reconciler struct {
	mu     sync.Mutex
	game   domain.GameSnapshot
	player domain.PlayerSnapshot

	haveRemote bool
	local      *domain.GameSnapshot

	driftCount atomic.Uint64
}

// New creates an empty reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// Apply routes one authoritative event into the snapshot pair. Events
// outside the reconciler's interest are ignored.
func (r *Reconciler) Apply(ev event.Event) {
	switch ev.Type {
	case event.TypeGameTick:
		r.applyGameTick(ev)
	case event.TypePlayerState:
		r.applyPlayerState(ev)
	}
}

func (r *Reconciler) applyGameTick(ev event.Event) {
	tick, _ := ev.Int("tickCount")
	price, _ := ev.Float("price")
	active := ev.Bool("active")
	rugged := ev.Bool("rugged")
	cooldown, _ := ev.Int("cooldownTimer")
	allowPre := ev.Bool("allowPreRoundBuys")

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.GameID != "" {
		r.game.GameID = ev.GameID
	}
	r.game.Tick = tick
	r.game.Price = price
	r.game.Active = active
	r.game.Rugged = rugged
	r.game.Phase = domain.ClassifyPhase(active, rugged, cooldown, allowPre)
	r.haveRemote = true

	r.checkDriftLocked()
}

func (r *Reconciler) applyPlayerState(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Remote always wins: fields are replaced, never merged.
	if cash, ok := ev.Float("cash"); ok {
		r.player.Cash = decimal.NewFromFloat(cash)
	}
	if qty, ok := ev.Float("positionQty"); ok {
		r.player.PositionQty = decimal.NewFromFloat(qty)
	}
	if avg, ok := ev.Float("avgCost"); ok {
		r.player.AvgCost = decimal.NewFromFloat(avg)
	}
	if pnl, ok := ev.Float("cumulativePnl"); ok {
		r.player.CumulativePnL = decimal.NewFromFloat(pnl)
	}
}

// SetLocalEstimate records a locally derived fallback view for degraded or
// offline operation. It is compared against the next remote tick and logged
// on divergence; it never overwrites the authoritative snapshot.
func (r *Reconciler) SetLocalEstimate(g domain.GameSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	local := g
	r.local = &local
	r.checkDriftLocked()
}

func (r *Reconciler) checkDriftLocked() {
	if r.local == nil || !r.haveRemote || r.local.GameID != r.game.GameID {
		return
	}
	tickDrift := r.local.Tick != r.game.Tick
	priceDrift := math.Abs(r.local.Price-r.game.Price) > driftPriceTolerance
	if !tickDrift && !priceDrift {
		return
	}
	r.driftCount.Add(1)
	slog.Warn("Local state drift detected",
		slog.String("game_id", r.game.GameID),
		slog.Int64("remote_tick", r.game.Tick),
		slog.Int64("local_tick", r.local.Tick),
		slog.Float64("remote_price", r.game.Price),
		slog.Float64("local_price", r.local.Price))
}

// DriftCount returns how many drift events have been observed.
func (r *Reconciler) DriftCount() uint64 {
	return r.driftCount.Load()
}

// Snapshot returns immutable copies of the authoritative pair. Readers never
// see a half-applied update.
func (r *Reconciler) Snapshot() (domain.GameSnapshot, domain.PlayerSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game, r.player
}
