package normalize

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"
	"rugs_go/internal/infra"
)

// canonical maps upstream event names to the closed taxonomy. Names outside
// the table still pass through tagged raw.<name>.
var canonical = map[string]string{
	"gameStateUpdate": event.TypeGameTick,
	"playerUpdate":    event.TypePlayerState,
	"newTrade":        event.TypePlayerTrade,
	"newSideBet":      event.TypeSidebetPlaced,
	"sideBetResult":   event.TypeSidebetResult,
	"authenticated":   event.TypeAuthenticated,
}

// Normalizer turns decoded frames into canonical events on the bus. It is
// the single place that enforces per-connection sequence monotonicity and
// derives the game phase from the raw flags.
type Normalizer struct {
	bus     *event.Bus
	metrics *infra.Metrics

	mu        sync.Mutex
	lastEpoch uint64
	lastSeq   uint64
}

// New creates a Normalizer publishing onto the given bus.
func New(bus *event.Bus, metrics *infra.Metrics) *Normalizer {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Normalizer{bus: bus, metrics: metrics}
}

// HandleFrame implements feed.Sink.
func (n *Normalizer) HandleFrame(epoch, seq uint64, name string, payload []byte) {
	if !n.admitSeq(epoch, seq) {
		return
	}

	typ, known := canonical[name]
	if !known {
		typ = event.RawPrefix + name
	}

	data := decodePayload(payload)

	ev := event.Event{
		Type:  typ,
		Ts:    eventTimestamp(data),
		Seq:   seq,
		Epoch: epoch,
		Data:  data,
	}
	if gid, ok := data["gameId"].(string); ok {
		ev.GameID = gid
	}

	if typ == event.TypeGameTick {
		annotatePhase(ev)
	}

	n.bus.Publish(ev)
	n.metrics.RecordEvent()
}

// admitSeq drops duplicate or out-of-order frames within a connection epoch.
// A new epoch legitimately restarts the sequence (reconnect).
func (n *Normalizer) admitSeq(epoch, seq uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if epoch == n.lastEpoch && seq <= n.lastSeq {
		n.metrics.RecordSeqDropped()
		slog.Warn("Dropping out-of-order frame",
			slog.Uint64("epoch", epoch),
			slog.Uint64("seq", seq),
			slog.Uint64("last_seq", n.lastSeq))
		return false
	}
	n.lastEpoch = epoch
	n.lastSeq = seq
	return true
}

// decodePayload never returns nil: a payload-less event frame is legal
// upstream and downstream annotation writes into the map.
func decodePayload(payload []byte) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		// Non-object payloads (strings, arrays) still pass through.
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return map[string]any{"value": string(payload)}
		}
		return map[string]any{"value": v}
	}
	if data == nil { // JSON literal null
		return map[string]any{}
	}
	return data
}

func eventTimestamp(data map[string]any) int64 {
	if ts, ok := data["timestamp"].(float64); ok {
		return int64(ts)
	}
	return time.Now().UnixMilli()
}

// annotatePhase classifies the round phase from the raw tick flags and
// stores it alongside the originals. Rugged dominates active: during the
// brief overlap window where both are set the tick still reports RUGGED.
func annotatePhase(ev event.Event) {
	active := ev.Bool("active")
	rugged := ev.Bool("rugged")
	cooldown, _ := ev.Int("cooldownTimer")
	allowPre := ev.Bool("allowPreRoundBuys")

	phase := domain.ClassifyPhase(active, rugged, cooldown, allowPre)
	ev.Data["phase"] = phase.String()
}
