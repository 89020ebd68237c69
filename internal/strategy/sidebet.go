package strategy

import (
	"rugs_go/internal/domain"

	"github.com/shopspring/decimal"
)

// SidebetStrategy wagers that the round rugs inside the next window once the
// round has survived long enough to be worth fading. It is stateful and
// deterministic: a ring buffer of recent prices feeds a running mean, and a
// proposal is made only while the price sits above that mean (late, extended
// rounds are the ones that die inside the window).
type SidebetStrategy struct {
	minTick int64
	stake   decimal.Decimal

	// Price history (Ring Buffer)
	window []float64
	head   int
	count  int
	sum    float64

	lastGameID string
}

// NewSidebetStrategy creates a new instance.
func NewSidebetStrategy(minTick int64, windowSize int, stake decimal.Decimal) *SidebetStrategy {
	if windowSize <= 0 {
		panic("SidebetStrategy: windowSize must be positive")
	}
	return &SidebetStrategy{
		minTick: minTick,
		stake:   stake,
		window:  make([]float64, windowSize), // Fixed size allocation
	}
}

// OnTick processes one reconciled tick and proposes at most one wager.
func (s *SidebetStrategy) OnTick(game domain.GameSnapshot, player domain.PlayerSnapshot) *Intent {
	// New round: price history from a finished round is meaningless.
	if game.GameID != s.lastGameID {
		s.reset(game.GameID)
	}

	if game.Phase != domain.PhaseActive {
		return nil
	}

	s.push(game.Price)

	if game.Tick < s.minTick {
		return nil
	}
	if s.count < len(s.window) {
		return nil
	}

	mean := s.sum / float64(s.count)
	if game.Price < mean {
		return nil
	}

	return &Intent{
		Kind:   domain.ActionSidebet,
		GameID: game.GameID,
		Tick:   game.Tick,
		Amount: s.stake,
	}
}

func (s *SidebetStrategy) push(price float64) {
	if s.count == len(s.window) {
		s.sum -= s.window[s.head] // s.head points to the oldest value when full
	}
	s.window[s.head] = price
	s.sum += price
	s.head = (s.head + 1) % len(s.window)
	if s.count < len(s.window) {
		s.count++
	}
}

func (s *SidebetStrategy) reset(gameID string) {
	s.lastGameID = gameID
	s.head = 0
	s.count = 0
	s.sum = 0
}
