package execution

import (
	"context"
	"sync"
	"time"

	"rugs_go/internal/domain"
)

// SimExecutor is the paper backend: it accepts every well-formed action
// after an optional simulated latency and records what it executed. Used for
// dry runs and tests.
type SimExecutor struct {
	latency time.Duration

	mu       sync.Mutex
	executed []Action
	failNext bool
}

// NewSimExecutor creates a simulated backend with the given dispatch latency.
func NewSimExecutor(latency time.Duration) *SimExecutor {
	return &SimExecutor{latency: latency}
}

// Name implements Executor.
func (s *SimExecutor) Name() string {
	return "sim"
}

// Execute implements Executor.
func (s *SimExecutor) Execute(ctx context.Context, a Action) Result {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-time.After(s.latency):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext {
		s.failNext = false
		return Result{Err: domain.ErrExecutionRejected}
	}
	if a.Amount.IsNegative() || a.Amount.IsZero() {
		return Result{Err: domain.ErrExecutionRejected}
	}

	s.executed = append(s.executed, a)
	return Result{Success: true}
}

// FailNext forces the next dispatch to be rejected (for testing).
func (s *SimExecutor) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Executed returns a copy of all accepted actions.
func (s *SimExecutor) Executed() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.executed))
	copy(out, s.executed)
	return out
}
