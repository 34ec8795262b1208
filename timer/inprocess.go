package timer

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

// InProcessService fires timers from in-memory clock timers. Timers do not
// survive a process restart; deployments that need durability use the
// redis-backed service instead.
type InProcessService struct {
	clock   clock.Clock
	handler Handler

	mu     sync.Mutex
	timers map[string]*clock.Timer
	closed bool
}

var _ Service = (*InProcessService)(nil)

// NewInProcessService creates a service delivering to handler. c may be nil
// to use the wall clock.
func NewInProcessService(c clock.Clock, handler Handler) *InProcessService {
	if c == nil {
		c = clock.New()
	}

	return &InProcessService{
		clock:   c,
		handler: handler,
		timers:  map[string]*clock.Timer{},
	}
}

func (s *InProcessService) Schedule(ctx context.Context, t Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	key := t.Key()

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}

	delay := t.FireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.timers[key] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		closed := s.closed
		s.mu.Unlock()

		if !closed {
			s.handler(context.Background(), t)
		}
	})

	return nil
}

func (s *InProcessService) Cancel(ctx context.Context, runID string, stepIndex int, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Timer{RunID: runID, StepIndex: stepIndex, Kind: kind}.Key()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}

	return nil
}

// Close stops all pending timers.
func (s *InProcessService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
