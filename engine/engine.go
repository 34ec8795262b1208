// Package engine hosts the approval state machine and the workflow run
// coordinator.
//
// The engine is event-driven: record mutations, schedule ticks, human
// decisions and timer wake-ups all enter through its public methods, and
// every transition for a given run is serialized through a run-id-keyed
// lock. There is no internal polling.
package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmflow/crmflow/actions"
	"github.com/crmflow/crmflow/approver"
	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/timeouts"
	"github.com/crmflow/crmflow/timer"
)

var (
	// ErrRunFinished is returned for decisions against a run that already
	// reached a terminal status.
	ErrRunFinished = errors.New("workflow run already finished")
)

// Engine drives workflow runs. Create one per process with New.
type Engine struct {
	backend  backend.Backend
	records  core.RecordStore
	resolver *approver.Resolver

	dispatcher *actions.Dispatcher
	deadlines  *timeouts.Calculator

	timers    timer.Service
	reminders actions.NotificationSender

	clock  clock.Clock
	logger *slog.Logger

	locks runLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithCalendar supplies the business-time calendar used for business_hours
// and business_days timeout units.
func WithCalendar(c timeouts.Calendar) Option {
	return func(e *Engine) {
		e.deadlines = timeouts.NewCalculator(c)
	}
}

// WithTimerService replaces the default in-process timer service, typically
// with the durable redis-backed one. The service must deliver to this
// engine's HandleTimer.
func WithTimerService(s timer.Service) Option {
	return func(e *Engine) {
		e.timers = s
	}
}

// WithReminderSender supplies the notification sender used for step
// reminders. Without one, reminders are logged only.
func WithReminderSender(s actions.NotificationSender) Option {
	return func(e *Engine) {
		e.reminders = s
	}
}

// New creates an engine on top of the given backend and collaborators.
func New(b backend.Backend, records core.RecordStore, resolver *approver.Resolver, dispatcher *actions.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		backend:    b,
		records:    records,
		resolver:   resolver,
		dispatcher: dispatcher,
		deadlines:  timeouts.NewCalculator(nil),
		clock:      clock.New(),
		logger:     b.Options().Logger,
		locks:      runLocks{locks: map[string]*runLock{}},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.timers == nil {
		e.timers = timer.NewInProcessService(e.clock, e.HandleTimer)
	}

	return e
}

func (e *Engine) tracer() trace.Tracer {
	return e.backend.Tracer()
}

func (e *Engine) metrics() metrics.Client {
	return e.backend.Metrics()
}

// runLocks serializes transitions per run. Approve, reject, cancel and
// timer wake-ups for the same run must be mutually exclusive; runs for
// different records proceed fully in parallel.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// acquire locks the given run id and returns the release function.
func (r *runLocks) acquire(runID string) func() {
	r.mu.Lock()
	l, ok := r.locks[runID]
	if !ok {
		l = &runLock{}
		r.locks[runID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, runID)
		}
		r.mu.Unlock()
	}
}
