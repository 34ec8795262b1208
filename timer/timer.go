// Package timer defines the wake-up scheduling contract used by the engine
// for step timeouts and reminders, plus an in-process implementation.
//
// Delivery is at-least-once: a wake-up may fire more than once or fire after
// the run has already advanced. The engine's handler re-checks run state
// before acting, so spurious deliveries are harmless.
package timer

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes the two wake-up flavors of an approval step.
type Kind string

const (
	KindTimeout  Kind = "timeout"
	KindReminder Kind = "reminder"
)

// Timer identifies one scheduled wake-up for one step of one run.
type Timer struct {
	RunID     string    `json:"run_id"`
	StepIndex int       `json:"step_index"`
	Kind      Kind      `json:"kind"`
	FireAt    time.Time `json:"fire_at"`
}

// Key returns the unique scheduling key of the timer. Scheduling the same
// key again replaces the earlier deadline.
func (t Timer) Key() string {
	return fmt.Sprintf("%s:%d:%s", t.RunID, t.StepIndex, t.Kind)
}

// Handler receives fired timers.
type Handler func(ctx context.Context, t Timer)

// Service schedules wake-ups and delivers them to a single registered
// handler at or after their fire time.
type Service interface {
	// Schedule arms the timer, replacing any existing timer with the same
	// key.
	Schedule(ctx context.Context, t Timer) error

	// Cancel disarms the timer with the given coordinates. Cancelling an
	// unknown timer is a no-op.
	Cancel(ctx context.Context, runID string, stepIndex int, kind Kind) error
}
