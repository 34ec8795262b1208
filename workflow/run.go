package workflow

import (
	"time"

	"github.com/crmflow/crmflow/core"
)

// RunStatus is the overall status of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunApproved  RunStatus = "approved"
	RunRejected  RunStatus = "rejected"
	RunCancelled RunStatus = "cancelled"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status ends a run's lifetime. A run never
// leaves a terminal status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunApproved, RunRejected, RunCancelled, RunCompleted, RunFailed:
		return true
	}

	return false
}

// StepResult is the recorded outcome of one approval step.
type StepResult string

const (
	StepApproved  StepResult = "approved"
	StepRejected  StepResult = "rejected"
	StepEscalated StepResult = "escalated"
	StepTimedOut  StepResult = "timed_out"
	StepSkipped   StepResult = "skipped"
)

// StepOutcome records how one step of a run concluded.
type StepOutcome struct {
	StepIndex int `json:"step_index"`

	Result StepResult `json:"result"`

	// Actor is the deciding user, or "system" for timeout-driven outcomes.
	Actor string `json:"actor"`

	At time.Time `json:"at"`

	Comment string `json:"comment,omitempty"`
}

// Run is one live instantiation of an approval definition against one
// record. It references its definition by id and version so later edits to
// the same logical workflow never affect it. Runs are owned by the engine's
// run coordinator and mutated only through its transitions.
type Run struct {
	ID string `json:"id"`

	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`

	Record core.RecordRef `json:"record"`

	Status RunStatus `json:"status"`

	// CurrentStep is the zero-based index of the active step while the run
	// is pending.
	CurrentStep int `json:"current_step"`

	// CurrentApprover is the resolved approver of the active step, empty
	// while unresolved.
	CurrentApprover string `json:"current_approver,omitempty"`

	Outcomes []StepOutcome `json:"outcomes,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DecidedStep reports whether the given step index already has a recorded
// outcome. Timer wake-ups use this as their idempotency guard.
func (r *Run) DecidedStep(index int) bool {
	for _, o := range r.Outcomes {
		if o.StepIndex == index {
			return true
		}
	}

	return false
}
