package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crmflow/crmflow/actions"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/internal/log"
	"github.com/crmflow/crmflow/internal/metrickeys"
	"github.com/crmflow/crmflow/timeouts"
	"github.com/crmflow/crmflow/timer"
	"github.com/crmflow/crmflow/workflow"
)

// startRun creates a run at its first pending step. Called with conditions
// already passed.
func (e *Engine) startRun(ctx context.Context, def *workflow.Definition, ref core.RecordRef, record core.Record) (*workflow.Run, error) {
	run := &workflow.Run{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Record:            ref,
		Status:            workflow.RunRunning,
		CurrentStep:       0,
		StartedAt:         e.clock.Now(),
	}

	// Hold the run lock through step activation so a zero-delay timeout
	// cannot race the initial persist.
	release := e.locks.acquire(run.ID)
	defer release()

	if err := e.backend.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	e.metrics().Counter(metrickeys.RunCreated, metrics.Tags{metrickeys.EntityType: ref.EntityType}, 1)

	e.dispatcher.Dispatch(ctx, workflow.OnStart, def, ref, record)

	e.activateStep(ctx, run, def, record)

	if err := e.backend.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	e.runLogger(run).InfoContext(ctx, "run started",
		slog.String(log.WorkflowTypeKey, string(def.Type)))

	return run, nil
}

// activateStep resolves the current step's approver and arms its timeout
// and reminder timers. An unresolved approver keeps the step pending with a
// warning; the timeout clock starts regardless.
func (e *Engine) activateStep(ctx context.Context, run *workflow.Run, def *workflow.Definition, record core.Record) {
	step := def.Steps[run.CurrentStep]

	resolution := e.resolver.Resolve(ctx, step.Approver, run.Record, record)

	switch {
	case resolution.UserID != "":
		run.CurrentApprover = resolution.UserID
	case len(resolution.Candidates) > 0:
		// Role-based steps stay unassigned; any candidate may act.
		run.CurrentApprover = ""
	default:
		run.CurrentApprover = ""

		e.runLogger(run).WarnContext(ctx, "step pending with no eligible approver",
			slog.Int(log.StepIndexKey, run.CurrentStep),
			slog.String("reason", resolution.Reason))
	}

	now := e.clock.Now()
	deadline := e.deadlines.Deadline(now, step.TimeoutDuration, step.TimeoutUnit)

	e.scheduleTimer(ctx, run, timer.Timer{
		RunID:     run.ID,
		StepIndex: run.CurrentStep,
		Kind:      timer.KindTimeout,
		FireAt:    deadline,
	})

	if step.ReminderEnabled {
		if at, ok := timeouts.ReminderAt(now, deadline, step.ReminderPercent); ok {
			e.scheduleTimer(ctx, run, timer.Timer{
				RunID:     run.ID,
				StepIndex: run.CurrentStep,
				Kind:      timer.KindReminder,
				FireAt:    at,
			})
		}
	}

	e.metrics().Counter(metrickeys.StepActivated, nil, 1)
}

func (e *Engine) scheduleTimer(ctx context.Context, run *workflow.Run, t timer.Timer) {
	if err := e.timers.Schedule(ctx, t); err != nil {
		e.runLogger(run).ErrorContext(ctx, "scheduling timer",
			slog.Int(log.StepIndexKey, t.StepIndex),
			slog.String(log.TimerKindKey, string(t.Kind)),
			slog.Time(log.FireAtKey, t.FireAt),
			slog.Any("error", err))
		return
	}

	e.metrics().Counter(metrickeys.TimerScheduled, metrics.Tags{metrickeys.TimerKind: string(t.Kind)}, 1)
}

func (e *Engine) cancelStepTimers(ctx context.Context, run *workflow.Run, stepIndex int) {
	_ = e.timers.Cancel(ctx, run.ID, stepIndex, timer.KindTimeout)
	_ = e.timers.Cancel(ctx, run.ID, stepIndex, timer.KindReminder)
}

// Approve records an approval decision by actor for the run's current step.
func (e *Engine) Approve(ctx context.Context, runID, actor, comment string) error {
	return e.decide(ctx, runID, actor, comment, true)
}

// Reject records a rejection decision by actor; the run terminates.
func (e *Engine) Reject(ctx context.Context, runID, actor, comment string) error {
	return e.decide(ctx, runID, actor, comment, false)
}

func (e *Engine) decide(ctx context.Context, runID, actor, comment string, approve bool) error {
	release := e.locks.acquire(runID)
	defer release()

	run, def, record, err := e.loadRunContext(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status != workflow.RunRunning {
		return ErrRunFinished
	}

	e.cancelStepTimers(ctx, run, run.CurrentStep)
	e.metrics().Counter(metrickeys.StepDecided, nil, 1)

	if approve {
		e.recordOutcome(run, workflow.StepApproved, actor, comment)
		e.advance(ctx, run, def, record)
	} else {
		e.recordOutcome(run, workflow.StepRejected, actor, comment)
		e.finish(ctx, run, workflow.RunRejected)
		e.dispatcher.Dispatch(ctx, workflow.OnRejection, def, run.Record, record)
	}

	return e.backend.UpdateRun(ctx, run)
}

// Cancel terminates a pending run on external request.
func (e *Engine) Cancel(ctx context.Context, runID, actor, reason string) error {
	release := e.locks.acquire(runID)
	defer release()

	run, def, record, err := e.loadRunContext(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status != workflow.RunRunning {
		return ErrRunFinished
	}

	e.cancelStepTimers(ctx, run, run.CurrentStep)

	e.recordOutcome(run, workflow.StepSkipped, actor, reason)
	e.finish(ctx, run, workflow.RunCancelled)
	e.dispatcher.Dispatch(ctx, workflow.OnCancellation, def, run.Record, record)

	return e.backend.UpdateRun(ctx, run)
}

// advance moves the run past an approved (or escalated) current step:
// either to terminal approval or to the next pending step.
func (e *Engine) advance(ctx context.Context, run *workflow.Run, def *workflow.Definition, record core.Record) {
	if run.CurrentStep == len(def.Steps)-1 {
		e.finish(ctx, run, workflow.RunApproved)
		e.dispatcher.Dispatch(ctx, workflow.OnApproval, def, run.Record, record)
		return
	}

	run.CurrentStep++

	e.dispatcher.Dispatch(ctx, workflow.OnEachStep, def, run.Record, record)
	e.activateStep(ctx, run, def, record)
}

// HandleTimer is the timer.Handler for timeout and reminder wake-ups. A
// wake-up for a step the run already advanced past is a no-op, not an
// error: at-least-once timer delivery makes late and duplicate firings
// normal.
func (e *Engine) HandleTimer(ctx context.Context, t timer.Timer) {
	release := e.locks.acquire(t.RunID)
	defer release()

	run, def, record, err := e.loadRunContext(ctx, t.RunID)
	if err != nil {
		e.logger.WarnContext(ctx, "timer fired for unloadable run",
			slog.String(log.RunIDKey, t.RunID),
			slog.Any("error", err))
		return
	}

	if run.Status.Terminal() || run.CurrentStep != t.StepIndex || run.DecidedStep(t.StepIndex) {
		e.metrics().Counter(metrickeys.TimerNoop, metrics.Tags{metrickeys.TimerKind: string(t.Kind)}, 1)
		return
	}

	e.metrics().Counter(metrickeys.TimerFired, metrics.Tags{metrickeys.TimerKind: string(t.Kind)}, 1)

	step := def.Steps[t.StepIndex]

	if t.Kind == timer.KindReminder {
		// Reminders never alter run state.
		e.sendReminder(ctx, run, step, record)
		return
	}

	e.fireTimeout(ctx, run, def, step, record)
}

func (e *Engine) fireTimeout(ctx context.Context, run *workflow.Run, def *workflow.Definition, step workflow.ApprovalStep, record core.Record) {
	logger := e.runLogger(run)

	e.metrics().Counter(metrickeys.StepTimedOut, nil, 1)

	switch step.TimeoutAction {
	case workflow.TimeoutNothing:
		logger.InfoContext(ctx, "step timed out, configured to do nothing",
			slog.Int(log.StepIndexKey, run.CurrentStep))
		return

	case workflow.TimeoutReminder:
		e.dispatcher.Dispatch(ctx, workflow.OnTimeout, def, run.Record, record)
		e.sendReminder(ctx, run, step, record)
		// The step stays pending; no further deadline is re-armed.
		return

	case workflow.TimeoutEscalate:
		e.dispatcher.Dispatch(ctx, workflow.OnTimeout, def, run.Record, record)
		e.recordOutcome(run, workflow.StepEscalated, "system", "timeout escalation")
		e.advance(ctx, run, def, record)

	case workflow.TimeoutAutoApprove:
		e.dispatcher.Dispatch(ctx, workflow.OnTimeout, def, run.Record, record)
		e.recordOutcome(run, workflow.StepApproved, "system", "timeout auto-approval")
		e.advance(ctx, run, def, record)

	case workflow.TimeoutAutoReject:
		e.dispatcher.Dispatch(ctx, workflow.OnTimeout, def, run.Record, record)
		e.recordOutcome(run, workflow.StepRejected, "system", "timeout auto-rejection")
		e.finish(ctx, run, workflow.RunRejected)
		e.dispatcher.Dispatch(ctx, workflow.OnRejection, def, run.Record, record)

	default:
		logger.WarnContext(ctx, "unknown timeout action",
			slog.String("timeout_action", string(step.TimeoutAction)))
		return
	}

	if err := e.backend.UpdateRun(ctx, run); err != nil {
		logger.ErrorContext(ctx, "persisting run after timeout", slog.Any("error", err))
	}
}

func (e *Engine) sendReminder(ctx context.Context, run *workflow.Run, step workflow.ApprovalStep, record core.Record) {
	logger := e.runLogger(run)

	if e.reminders == nil {
		logger.InfoContext(ctx, "approval reminder due, no reminder sender configured",
			slog.Int(log.StepIndexKey, run.CurrentStep))
		return
	}

	recipient := run.CurrentApprover
	if recipient == "" {
		recipient = "current_approver"
	}

	err := e.reminders.SendNotification(ctx, actions.Notification{
		Recipient: recipient,
		Message:   fmt.Sprintf("Approval step %d for %s %s is awaiting your decision", step.Order, run.Record.EntityType, run.Record.ID),
		Record:    run.Record,
	})
	if err != nil {
		logger.WarnContext(ctx, "sending reminder", slog.Any("error", err))
	}
}

func (e *Engine) recordOutcome(run *workflow.Run, result workflow.StepResult, actor, comment string) {
	run.Outcomes = append(run.Outcomes, workflow.StepOutcome{
		StepIndex: run.CurrentStep,
		Result:    result,
		Actor:     actor,
		At:        e.clock.Now(),
		Comment:   comment,
	})
}

func (e *Engine) finish(ctx context.Context, run *workflow.Run, status workflow.RunStatus) {
	run.Status = status
	run.CurrentApprover = ""

	now := e.clock.Now()
	run.CompletedAt = &now

	e.metrics().Counter(metrickeys.RunFinished, metrics.Tags{metrickeys.RunStatus: string(status)}, 1)
	e.metrics().Timing(metrickeys.RunDuration, nil, now.Sub(run.StartedAt))

	e.runLogger(run).InfoContext(ctx, "run finished",
		slog.String(log.RunStatusKey, string(status)))
}

// loadRunContext loads a run together with the definition version it was
// started from and a fresh record snapshot.
func (e *Engine) loadRunContext(ctx context.Context, runID string) (*workflow.Run, *workflow.Definition, core.Record, error) {
	run, err := e.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, nil, err
	}

	def, err := e.backend.GetDefinition(ctx, run.DefinitionID, run.DefinitionVersion)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading definition for run: %w", err)
	}

	record, err := e.records.GetRecord(ctx, run.Record)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading record for run: %w", err)
	}

	return run, def, record, nil
}
