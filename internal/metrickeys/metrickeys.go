package metrickeys

const (
	Prefix = "crmflow."

	RunCreated  = Prefix + "run.created"
	RunFinished = Prefix + "run.finished"
	RunDuration = Prefix + "run.duration"

	StepActivated = Prefix + "step.activated"
	StepDecided   = Prefix + "step.decided"
	StepTimedOut  = Prefix + "step.timed_out"

	TriggerEvaluated = Prefix + "trigger.evaluated"
	TriggerPassed    = Prefix + "trigger.passed"

	ActionDispatched = Prefix + "action.dispatched"
	ActionFailed     = Prefix + "action.failed"

	TimerScheduled = Prefix + "timer.scheduled"
	TimerFired     = Prefix + "timer.fired"
	TimerNoop      = Prefix + "timer.noop"
)

// Tag names
const (
	Backend      = "backend"
	WorkflowType = "workflow_type"
	EntityType   = "entity_type"
	ActionType   = "action"
	TimerKind    = "kind"
	RunStatus    = "status"
)
