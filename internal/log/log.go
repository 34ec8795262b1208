package log

// Shared slog attribute keys. Keeping these in one place makes log lines
// join-able across the engine, backends and timer services.
const (
	DefinitionIDKey      = "definition_id"
	DefinitionVersionKey = "definition_version"
	WorkflowTypeKey      = "workflow_type"

	RunIDKey     = "run_id"
	RunStatusKey = "run_status"

	StepIndexKey = "step_index"
	ApproverKey  = "approver"

	EntityTypeKey = "entity_type"
	RecordIDKey   = "record_id"

	TriggerEventKey = "trigger_event"
	TriggerPointKey = "trigger_point"

	ActionTypeKey  = "action_type"
	ActionOrderKey = "action_order"

	TimerKindKey = "timer_kind"
	FireAtKey    = "fire_at"
)
