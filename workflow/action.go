package workflow

// TriggerPoint is a named moment in a definition's or run's lifecycle to
// which actions are bound.
type TriggerPoint string

const (
	OnStart        TriggerPoint = "on_start"
	OnApproval     TriggerPoint = "on_approval"
	OnRejection    TriggerPoint = "on_rejection"
	OnCancellation TriggerPoint = "on_cancellation"
	OnTimeout      TriggerPoint = "on_timeout"
	OnEachStep     TriggerPoint = "on_each_step"

	// OnCompletion is the single trigger point for all non-approval types.
	OnCompletion TriggerPoint = "on_completion"
)

var approvalTriggerPoints = map[TriggerPoint]bool{
	OnStart:        true,
	OnApproval:     true,
	OnRejection:    true,
	OnCancellation: true,
	OnTimeout:      true,
	OnEachStep:     true,
}

// ValidTriggerPoint reports whether the trigger point may carry actions for
// the given workflow type.
func ValidTriggerPoint(t Type, tp TriggerPoint) bool {
	if t == TypeApproval {
		return approvalTriggerPoints[tp]
	}

	return tp == OnCompletion
}

// ActionType selects the side effect an action performs.
type ActionType string

const (
	ActionUpdateField      ActionType = "update_field"
	ActionSendNotification ActionType = "send_notification"
	ActionCreateActivity   ActionType = "create_activity"
	ActionTriggerWebhook   ActionType = "trigger_webhook"
	ActionRunWorkflow      ActionType = "run_workflow"
	ActionAssignUser       ActionType = "assign_user"
	ActionCreateTask       ActionType = "create_task"
)

// ActionBinding attaches one action to a trigger point. Config fields other
// than those for the binding's Type are ignored.
//
// Template-valued fields (notification body, activity description, webhook
// body, task title and description) support {{field_name}} interpolation
// against the triggering record.
type ActionBinding struct {
	TriggerPoint TriggerPoint `json:"trigger_point"`

	// Order is dense and unique within a trigger point; execution is
	// ascending by order.
	Order int `json:"order"`

	Type ActionType `json:"type"`

	// update_field
	Field string `json:"field,omitempty"`
	Value any    `json:"value,omitempty"`

	// send_notification
	Recipient string `json:"recipient,omitempty"`
	Template  string `json:"template,omitempty"`

	// create_activity
	ActivityType string `json:"activity_type,omitempty"`
	Description  string `json:"description,omitempty"`

	// trigger_webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// run_workflow
	WorkflowID string `json:"workflow_id,omitempty"`

	// assign_user
	AssignStrategy string `json:"assign_strategy,omitempty"`
	AssignTarget   string `json:"assign_target,omitempty"`

	// create_task
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	TaskDueInDays   int    `json:"task_due_in_days,omitempty"`
	TaskAssignee    string `json:"task_assignee,omitempty"`
}
