package workflow

// ApproverType selects how a step's approver is resolved.
type ApproverType string

const (
	ApproverSpecificUser  ApproverType = "specific_user"
	ApproverRecordOwner   ApproverType = "record_owner"
	ApproverOwnersManager ApproverType = "owners_manager"
	ApproverRoleBased     ApproverType = "role_based"
	ApproverPodManager    ApproverType = "pod_manager"
	ApproverCustomFormula ApproverType = "custom_formula"
)

// ApproverSpec configures a step's approver. Exactly the field matching Type
// is set; the others are ignored.
type ApproverSpec struct {
	Type ApproverType `json:"type"`

	// UserID is set for ApproverSpecificUser.
	UserID string `json:"user_id,omitempty"`

	// Role is set for ApproverRoleBased.
	Role string `json:"role,omitempty"`

	// Formula is set for ApproverCustomFormula. It is evaluated in a sandbox
	// with record, owner and org bound and must yield a single user id.
	Formula string `json:"formula,omitempty"`
}

// TimeoutUnit is the unit of a step's timeout duration.
type TimeoutUnit string

const (
	UnitMinutes       TimeoutUnit = "minutes"
	UnitHours         TimeoutUnit = "hours"
	UnitDays          TimeoutUnit = "days"
	UnitBusinessHours TimeoutUnit = "business_hours"
	UnitBusinessDays  TimeoutUnit = "business_days"
)

// TimeoutAction is what happens when a step's timeout elapses without a
// decision.
type TimeoutAction string

const (
	TimeoutEscalate    TimeoutAction = "escalate"
	TimeoutAutoApprove TimeoutAction = "auto_approve"
	TimeoutAutoReject  TimeoutAction = "auto_reject"
	TimeoutReminder    TimeoutAction = "reminder"
	TimeoutNothing     TimeoutAction = "nothing"
)

// ApprovalStep is one stage of an approval chain.
type ApprovalStep struct {
	// Order is 1-based, dense and unique within a definition.
	Order int `json:"order"`

	Approver ApproverSpec `json:"approver"`

	TimeoutDuration int           `json:"timeout_duration"`
	TimeoutUnit     TimeoutUnit   `json:"timeout_unit"`
	TimeoutAction   TimeoutAction `json:"timeout_action"`

	ReminderEnabled bool `json:"reminder_enabled"`

	// ReminderPercent schedules a reminder at this percentage of the timeout
	// duration after step activation. Values >= 100 disable the reminder
	// since the timeout would fire first.
	ReminderPercent int `json:"reminder_percent,omitempty"`
}
