package workflow

import (
	"time"
)

// Type is the kind of automation a definition performs.
type Type string

const (
	TypeApproval      Type = "approval"
	TypeStatusAuto    Type = "status_auto"
	TypeNotification  Type = "notification"
	TypeSLAEscalation Type = "sla_escalation"
	TypeFieldAuto     Type = "field_auto"
	TypeAssignment    Type = "assignment"
	TypeWebhook       Type = "webhook"
	TypeScheduled     Type = "scheduled"
)

// TriggerEvent is the record lifecycle event a definition reacts to.
type TriggerEvent string

const (
	TriggerRecordCreated TriggerEvent = "record_created"
	TriggerRecordUpdated TriggerEvent = "record_updated"
	TriggerFieldChanged  TriggerEvent = "field_changed"

	// TriggerScheduleTick is the synthetic event produced for scheduled
	// definitions by the cron collaborator.
	TriggerScheduleTick TriggerEvent = "schedule_tick"
)

// Status is a definition's lifecycle status.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusArchived Status = "archived"
)

// ScheduleSpec configures when a scheduled definition fires. The cron
// evaluation itself lives outside the engine, the spec is only validated and
// handed to the schedule collaborator.
type ScheduleSpec struct {
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
}

// Definition is a configured workflow. Once a definition leaves draft it is
// immutable; edits clone it into a new draft version so in-flight runs keep
// referencing the exact configuration they started with.
type Definition struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	// OrgID scopes the definition to one organization.
	OrgID string `json:"org_id"`

	Name string `json:"name"`

	Type Type `json:"type"`

	// EntityType is the record entity type this definition watches.
	EntityType string `json:"entity_type"`

	TriggerEvent TriggerEvent `json:"trigger_event"`

	// TriggerConditions gate whether a matching event starts the workflow.
	// An empty tree always passes.
	TriggerConditions ConditionTree `json:"trigger_conditions"`

	// Steps is the ordered approval chain. Only set for TypeApproval.
	Steps []ApprovalStep `json:"steps,omitempty"`

	// Actions are the side effects bound to trigger points.
	Actions []ActionBinding `json:"actions,omitempty"`

	// Schedule is only set for TypeScheduled.
	Schedule *ScheduleSpec `json:"schedule,omitempty"`

	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDraftVersion clones the definition into a new draft with the next
// version number. This is the only sanctioned way to edit a non-draft
// definition.
func (d *Definition) NewDraftVersion() *Definition {
	c := *d

	c.Version = d.Version + 1
	c.Status = StatusDraft

	c.Steps = append([]ApprovalStep(nil), d.Steps...)
	c.Actions = append([]ActionBinding(nil), d.Actions...)
	c.TriggerConditions.Conditions = append([]Condition(nil), d.TriggerConditions.Conditions...)

	if d.Schedule != nil {
		s := *d.Schedule
		c.Schedule = &s
	}

	return &c
}

// BindingsFor returns the action bindings for the given trigger point sorted
// by their configured order. Sorting is stable so bindings with duplicate
// orders keep their definition order.
func (d *Definition) BindingsFor(tp TriggerPoint) []ActionBinding {
	var bound []ActionBinding

	for _, b := range d.Actions {
		if b.TriggerPoint == tp {
			bound = append(bound, b)
		}
	}

	// Insertion sort keeps this dependency-free and stable; binding lists
	// are tiny.
	for i := 1; i < len(bound); i++ {
		for j := i; j > 0 && bound[j].Order < bound[j-1].Order; j-- {
			bound[j], bound[j-1] = bound[j-1], bound[j]
		}
	}

	return bound
}
