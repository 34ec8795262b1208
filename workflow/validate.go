package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crmflow/crmflow/core"
)

// ErrNotDraft is returned when mutating or activating a definition that
// already left draft.
var ErrNotDraft = errors.New("definition is not a draft")

var numericOperators = map[Operator]bool{
	OpGt:      true,
	OpLt:      true,
	OpGte:     true,
	OpLte:     true,
	OpBetween: true,
}

var knownOperators = map[Operator]bool{
	OpEq:         true,
	OpNeq:        true,
	OpGt:         true,
	OpLt:         true,
	OpGte:        true,
	OpLte:        true,
	OpContains:   true,
	OpIsEmpty:    true,
	OpIsNotEmpty: true,
	OpBetween:    true,
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a definition against the configuration-error taxonomy
// before activation. It never runs at trigger time; malformed definitions
// must not reach the evaluator.
func Validate(d *Definition, catalog core.FieldCatalog) error {
	var errs []error

	if d.ID == "" {
		errs = append(errs, errors.New("definition id is empty"))
	}

	if d.EntityType == "" {
		errs = append(errs, errors.New("entity type is empty"))
	}

	errs = append(errs, validateConditions(d.TriggerConditions, catalog)...)

	switch d.Type {
	case TypeApproval:
		errs = append(errs, validateSteps(d.Steps)...)
	case TypeScheduled:
		errs = append(errs, validateSchedule(d.Schedule)...)
	default:
		if len(d.Steps) > 0 {
			errs = append(errs, fmt.Errorf("workflow type %q cannot have approval steps", d.Type))
		}
	}

	for i, b := range d.Actions {
		if !ValidTriggerPoint(d.Type, b.TriggerPoint) {
			errs = append(errs, fmt.Errorf(
				"action %d: trigger point %q is not valid for workflow type %q", i, b.TriggerPoint, d.Type))
		}
	}

	return errors.Join(errs...)
}

func validateConditions(tree ConditionTree, catalog core.FieldCatalog) []error {
	var errs []error

	if !tree.Empty() && tree.Logic != LogicAnd && tree.Logic != LogicOr {
		errs = append(errs, fmt.Errorf("unknown condition logic %q", tree.Logic))
	}

	for i, c := range tree.Conditions {
		if c.Field == "" {
			errs = append(errs, fmt.Errorf("condition %d: field is empty", i))
			continue
		}

		if !knownOperators[c.Operator] {
			errs = append(errs, fmt.Errorf("condition %d: unknown operator %q", i, c.Operator))
			continue
		}

		fd := catalog.Get(c.Field)

		if numericOperators[c.Operator] && fd.Type != core.FieldTypeNumber && fd.Type != core.FieldTypeDate && fd.Type != core.FieldTypeUnknown {
			errs = append(errs, fmt.Errorf(
				"condition %d: operator %q requires a numeric or date field, %q is %q", i, c.Operator, c.Field, fd.Type))
		}

		if c.Operator == OpBetween && (c.Value == nil || c.ValueEnd == nil) {
			errs = append(errs, fmt.Errorf("condition %d: between requires both value and value_end", i))
		}
	}

	return errs
}

func validateSteps(steps []ApprovalStep) []error {
	var errs []error

	if len(steps) == 0 {
		return []error{errors.New("approval workflow requires at least one step")}
	}

	seen := map[int]bool{}

	for i, s := range steps {
		if s.Order != i+1 {
			errs = append(errs, fmt.Errorf("step %d: order must be dense and 1-based, got %d", i, s.Order))
		}

		if seen[s.Order] {
			errs = append(errs, fmt.Errorf("step %d: duplicate order %d", i, s.Order))
		}
		seen[s.Order] = true

		if s.TimeoutDuration <= 0 {
			errs = append(errs, fmt.Errorf("step %d: timeout duration must be positive", i))
		}

		switch s.Approver.Type {
		case ApproverSpecificUser:
			if s.Approver.UserID == "" {
				errs = append(errs, fmt.Errorf("step %d: specific_user approver requires a user id", i))
			}
		case ApproverRoleBased:
			if s.Approver.Role == "" {
				errs = append(errs, fmt.Errorf("step %d: role_based approver requires a role", i))
			}
		case ApproverCustomFormula:
			if s.Approver.Formula == "" {
				errs = append(errs, fmt.Errorf("step %d: custom_formula approver requires a formula", i))
			}
		case ApproverRecordOwner, ApproverOwnersManager, ApproverPodManager:
			// resolved lazily at step activation
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown approver type %q", i, s.Approver.Type))
		}

		switch s.TimeoutUnit {
		case UnitMinutes, UnitHours, UnitDays, UnitBusinessHours, UnitBusinessDays:
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown timeout unit %q", i, s.TimeoutUnit))
		}

		switch s.TimeoutAction {
		case TimeoutEscalate, TimeoutAutoApprove, TimeoutAutoReject, TimeoutReminder, TimeoutNothing:
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown timeout action %q", i, s.TimeoutAction))
		}

		if s.ReminderEnabled && s.ReminderPercent <= 0 {
			errs = append(errs, fmt.Errorf("step %d: reminder requires a positive reminder percent", i))
		}
	}

	return errs
}

func validateSchedule(s *ScheduleSpec) []error {
	if s == nil || s.CronExpression == "" {
		return []error{errors.New("scheduled workflow requires a cron expression")}
	}

	var errs []error

	if _, err := cronParser.Parse(s.CronExpression); err != nil {
		errs = append(errs, fmt.Errorf("invalid cron expression %q: %w", s.CronExpression, err))
	}

	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err))
		}
	}

	return errs
}
