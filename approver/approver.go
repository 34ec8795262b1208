// Package approver resolves approval step approver specs to concrete users.
//
// Resolution is lazy: it happens when a step becomes active, not when the
// definition is saved, because ownership and management chains change
// between definition and execution.
package approver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/internal/log"
	"github.com/crmflow/crmflow/workflow"
)

// Directory is the external org directory / org graph collaborator.
type Directory interface {
	// OwnerOf returns the owning user of the given record.
	OwnerOf(ctx context.Context, ref core.RecordRef) (string, error)

	// ManagerOf returns the manager of the given user.
	ManagerOf(ctx context.Context, userID string) (string, error)

	// PodManagerOf returns the manager of the pod the record belongs to.
	PodManagerOf(ctx context.Context, ref core.RecordRef) (string, error)

	// UsersInRole returns all users holding the given role.
	UsersInRole(ctx context.Context, role string) ([]string, error)
}

// ExpressionEngine evaluates a custom_formula approver expression in a
// sandbox. Bindings are the only names visible to the expression, and the
// result must be a single user id. Any evaluation failure yields an
// unresolved approver, never an engine error.
type ExpressionEngine interface {
	Evaluate(ctx context.Context, formula string, bindings map[string]any) (string, error)
}

// Resolution is the outcome of resolving an approver spec.
type Resolution struct {
	// UserID is the resolved approver, empty for role-based resolutions and
	// for unresolved specs.
	UserID string `json:"user_id,omitempty"`

	// Candidates is set for role_based specs: any of these users may act.
	// Picking a single assignee from the set is the assignment service's
	// concern, not the engine's.
	Candidates []string `json:"candidates,omitempty"`

	// Reason explains an unresolved result.
	Reason string `json:"reason,omitempty"`
}

// Resolved reports whether at least one eligible approver was found.
func (r Resolution) Resolved() bool {
	return r.UserID != "" || len(r.Candidates) > 0
}

// Unresolved builds an unresolved resolution with the given reason.
func Unresolved(format string, args ...any) Resolution {
	return Resolution{Reason: fmt.Sprintf(format, args...)}
}

// Resolver resolves approver specs against the org directory.
type Resolver struct {
	directory Directory
	exprs     ExpressionEngine
	logger    *slog.Logger
}

// NewResolver creates a resolver. exprs may be nil when no definition uses
// custom_formula approvers.
func NewResolver(directory Directory, exprs ExpressionEngine, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		directory: directory,
		exprs:     exprs,
		logger:    logger,
	}
}

// Resolve resolves the spec for the given record. Lookup failures are
// returned as unresolved resolutions; the engine treats them as a warning
// and keeps the step pending.
func (r *Resolver) Resolve(ctx context.Context, spec workflow.ApproverSpec, ref core.RecordRef, record core.Record) Resolution {
	switch spec.Type {
	case workflow.ApproverSpecificUser:
		if spec.UserID == "" {
			return Unresolved("specific_user approver has no user configured")
		}
		return Resolution{UserID: spec.UserID}

	case workflow.ApproverRecordOwner:
		owner, err := r.directory.OwnerOf(ctx, ref)
		if err != nil || owner == "" {
			return r.lookupFailed("record owner", err)
		}
		return Resolution{UserID: owner}

	case workflow.ApproverOwnersManager:
		owner, err := r.directory.OwnerOf(ctx, ref)
		if err != nil || owner == "" {
			return r.lookupFailed("record owner", err)
		}

		manager, err := r.directory.ManagerOf(ctx, owner)
		if err != nil || manager == "" {
			return r.lookupFailed("owner's manager", err)
		}
		return Resolution{UserID: manager}

	case workflow.ApproverPodManager:
		manager, err := r.directory.PodManagerOf(ctx, ref)
		if err != nil || manager == "" {
			return r.lookupFailed("pod manager", err)
		}
		return Resolution{UserID: manager}

	case workflow.ApproverRoleBased:
		users, err := r.directory.UsersInRole(ctx, spec.Role)
		if err != nil {
			return r.lookupFailed(fmt.Sprintf("role %q", spec.Role), err)
		}
		if len(users) == 0 {
			return Unresolved("no users hold role %q", spec.Role)
		}
		return Resolution{Candidates: users}

	case workflow.ApproverCustomFormula:
		return r.resolveFormula(ctx, spec, ref, record)

	default:
		return Unresolved("unknown approver type %q", spec.Type)
	}
}

func (r *Resolver) resolveFormula(ctx context.Context, spec workflow.ApproverSpec, ref core.RecordRef, record core.Record) Resolution {
	if r.exprs == nil {
		return Unresolved("no expression engine configured")
	}

	owner, err := r.directory.OwnerOf(ctx, ref)
	if err != nil {
		owner = ""
	}

	bindings := map[string]any{
		"record": map[string]any(record),
		"owner":  owner,
		"org":    map[string]any{"entity_type": ref.EntityType},
	}

	userID, err := r.exprs.Evaluate(ctx, spec.Formula, bindings)
	if err != nil {
		r.logger.WarnContext(ctx, "approver formula failed",
			slog.String(log.EntityTypeKey, ref.EntityType),
			slog.String(log.RecordIDKey, ref.ID),
			slog.Any("error", err))

		return Unresolved("formula evaluation failed: %v", err)
	}

	if userID == "" {
		return Unresolved("formula returned no user")
	}

	return Resolution{UserID: userID}
}

func (r *Resolver) lookupFailed(what string, err error) Resolution {
	if err != nil {
		return Unresolved("%s lookup failed: %v", what, err)
	}

	return Unresolved("%s is not set", what)
}

// Describe returns the human-readable preview of a spec used by dry runs,
// without performing any live lookup.
func Describe(spec workflow.ApproverSpec) string {
	switch spec.Type {
	case workflow.ApproverSpecificUser:
		return fmt.Sprintf("User %s", spec.UserID)
	case workflow.ApproverRecordOwner:
		return "Record Owner (resolved at runtime)"
	case workflow.ApproverOwnersManager:
		return "Record Owner's Manager (resolved at runtime)"
	case workflow.ApproverPodManager:
		return "Pod Manager (resolved at runtime)"
	case workflow.ApproverRoleBased:
		return fmt.Sprintf("Any user with role %q (resolved at runtime)", spec.Role)
	case workflow.ApproverCustomFormula:
		return "Custom formula (evaluated at runtime)"
	default:
		return fmt.Sprintf("Unknown approver type %q", spec.Type)
	}
}
