// Package actions dispatches the side effects bound to a workflow's trigger
// points.
package actions

import (
	"context"

	"github.com/crmflow/crmflow/core"
)

// Notification is a rendered notification ready for delivery.
type Notification struct {
	// Recipient is a recipient spec (owner, submitter, current_approver,
	// managers, or a concrete user id); the notification service resolves
	// it.
	Recipient string

	// Message is the notification template with record fields interpolated.
	Message string

	Record core.RecordRef
}

// Task is a rendered task-creation request.
type Task struct {
	Title       string
	Description string
	DueInDays   int
	Assignee    string

	Record core.RecordRef
}

// WebhookRequest is a rendered outbound webhook call.
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// The executor interfaces below are the external side-effect collaborators,
// one per action type. Each receives fully interpolated input and returns an
// error on failure; the dispatcher records failures per action and keeps
// going.

type RecordUpdater interface {
	UpdateField(ctx context.Context, ref core.RecordRef, field string, value any) error
}

type NotificationSender interface {
	SendNotification(ctx context.Context, n Notification) error
}

type ActivityLogger interface {
	CreateActivity(ctx context.Context, ref core.RecordRef, activityType, description string) error
}

type WebhookCaller interface {
	CallWebhook(ctx context.Context, req WebhookRequest) error
}

type WorkflowInvoker interface {
	RunWorkflow(ctx context.Context, workflowID string, ref core.RecordRef) error
}

type AssignmentService interface {
	AssignUser(ctx context.Context, ref core.RecordRef, strategy, target string) error
}

type TaskCreator interface {
	CreateTask(ctx context.Context, t Task) error
}

// Executors bundles the side-effect collaborators. Unset executors cause the
// corresponding action types to fail with a recorded outcome, they never
// panic the dispatch.
type Executors struct {
	Records       RecordUpdater
	Notifications NotificationSender
	Activities    ActivityLogger
	Webhooks      WebhookCaller
	Workflows     WorkflowInvoker
	Assignments   AssignmentService
	Tasks         TaskCreator
}
