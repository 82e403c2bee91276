/*
Package chat is the task side-channel driven by the AI chat pipeline.

It resolves free text into concrete entities and fans one instruction out
into several independent writes:

  "tarea isaac carolina said, llamar cliente mañana"
      │
      ├── ParseCommand      names ["isaac","carolina","said"], body "llamar cliente mañana"
      ├── ExtractDate       due = tomorrow, title "llamar cliente"
      ├── Match (per name)  roster user for each fragment
      └── TaskService       one task per assignee, shared TaskGroupID

Dates are resolved by a fixed Spanish rule table (dates.go) anchored at
local midnight; anything unrecognised falls back to tomorrow.

Each task write is independent: one failure never aborts the batch and
the caller receives a per-assignee outcome.
*/
package chat

import (
	"context"
	"time"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// TASKS AND CLIENTS
// =============================================================================

type TaskStatus string

const TaskPending TaskStatus = "pending"

// Task is one to-do item for one assignee. TaskGroupID is shared by tasks
// created from the same instruction and empty when there was a single
// recipient.
type Task struct {
	ID           string
	Title        string
	Description  string
	DueDate      generic.Date
	AssigneeID   generic.EntityID
	AssigneeName string
	ClientID     string
	ClientName   string
	CreatedBy    generic.EntityID
	TaskGroupID  string
	Status       TaskStatus
	CreatedAt    time.Time
}

// Client is a CRM customer from the read-only roster.
type Client struct {
	ID       string
	Name     string
	Archived bool
}

// =============================================================================
// STORES
// =============================================================================

// TaskStore persists tasks.
type TaskStore interface {
	InsertTask(ctx context.Context, t Task) error
	// ListTasksByAssignee returns tasks ordered by due date, then creation.
	ListTasksByAssignee(ctx context.Context, assignee generic.EntityID) ([]Task, error)
	ListTasksByGroup(ctx context.Context, groupID string) ([]Task, error)
}

// ClientRoster is the read-only client list.
type ClientRoster interface {
	ListClients(ctx context.Context) ([]Client, error)
}
