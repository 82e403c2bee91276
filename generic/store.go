/*
store.go - Collaborator interfaces shared by the workflow components

PURPOSE:
  Defines the read-only directory the core consumes and the append-only
  audit log it writes to. Domain packages (timeoff, chat) define their own
  entity stores next to their types.

KEY INTERFACES:
  UserDirectory: id -> name, role, contact, archived flag (read-only)
  AuditLog:      append-only transition records

APPEND-ONLY CONTRACT:
  AuditLog has Append and Query. There is no Update or Delete, and
  implementations must never rewrite an existing entry.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests and dev

SEE ALSO:
  - timeoff/store.go: Request persistence
  - chat/types.go: Task persistence and client roster
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// USER DIRECTORY
// =============================================================================

// UserDirectory is the read-only people directory. GetUser returns an error
// wrapping ErrNotFound for unknown ids.
type UserDirectory interface {
	GetUser(ctx context.Context, id EntityID) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByRoles(ctx context.Context, roles []string) ([]User, error)
}

// =============================================================================
// AUDIT LOG - Separate from the entity record, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditRequested    AuditAction = "requested"
	AuditAutoApproved AuditAction = "auto_approved"
	AuditApproved     AuditAction = "approved"
	AuditRejected     AuditAction = "rejected"
	AuditCancelled    AuditAction = "cancelled"
)

// EntityTypeTimeOff tags audit entries produced by the time-off engine.
const EntityTypeTimeOff = "time_off"

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	AuthorID   EntityID
	AuthorName string
	Action     AuditAction
	EntityID   string
	EntityType string
	EntityName string
	Payload    map[string]any // action-specific data
	CreatedAt  time.Time
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows Query. Zero fields match everything. Results are
// ordered oldest first.
type AuditFilter struct {
	EntityID   string
	EntityType string
	AuthorID   EntityID
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
}

// Matches reports whether e satisfies the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.AuthorID != "" && e.AuthorID != f.AuthorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
