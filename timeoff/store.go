package timeoff

import (
	"context"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// STORE - Persistence of requests and their audit trail
// =============================================================================

// Tx is the unit of work a transition runs in. Every read observes the
// latest committed state plus the transaction's own writes.
type Tx interface {
	// GetRequest returns an error wrapping generic.ErrNotFound for unknown ids.
	GetRequest(ctx context.Context, id string) (Request, error)

	// InsertRequest persists a new request.
	InsertRequest(ctx context.Context, r Request) error

	// UpdateRequest writes r if the stored row still has status expected and
	// version r.Version. It stores r with Version+1 and returns
	// generic.ErrConcurrentModification when the guard fails.
	UpdateRequest(ctx context.Context, r Request, expected Status) error

	// ListRequestsByUserStatus returns the user's requests in status.
	ListRequestsByUserStatus(ctx context.Context, userID generic.EntityID, status Status) ([]Request, error)

	// AppendAudit writes one audit entry.
	AppendAudit(ctx context.Context, entry generic.AuditEntry) error
}

// Store persists requests. WithTx commits when fn returns nil and leaves
// everything unchanged otherwise.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ListRequestsByUser returns all of a user's requests, newest first.
	ListRequestsByUser(ctx context.Context, userID generic.EntityID) ([]Request, error)

	// ListRequestsByStatus returns requests in status, oldest first.
	ListRequestsByStatus(ctx context.Context, status Status) ([]Request, error)

	// QueryAudit reads the audit log.
	QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error)
}
