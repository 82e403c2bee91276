// Package timeoff implements the time-off request lifecycle: submission,
// conflict detection, role-based approval, the 24-hour cancellation window,
// auto-approval and audit logging.
package timeoff

import (
	"fmt"
	"time"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// REQUEST TYPE AND STATUS
// =============================================================================

// Type is informational only; it never changes transition rules.
type Type string

const (
	TypeFreeDay Type = "free_day"
	TypeUrgent  Type = "urgent"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is a time-off request. UserName and UserRole are snapshots taken
// at submission and never resynced.
type Request struct {
	ID          string
	UserID      generic.EntityID
	UserName    string
	UserRole    string
	Dates       []generic.Date // non-empty, unique, ascending
	Type        Type
	Reason      string
	Status      Status
	RequestedAt time.Time

	ApprovedBy     generic.EntityID
	ApprovedByName string
	ApprovedAt     *time.Time
	AutoApproved   bool

	RejectionReason string
	RejectedBy      generic.EntityID
	RejectedByName  string
	RejectedAt      *time.Time

	CancelledBy     generic.EntityID
	CancelledByName string
	CancelledAt     *time.Time

	// Version increments on every update; stores use it with Status for
	// compare-and-swap.
	Version int
}

// EarliestDate returns the first requested day.
func (r *Request) EarliestDate() generic.Date { return generic.Earliest(r.Dates) }

// LatestDate returns the last requested day.
func (r *Request) LatestDate() generic.Date {
	var max generic.Date
	for _, d := range r.Dates {
		if d > max {
			max = d
		}
	}
	return max
}

// Summary is the human-readable audit name: "Ana · free_day · 2025-03-10..2025-03-11".
func (r *Request) Summary() string {
	first, last := r.EarliestDate(), r.LatestDate()
	if first == last {
		return fmt.Sprintf("%s · %s · %s", r.UserName, r.Type, first)
	}
	return fmt.Sprintf("%s · %s · %s..%s", r.UserName, r.Type, first, last)
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (r Request) Clone() Request {
	r.Dates = append([]generic.Date(nil), r.Dates...)
	r.ApprovedAt = cloneTime(r.ApprovedAt)
	r.RejectedAt = cloneTime(r.RejectedAt)
	r.CancelledAt = cloneTime(r.CancelledAt)
	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

// CreateInput is what a caller submits.
type CreateInput struct {
	Type   Type     `validate:"required,oneof=free_day urgent"`
	Dates  []string `validate:"required,min=1,unique,dive,required,datetime=2006-01-02"`
	Reason string   `validate:"required,min=5"`
}

// CreateResult is returned by Create. ApproverContacts is empty for
// auto-approved requests.
type CreateResult struct {
	Request          Request
	AutoApproved     bool
	ApproverContacts []string
}
