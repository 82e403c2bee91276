/*
conflict.go - Double-booking detection

INVARIANT:
  For a user U, the dates of any two approved requests never intersect.

  Enforced when a request is created: the candidate dates are tested
  against every date of U's approved requests. Pending requests do not
  block; an approved request is never re-validated retroactively.

MATCHING:
  Exact string equality on YYYY-MM-DD. No ordering is required, this is a
  pure membership test.
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/crm-workflow/generic"
)

// Conflicts returns the candidate dates that appear in any approved request.
// The result preserves candidate order.
func Conflicts(approved []Request, candidates []generic.Date) []generic.Date {
	taken := make(map[generic.Date]bool)
	for _, r := range approved {
		if r.Status != StatusApproved {
			continue
		}
		for _, d := range r.Dates {
			taken[d] = true
		}
	}
	var out []generic.Date
	for _, d := range candidates {
		if taken[d] {
			out = append(out, d)
		}
	}
	return out
}

// HasConflict reports whether any candidate collides with approved time off.
func HasConflict(approved []Request, candidates []generic.Date) bool {
	return len(Conflicts(approved, candidates)) > 0
}

// detectConflict runs the check against the store. Call it inside the
// transaction that inserts the new request.
func detectConflict(ctx context.Context, tx Tx, userID generic.EntityID, candidates []generic.Date) ([]generic.Date, error) {
	approved, err := tx.ListRequestsByUserStatus(ctx, userID, StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("load approved requests: %w", err)
	}
	return Conflicts(approved, candidates), nil
}
