package timeoff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/crm-workflow/generic"
)

func TestConflicts_OnlyApprovedDatesCount(t *testing.T) {
	existing := []Request{
		{Status: StatusApproved, Dates: []generic.Date{"2025-03-10", "2025-03-11"}},
		{Status: StatusPending, Dates: []generic.Date{"2025-03-12"}},
		{Status: StatusCancelled, Dates: []generic.Date{"2025-03-13"}},
	}

	got := Conflicts(existing, []generic.Date{"2025-03-13", "2025-03-11", "2025-03-12", "2025-03-10"})
	assert.Equal(t, []generic.Date{"2025-03-11", "2025-03-10"}, got, "candidate order preserved")

	assert.True(t, HasConflict(existing, []generic.Date{"2025-03-10"}))
	assert.False(t, HasConflict(existing, []generic.Date{"2025-03-12", "2025-03-13"}))
	assert.False(t, HasConflict(nil, []generic.Date{"2025-03-10"}))
}

func TestRequest_SummaryAndClone(t *testing.T) {
	r := Request{UserName: "Ana", Type: TypeUrgent, Dates: []generic.Date{"2025-03-10", "2025-03-12"}}
	assert.Equal(t, "Ana · urgent · 2025-03-10..2025-03-12", r.Summary())

	c := r.Clone()
	c.Dates[0] = "2030-01-01"
	assert.Equal(t, generic.Date("2025-03-10"), r.Dates[0])

	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusApproved.Terminal())
}
