package timeoff

import (
	"context"
	"sort"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// READ SIDE - Listings, yearly summary and per-request history
// =============================================================================

// ListMine returns every request of userID, newest first.
func (s *Service) ListMine(ctx context.Context, userID generic.EntityID) ([]Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reqs, err := s.Store.ListRequestsByUser(ctx, userID)
	if err != nil {
		return nil, classify("list requests", err)
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].RequestedAt.After(reqs[j].RequestedAt) })
	return reqs, nil
}

// ListPendingFor returns the pending requests approverID may act on: those
// whose stored requester role the approver's role can approve. The
// approver's own requests are never included.
func (s *Service) ListPendingFor(ctx context.Context, approverID generic.EntityID) ([]Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	approver, role, err := s.member(ctx, approverID)
	if err != nil {
		return nil, err
	}
	pending, err := s.Store.ListRequestsByStatus(ctx, StatusPending)
	if err != nil {
		return nil, classify("list pending requests", err)
	}
	out := make([]Request, 0, len(pending))
	for _, r := range pending {
		if r.UserID == approver.ID || !s.Resolver.CanView(role.Name, r.UserRole) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SummaryLine totals the days of one status and type.
type SummaryLine struct {
	Status   Status
	Type     Type
	Requests int
	Days     generic.Amount
}

// YearSummary counts a user's requested days falling in one calendar year.
// A request spanning two years contributes only its days inside Year.
type YearSummary struct {
	UserID       generic.EntityID
	Year         int
	Lines        []SummaryLine // ordered by status, then type
	ApprovedDays generic.Amount
	PendingDays  generic.Amount
}

var statusOrder = map[Status]int{StatusPending: 0, StatusApproved: 1, StatusRejected: 2, StatusCancelled: 3}

// Summary aggregates a user's requests for year.
func (s *Service) Summary(ctx context.Context, userID generic.EntityID, year int) (YearSummary, error) {
	if year < 1 || year > 9999 {
		return YearSummary{}, generic.Errorf(generic.KindInvalidInput, "year %d out of range", year)
	}
	reqs, err := s.ListMine(ctx, userID)
	if err != nil {
		return YearSummary{}, err
	}

	type key struct {
		status Status
		typ    Type
	}
	lines := make(map[key]*SummaryLine)
	sum := YearSummary{UserID: userID, Year: year, ApprovedDays: generic.ZeroDays(), PendingDays: generic.ZeroDays()}
	for _, r := range reqs {
		days := 0
		for _, d := range r.Dates {
			if d.Year() == year {
				days++
			}
		}
		if days == 0 {
			continue
		}
		amount := generic.NewAmountFromInt(days, generic.UnitDays)
		k := key{r.Status, r.Type}
		line, ok := lines[k]
		if !ok {
			line = &SummaryLine{Status: r.Status, Type: r.Type, Days: generic.ZeroDays()}
			lines[k] = line
		}
		line.Requests++
		line.Days = line.Days.Add(amount)
		switch r.Status {
		case StatusApproved:
			sum.ApprovedDays = sum.ApprovedDays.Add(amount)
		case StatusPending:
			sum.PendingDays = sum.PendingDays.Add(amount)
		}
	}

	sum.Lines = make([]SummaryLine, 0, len(lines))
	for _, l := range lines {
		sum.Lines = append(sum.Lines, *l)
	}
	sort.Slice(sum.Lines, func(i, j int) bool {
		a, b := sum.Lines[i], sum.Lines[j]
		if a.Status != b.Status {
			return statusOrder[a.Status] < statusOrder[b.Status]
		}
		return a.Type < b.Type
	})
	return sum, nil
}

// History returns the audit trail of one request, oldest first. Visible to
// the requester, the recorded approver and anyone whose role may decide it.
func (s *Service) History(ctx context.Context, requestID string, viewerID generic.EntityID) ([]generic.AuditEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, classify("load request", err)
	}
	if viewerID != req.UserID && viewerID != req.ApprovedBy {
		_, role, err := s.member(ctx, viewerID)
		if err != nil {
			return nil, permissionDenied(err)
		}
		if !s.Roles.CanApprove(role.Name, req.UserRole) {
			return nil, generic.Errorf(generic.KindInsufficientPermission, "request %s is not visible to %s", req.ID, viewerID)
		}
	}

	entries, err := s.Store.QueryAudit(ctx, generic.AuditFilter{EntityID: req.ID, EntityType: generic.EntityTypeTimeOff})
	if err != nil {
		return nil, classify("query audit", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}
