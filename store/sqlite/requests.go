package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/timeoff"
)

// =============================================================================
// TIME-OFF REQUESTS (timeoff.Store)
// =============================================================================

const requestColumns = `
	id, user_id, user_name, user_role, dates_json, type, reason, status, requested_at,
	approved_by, approved_by_name, approved_at, auto_approved,
	rejection_reason, rejected_by, rejected_by_name, rejected_at,
	cancelled_by, cancelled_by_name, cancelled_at, version`

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (timeoff.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&txStore{q: s.db}).GetRequest(ctx, id)
}

// InsertRequest stores a new request outside any explicit transaction.
func (s *Store) InsertRequest(ctx context.Context, r timeoff.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txStore{q: s.db}).InsertRequest(ctx, r)
}

// UpdateRequest applies a guarded update outside any explicit transaction.
func (s *Store) UpdateRequest(ctx context.Context, r timeoff.Request, expected timeoff.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txStore{q: s.db}).UpdateRequest(ctx, r, expected)
}

func (s *Store) ListRequestsByUserStatus(ctx context.Context, userID generic.EntityID, status timeoff.Status) ([]timeoff.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&txStore{q: s.db}).ListRequestsByUserStatus(ctx, userID, status)
}

// ListRequestsByUser returns all requests of a user, newest first.
func (s *Store) ListRequestsByUser(ctx context.Context, userID generic.EntityID) ([]timeoff.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + requestColumns + `
		FROM time_off_requests
		WHERE user_id = ?
		ORDER BY requested_at DESC`
	return queryRequests(ctx, s.db, query, userID)
}

// ListRequestsByStatus returns requests in a status, oldest first.
func (s *Store) ListRequestsByStatus(ctx context.Context, status timeoff.Status) ([]timeoff.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + requestColumns + `
		FROM time_off_requests
		WHERE status = ?
		ORDER BY requested_at ASC`
	return queryRequests(ctx, s.db, query, status)
}

// =============================================================================
// TRANSACTION-SCOPED OPERATIONS (timeoff.Tx)
// =============================================================================

func (ts *txStore) GetRequest(ctx context.Context, id string) (timeoff.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM time_off_requests WHERE id = ?`
	r, err := scanRequest(ts.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.Request{}, generic.Errorf(generic.KindNotFound, "request %s not found", id)
	}
	return r, err
}

func (ts *txStore) InsertRequest(ctx context.Context, r timeoff.Request) error {
	datesJSON, err := json.Marshal(r.Dates)
	if err != nil {
		return fmt.Errorf("encode dates: %w", err)
	}

	query := `
		INSERT INTO time_off_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = ts.q.ExecContext(ctx, query,
		r.ID, r.UserID, r.UserName, r.UserRole, string(datesJSON), r.Type, r.Reason, r.Status,
		r.RequestedAt.UTC().Format(timeLayout),
		nullString(string(r.ApprovedBy)), nullString(r.ApprovedByName), nullTime(r.ApprovedAt), r.AutoApproved,
		nullString(r.RejectionReason), nullString(string(r.RejectedBy)), nullString(r.RejectedByName), nullTime(r.RejectedAt),
		nullString(string(r.CancelledBy)), nullString(r.CancelledByName), nullTime(r.CancelledAt),
		r.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("request %s already exists: %w", r.ID, err)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// UpdateRequest only touches the mutable lifecycle columns; the snapshot
// fields set at creation never change.
func (ts *txStore) UpdateRequest(ctx context.Context, r timeoff.Request, expected timeoff.Status) error {
	query := `
		UPDATE time_off_requests SET
			status = ?,
			approved_by = ?, approved_by_name = ?, approved_at = ?, auto_approved = ?,
			rejection_reason = ?, rejected_by = ?, rejected_by_name = ?, rejected_at = ?,
			cancelled_by = ?, cancelled_by_name = ?, cancelled_at = ?,
			version = version + 1
		WHERE id = ? AND status = ? AND version = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		r.Status,
		nullString(string(r.ApprovedBy)), nullString(r.ApprovedByName), nullTime(r.ApprovedAt), r.AutoApproved,
		nullString(r.RejectionReason), nullString(string(r.RejectedBy)), nullString(r.RejectedByName), nullTime(r.RejectedAt),
		nullString(string(r.CancelledBy)), nullString(r.CancelledByName), nullTime(r.CancelledAt),
		r.ID, expected, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (ts *txStore) ListRequestsByUserStatus(ctx context.Context, userID generic.EntityID, status timeoff.Status) ([]timeoff.Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM time_off_requests
		WHERE user_id = ? AND status = ?`
	return queryRequests(ctx, ts.q, query, userID, status)
}

func (ts *txStore) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	return appendAudit(ctx, ts.q, e)
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (timeoff.Request, error) {
	var (
		r                                        timeoff.Request
		datesJSON, requestedAt                   string
		approvedBy, approvedByName, approvedAt   sql.NullString
		rejectionReason, rejectedBy              sql.NullString
		rejectedByName, rejectedAt               sql.NullString
		cancelledBy, cancelledByName, cancelledAt sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.UserName, &r.UserRole, &datesJSON, &r.Type, &r.Reason, &r.Status, &requestedAt,
		&approvedBy, &approvedByName, &approvedAt, &r.AutoApproved,
		&rejectionReason, &rejectedBy, &rejectedByName, &rejectedAt,
		&cancelledBy, &cancelledByName, &cancelledAt, &r.Version,
	)
	if err != nil {
		return timeoff.Request{}, err
	}

	if err := json.Unmarshal([]byte(datesJSON), &r.Dates); err != nil {
		return timeoff.Request{}, fmt.Errorf("decode dates of %s: %w", r.ID, err)
	}
	r.RequestedAt = parseTime(requestedAt)
	r.ApprovedBy = generic.EntityID(approvedBy.String)
	r.ApprovedByName = approvedByName.String
	r.ApprovedAt = parseNullTime(approvedAt)
	r.RejectionReason = rejectionReason.String
	r.RejectedBy = generic.EntityID(rejectedBy.String)
	r.RejectedByName = rejectedByName.String
	r.RejectedAt = parseNullTime(rejectedAt)
	r.CancelledBy = generic.EntityID(cancelledBy.String)
	r.CancelledByName = cancelledByName.String
	r.CancelledAt = parseNullTime(cancelledAt)
	return r, nil
}

func queryRequests(ctx context.Context, q queryer, query string, args ...any) ([]timeoff.Request, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []timeoff.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
