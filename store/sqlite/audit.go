package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// AUDIT LOG (generic.AuditLog) - Append-only
// =============================================================================

// Append writes one audit entry outside any request transaction.
func (s *Store) Append(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, e)
}

// AppendAudit is Append under the timeoff.Tx name.
func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	return s.Append(ctx, e)
}

func appendAudit(ctx context.Context, q queryer, e generic.AuditEntry) error {
	var payload []byte
	if len(e.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log
		(id, author_id, author_name, action, entity_id, entity_type, entity_name, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.AuthorID, e.AuthorName, e.Action, e.EntityID, e.EntityType, e.EntityName,
		nullString(string(payload)), e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries, oldest first; ties keep insertion order.
func (s *Store) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.AuthorID != "" {
		where = append(where, "author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(timeLayout))
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC().Format(timeLayout))
	}

	query := `SELECT id, author_id, author_name, action, entity_id, entity_type, entity_name, payload_json, created_at
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e         generic.AuditEntry
			payload   []byte
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AuthorID, &e.AuthorName, &e.Action, &e.EntityID,
			&e.EntityType, &e.EntityName, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload %s: %w", e.ID, err)
			}
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QueryAudit is Query under the timeoff.Store name.
func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return s.Query(ctx, filter)
}
