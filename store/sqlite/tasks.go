package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// TASKS (chat.TaskStore)
// =============================================================================

const taskColumns = `id, title, description, due_date, assignee_id, assignee_name,
	client_id, client_name, created_by, task_group_id, status, created_at`

// InsertTask stores one task. Each task is its own write; a fan-out never
// shares a transaction between recipients.
func (s *Store) InsertTask(ctx context.Context, t chat.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Title, nullString(t.Description), t.DueDate, t.AssigneeID, t.AssigneeName,
		nullString(t.ClientID), nullString(t.ClientName), t.CreatedBy, nullString(t.TaskGroupID),
		t.Status, t.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("task %s already exists: %w", t.ID, err)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *Store) ListTasksByAssignee(ctx context.Context, assignee generic.EntityID) ([]chat.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE assignee_id = ? ORDER BY due_date ASC, created_at ASC`
	return s.queryTasks(ctx, query, assignee)
}

func (s *Store) ListTasksByGroup(ctx context.Context, groupID string) ([]chat.Task, error) {
	if groupID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_group_id = ? ORDER BY due_date ASC, created_at ASC`
	return s.queryTasks(ctx, query, groupID)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]chat.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []chat.Task
	for rows.Next() {
		var (
			t                                           chat.Task
			description, clientID, clientName, groupID sql.NullString
			createdAt                                   string
		)
		if err := rows.Scan(&t.ID, &t.Title, &description, &t.DueDate, &t.AssigneeID, &t.AssigneeName,
			&clientID, &clientName, &t.CreatedBy, &groupID, &t.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Description = description.String
		t.ClientID = clientID.String
		t.ClientName = clientName.String
		t.TaskGroupID = groupID.String
		t.CreatedAt = parseTime(createdAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
