package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// USER DIRECTORY (generic.UserDirectory)
// =============================================================================

// PutUser inserts or replaces a directory entry. Used for seeding.
func (s *Store) PutUser(ctx context.Context, u generic.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, email, role, archived)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			archived = excluded.archived
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, nullString(u.Email), u.Role, u.Archived)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id generic.EntityID) (generic.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, email, role, archived FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.User{}, fmt.Errorf("user %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return generic.User{}, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]generic.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUsers(ctx, `SELECT id, name, email, role, archived FROM users ORDER BY id`)
}

func (s *Store) ListUsersByRoles(ctx context.Context, roles []string) ([]generic.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	marks := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, r := range roles {
		marks[i] = "?"
		args[i] = r
	}
	query := `SELECT id, name, email, role, archived FROM users
		WHERE role IN (` + strings.Join(marks, ", ") + `) ORDER BY id`
	return s.queryUsers(ctx, query, args...)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]generic.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []generic.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (generic.User, error) {
	var (
		u     generic.User
		email sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Name, &email, &u.Role, &u.Archived); err != nil {
		return generic.User{}, err
	}
	u.Email = email.String
	return u, nil
}

// =============================================================================
// CLIENT ROSTER (chat.ClientRoster)
// =============================================================================

// PutClient inserts or replaces a roster entry. Used for seeding.
func (s *Store) PutClient(ctx context.Context, c chat.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO clients (id, name, archived) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, archived = excluded.archived
	`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Archived); err != nil {
		return fmt.Errorf("failed to save client %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) ListClients(ctx context.Context) ([]chat.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, archived FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []chat.Client
	for rows.Next() {
		var c chat.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Archived); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
