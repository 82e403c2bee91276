// Package memory provides an in-memory implementation of every store the
// workflow core needs (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/timeoff"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements timeoff.Store, generic.UserDirectory, generic.AuditLog,
// chat.TaskStore and chat.ClientRoster.
type Store struct {
	mu       sync.RWMutex
	users    map[generic.EntityID]generic.User
	clients  map[string]chat.Client
	requests map[string]timeoff.Request
	audit    []generic.AuditEntry
	tasks    []chat.Task
}

func New() *Store {
	return &Store{
		users:    make(map[generic.EntityID]generic.User),
		clients:  make(map[string]chat.Client),
		requests: make(map[string]timeoff.Request),
	}
}

// Ping always succeeds unless ctx is done.
func (m *Store) Ping(ctx context.Context) error { return ctx.Err() }

var (
	_ timeoff.Store         = (*Store)(nil)
	_ generic.UserDirectory = (*Store)(nil)
	_ generic.AuditLog      = (*Store)(nil)
	_ chat.TaskStore        = (*Store)(nil)
	_ chat.ClientRoster     = (*Store)(nil)
)

// =============================================================================
// SEEDING
// =============================================================================

// PutUser inserts or replaces a directory entry.
func (m *Store) PutUser(_ context.Context, u generic.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// PutClient inserts or replaces a roster entry.
func (m *Store) PutClient(_ context.Context, c chat.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

// =============================================================================
// USER DIRECTORY / CLIENT ROSTER
// =============================================================================

func (m *Store) GetUser(_ context.Context, id generic.EntityID) (generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return generic.User{}, fmt.Errorf("user %s: %w", id, generic.ErrNotFound)
	}
	return u, nil
}

func (m *Store) ListUsers(_ context.Context) ([]generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]generic.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) ListUsersByRoles(ctx context.Context, roles []string) ([]generic.User, error) {
	all, err := m.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	var out []generic.User
	for _, u := range all {
		if want[u.Role] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Store) ListClients(_ context.Context) ([]chat.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// TIME-OFF REQUESTS - direct (auto-commit) access
// =============================================================================

func (m *Store) GetRequest(ctx context.Context, id string) (timeoff.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{parent: m}).GetRequest(ctx, id)
}

func (m *Store) InsertRequest(ctx context.Context, r timeoff.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{parent: m}).InsertRequest(ctx, r)
}

func (m *Store) UpdateRequest(ctx context.Context, r timeoff.Request, expected timeoff.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{parent: m}).UpdateRequest(ctx, r, expected)
}

func (m *Store) ListRequestsByUserStatus(ctx context.Context, userID generic.EntityID, status timeoff.Status) ([]timeoff.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{parent: m}).ListRequestsByUserStatus(ctx, userID, status)
}

func (m *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	return m.Append(ctx, e)
}

// ListRequestsByUser returns the user's requests, newest first.
func (m *Store) ListRequestsByUser(_ context.Context, userID generic.EntityID) ([]timeoff.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []timeoff.Request
	for _, r := range m.requests {
		if r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

// ListRequestsByStatus returns requests in status, oldest first.
func (m *Store) ListRequestsByStatus(_ context.Context, status timeoff.Status) ([]timeoff.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []timeoff.Request
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

func (m *Store) Append(_ context.Context, e generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Store) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return m.Query(ctx, filter)
}

// =============================================================================
// TASKS
// =============================================================================

func (m *Store) InsertTask(_ context.Context, t chat.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tasks {
		if existing.ID == t.ID {
			return fmt.Errorf("task %s already exists", t.ID)
		}
	}
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *Store) ListTasksByAssignee(_ context.Context, assignee generic.EntityID) ([]chat.Task, error) {
	return m.filterTasks(func(t chat.Task) bool { return t.AssigneeID == assignee }), nil
}

func (m *Store) ListTasksByGroup(_ context.Context, groupID string) ([]chat.Task, error) {
	if groupID == "" {
		return nil, nil
	}
	return m.filterTasks(func(t chat.Task) bool { return t.TaskGroupID == groupID }), nil
}

func (m *Store) filterTasks(keep func(chat.Task) bool) []chat.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []chat.Task
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate < out[j].DueDate
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (m *Store) WithTx(ctx context.Context, fn func(timeoff.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return generic.Storage("begin transaction", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	requests map[string]timeoff.Request
	audit    int
}

func (m *Store) snapshot() memorySnapshot {
	reqs := make(map[string]timeoff.Request, len(m.requests))
	for k, v := range m.requests {
		reqs[k] = v
	}
	return memorySnapshot{requests: reqs, audit: len(m.audit)}
}

// restore rolls back. Audit entries are only ever appended, so truncating
// to the snapshot length undoes a transaction's appends.
func (m *Store) restore(s memorySnapshot) {
	m.requests = s.requests
	m.audit = m.audit[:s.audit]
}

// txView operates on the parent's maps without locking; the caller holds
// the lock.
type txView struct {
	parent *Store
}

func (tv *txView) GetRequest(_ context.Context, id string) (timeoff.Request, error) {
	r, ok := tv.parent.requests[id]
	if !ok {
		return timeoff.Request{}, generic.Errorf(generic.KindNotFound, "request %s not found", id)
	}
	return r.Clone(), nil
}

func (tv *txView) InsertRequest(_ context.Context, r timeoff.Request) error {
	if _, exists := tv.parent.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	tv.parent.requests[r.ID] = r.Clone()
	return nil
}

func (tv *txView) UpdateRequest(_ context.Context, r timeoff.Request, expected timeoff.Status) error {
	cur, ok := tv.parent.requests[r.ID]
	if !ok {
		return generic.Errorf(generic.KindNotFound, "request %s not found", r.ID)
	}
	if cur.Status != expected || cur.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	next := r.Clone()
	next.Version = r.Version + 1
	tv.parent.requests[r.ID] = next
	return nil
}

func (tv *txView) ListRequestsByUserStatus(_ context.Context, userID generic.EntityID, status timeoff.Status) ([]timeoff.Request, error) {
	var out []timeoff.Request
	for _, r := range tv.parent.requests {
		if r.UserID == userID && r.Status == status {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (tv *txView) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, e)
	return nil
}
