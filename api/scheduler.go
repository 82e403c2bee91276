/*
scheduler.go - Pending approval reminder scheduler

PURPOSE:
  Periodically finds time-off requests that have been pending longer than
  RemindAfter and re-sends them to their approvers.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Re-resolves approver contacts on every reminder, so role changes and
    archived approvers are picked up
  - A request is reminded at most once per RemindAfter window
  - Never changes a request; reminders are notifications only

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - RemindAfter:   Minimum pending age, and the gap between reminders
                   (default: 48 hours)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReminderScheduler(store, resolver, notifier, clock, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - notify/notify.go: ApprovalReminder event
  - roles/resolver.go: Approver contacts
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/roles"
	"github.com/warp/crm-workflow/timeoff"
)

// Reminder sends one reminder. notify.Notifier implements it.
type Reminder interface {
	ApprovalReminder(ctx context.Context, req timeoff.Request, contacts []string) error
}

// ReminderScheduler handles automated approval reminders.
type ReminderScheduler struct {
	Store         timeoff.Store
	Resolver      *roles.Resolver
	Reminder      Reminder
	Clock         generic.Clock
	Logger        *slog.Logger
	CheckInterval time.Duration
	RemindAfter   time.Duration
	Enabled       bool

	runMu    sync.Mutex // guards lastSent
	lastSent map[string]time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReminderScheduler creates a new scheduler.
func NewReminderScheduler(store timeoff.Store, resolver *roles.Resolver, reminder Reminder, clock generic.Clock, logger *slog.Logger) *ReminderScheduler {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		Store:         store,
		Resolver:      resolver,
		Reminder:      reminder,
		Clock:         clock,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: time.Hour,
		RemindAfter:   48 * time.Hour,
		Enabled:       true,
		lastSent:      make(map[string]time.Time),
	}
}

// Start begins the scheduler. Starting a running scheduler does nothing;
// a stopped one may be started again.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("scheduler started", "check_interval", rs.CheckInterval, "remind_after", rs.RemindAfter)
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *ReminderScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.checkAndRemind(ctx)

	for {
		select {
		case <-ticker.C:
			rs.checkAndRemind(ctx)
		case <-stop:
			return
		}
	}
}

func (rs *ReminderScheduler) checkAndRemind(ctx context.Context) {
	sent, err := rs.RunOnce(ctx)
	if err != nil {
		rs.Logger.Error("reminder run failed", "error", err)
		return
	}
	if sent > 0 {
		rs.Logger.Info("approval reminders sent", "count", sent)
	}
}

// RunOnce sends every reminder that is due and returns how many went out.
// A failure for one request is logged and does not stop the others.
func (rs *ReminderScheduler) RunOnce(ctx context.Context) (int, error) {
	pending, err := rs.Store.ListRequestsByStatus(ctx, timeoff.StatusPending)
	if err != nil {
		return 0, generic.Storage("list pending requests", err)
	}
	now := rs.Clock.Now()

	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	stillPending := make(map[string]bool, len(pending))
	sent := 0
	for _, req := range pending {
		stillPending[req.ID] = true
		if now.Sub(req.RequestedAt) < rs.RemindAfter {
			continue
		}
		if last, ok := rs.lastSent[req.ID]; ok && now.Sub(last) < rs.RemindAfter {
			continue
		}
		contacts, err := rs.Resolver.ApproverContacts(ctx, req.UserRole, req.UserID)
		if err != nil {
			rs.Logger.Error("resolve approvers failed", "request_id", req.ID, "error", err)
			continue
		}
		if len(contacts) == 0 {
			continue
		}
		if err := rs.Reminder.ApprovalReminder(ctx, req, contacts); err != nil {
			rs.Logger.Error("reminder failed", "request_id", req.ID, "error", err)
			continue
		}
		rs.lastSent[req.ID] = now
		sent++
	}
	for id := range rs.lastSent {
		if !stillPending[id] {
			delete(rs.lastSent, id)
		}
	}
	return sent, nil
}
