package timeoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/roles"
)

// =============================================================================
// REQUEST SERVICE - Handles request lifecycle with transactional guarantees
// =============================================================================

// MinCancelNotice is how far ahead of the earliest requested day (at local
// midnight) a cancellation must happen.
const MinCancelNotice = 24 * time.Hour

// Service runs every lifecycle transition. A transition takes a keyed lock,
// then re-reads and writes the request plus its audit entry in one store
// transaction.
type Service struct {
	Store     Store
	Directory generic.UserDirectory
	Roles     *roles.Registry
	Resolver  *roles.Resolver
	Locker    generic.Locker
	Clock     generic.Clock
	Location  *time.Location
	Timeout   time.Duration // per operation; zero disables
	Logger    *slog.Logger

	validate *validator.Validate
}

// ServiceConfig holds the optional collaborators. Zero values get defaults:
// an in-process KeyedMutex, the system clock, time.Local and slog.Default.
type ServiceConfig struct {
	Locker   generic.Locker
	Clock    generic.Clock
	Location *time.Location
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewService(store Store, directory generic.UserDirectory, registry *roles.Registry, cfg ServiceConfig) *Service {
	s := &Service{
		Store:     store,
		Directory: directory,
		Roles:     registry,
		Resolver:  roles.NewResolver(registry, directory),
		Locker:    cfg.Locker,
		Clock:     cfg.Clock,
		Location:  cfg.Location,
		Timeout:   cfg.Timeout,
		Logger:    cfg.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.Locker == nil {
		s.Locker = generic.NewKeyedMutex()
	}
	if s.Clock == nil {
		s.Clock = generic.SystemClock{}
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.Logger = s.Logger.With("component", "timeoff")
	return s
}

// =============================================================================
// CREATE - Conflict check, auto-approval and the first audit entry
// =============================================================================

// Create submits a request for requesterID.
// This is TRANSACTIONAL:
//   - Checks the dates against the requester's approved requests
//   - Inserts the request (pending, or approved for auto-approve roles)
//   - Writes the requested / auto_approved audit entry
//
// Approver contacts are resolved after commit, only for pending requests.
func (s *Service) Create(ctx context.Context, requesterID generic.EntityID, in CreateInput) (CreateResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	dates, reason, err := s.validateCreate(in)
	if err != nil {
		return CreateResult{}, err
	}
	requester, role, err := s.member(ctx, requesterID)
	if err != nil {
		return CreateResult{}, err
	}

	unlock, err := s.Locker.Lock(ctx, userLockKey(requester.ID))
	if err != nil {
		return CreateResult{}, classify("lock requester", err)
	}
	defer unlock()

	now := s.Clock.Now()
	req := Request{
		ID:          uuid.NewString(),
		UserID:      requester.ID,
		UserName:    requester.Name,
		UserRole:    role.Name,
		Dates:       dates,
		Type:        in.Type,
		Reason:      reason,
		Status:      StatusPending,
		RequestedAt: now,
	}
	action := generic.AuditRequested
	if role.AutoApprove {
		at := now
		req.Status = StatusApproved
		req.AutoApproved = true
		req.ApprovedBy = requester.ID
		req.ApprovedByName = requester.Name
		req.ApprovedAt = &at
		action = generic.AuditAutoApproved
	}

	err = s.Store.WithTx(ctx, func(tx Tx) error {
		conflicts, err := detectConflict(ctx, tx, requester.ID, dates)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &generic.DateConflictError{UserID: requester.ID, Dates: conflicts}
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return tx.AppendAudit(ctx, auditEntry(req, action, requester, map[string]any{"reason": reason}, now))
	})
	if err != nil {
		return CreateResult{}, classify("create request", err)
	}

	s.Logger.Info("time-off request created",
		"request_id", req.ID, "user_id", req.UserID, "status", req.Status, "days", len(req.Dates))

	result := CreateResult{Request: req, AutoApproved: req.AutoApproved, ApproverContacts: []string{}}
	if req.Status == StatusPending {
		contacts, err := s.Resolver.ApproverContacts(ctx, role.Name, requester.ID)
		if err != nil {
			// The request is committed; the caller only loses the notification targets.
			s.Logger.Error("resolve approver contacts", "request_id", req.ID, "error", err)
		} else {
			result.ApproverContacts = contacts
		}
	}
	return result, nil
}

// validateCreate returns the parsed, sorted dates and the trimmed reason.
func (s *Service) validateCreate(in CreateInput) ([]generic.Date, string, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.validate.Struct(in); err != nil {
		return nil, "", invalidInput(err)
	}
	dates := make([]generic.Date, 0, len(in.Dates))
	for _, raw := range in.Dates {
		d, err := generic.ParseDate(raw)
		if err != nil {
			return nil, "", generic.Errorf(generic.KindInvalidInput, "%v", err)
		}
		dates = append(dates, d)
	}
	generic.SortDates(dates)
	return dates, in.Reason, nil
}

func invalidInput(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return generic.Errorf(generic.KindInvalidInput, "%v", err)
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return generic.Errorf(generic.KindInvalidInput, "%s is required", field)
	case "min":
		if fe.Kind() == reflect.String {
			return generic.Errorf(generic.KindInvalidInput, "%s must be at least %s characters", field, fe.Param())
		}
		return generic.Errorf(generic.KindInvalidInput, "%s needs at least %s entries", field, fe.Param())
	case "oneof":
		return generic.Errorf(generic.KindInvalidInput, "%s must be one of: %s", field, fe.Param())
	case "unique":
		return generic.Errorf(generic.KindInvalidInput, "%s must not repeat", field)
	case "datetime":
		return generic.Errorf(generic.KindInvalidInput, "%s: %q is not a YYYY-MM-DD date", fe.Namespace(), fe.Value())
	}
	return generic.Errorf(generic.KindInvalidInput, "%s failed %s", field, fe.Tag())
}

// =============================================================================
// APPROVE / REJECT - Exactly one decision per pending request
// =============================================================================

// Approve moves a pending request to approved.
func (s *Service) Approve(ctx context.Context, requestID string, approverID generic.EntityID) (Request, error) {
	return s.decide(ctx, requestID, approverID, StatusApproved, "")
}

// Reject moves a pending request to rejected. The reason is optional.
func (s *Service) Reject(ctx context.Context, requestID string, approverID generic.EntityID, reason string) (Request, error) {
	return s.decide(ctx, requestID, approverID, StatusRejected, strings.TrimSpace(reason))
}

// Decide dispatches an "approve" or "reject" action.
func (s *Service) Decide(ctx context.Context, requestID string, approverID generic.EntityID, action, reason string) (Request, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve":
		return s.Approve(ctx, requestID, approverID)
	case "reject":
		return s.Reject(ctx, requestID, approverID, reason)
	}
	return Request{}, generic.Errorf(generic.KindInvalidInput, "action must be approve or reject, got %q", action)
}

// decide checks, in order: the request exists, the approver's role is in
// the requester's hierarchy, the request is pending. Permission goes first
// so an outsider is refused the same way whatever the status.
func (s *Service) decide(ctx context.Context, requestID string, approverID generic.EntityID, to Status, reason string) (Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Resolved before the transaction; an unknown approver is reported
	// only once the request is known to exist.
	approver, approverRole, actorErr := s.member(ctx, approverID)

	unlock, err := s.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return Request{}, classify("lock request", err)
	}
	defer unlock()

	// Approval competes with Create for the requester's days. The owner
	// never changes, so reading it before the transaction is safe.
	if to == StatusApproved {
		if peek, err := s.Store.GetRequest(ctx, requestID); err == nil {
			unlockUser, err := s.Locker.Lock(ctx, userLockKey(peek.UserID))
			if err != nil {
				return Request{}, classify("lock requester", err)
			}
			defer unlockUser()
		}
	}

	var out Request
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if actorErr != nil {
			return permissionDenied(actorErr)
		}
		if approver.ID == req.UserID || !s.Roles.CanApprove(approverRole.Name, req.UserRole) {
			return generic.Errorf(generic.KindInsufficientPermission,
				"role %s cannot decide requests from %s", approverRole.Name, req.UserRole)
		}
		if req.Status != StatusPending {
			return generic.Errorf(generic.KindAlreadyProcessed, "request %s is already %s", req.ID, req.Status)
		}

		now := s.Clock.Now()
		action := generic.AuditApproved
		payload := map[string]any{}
		switch to {
		case StatusApproved:
			// Pending requests may overlap; only one of them can become approved.
			conflicts, err := detectConflict(ctx, tx, req.UserID, req.Dates)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &generic.DateConflictError{UserID: req.UserID, Dates: conflicts}
			}
			req.ApprovedBy = approver.ID
			req.ApprovedByName = approver.Name
			req.ApprovedAt = &now
		case StatusRejected:
			action = generic.AuditRejected
			req.RejectionReason = reason
			req.RejectedBy = approver.ID
			req.RejectedByName = approver.Name
			req.RejectedAt = &now
			if reason != "" {
				payload["reason"] = reason
			}
		}
		req.Status = to

		if err := tx.UpdateRequest(ctx, req, StatusPending); err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return generic.Errorf(generic.KindAlreadyProcessed, "request %s was decided concurrently", req.ID)
			}
			return fmt.Errorf("update request: %w", err)
		}
		req.Version++
		if err := tx.AppendAudit(ctx, auditEntry(req, action, approver, payload, now)); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return Request{}, classify("decide request", err)
	}

	s.Logger.Info("time-off request decided",
		"request_id", out.ID, "status", out.Status, "approver_id", approver.ID)
	return out, nil
}

// =============================================================================
// CANCEL - Requester or approver, at least 24 hours ahead
// =============================================================================

// Cancel moves a pending or approved request to cancelled.
func (s *Service) Cancel(ctx context.Context, requestID string, actorID generic.EntityID) (Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	actor, actorErr := s.lookup(ctx, actorID)

	unlock, err := s.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return Request{}, classify("lock request", err)
	}
	defer unlock()

	var out Request
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if actorErr != nil {
			return permissionDenied(actorErr)
		}
		if actor.ID != req.UserID && actor.ID != req.ApprovedBy {
			return generic.Errorf(generic.KindInsufficientPermission,
				"only the requester or the approver can cancel request %s", req.ID)
		}
		switch req.Status {
		case StatusRejected:
			return generic.Errorf(generic.KindCannotCancelRejected, "request %s was rejected", req.ID)
		case StatusCancelled:
			return generic.Errorf(generic.KindAlreadyCancelled, "request %s is already cancelled", req.ID)
		}

		now := s.Clock.Now()
		earliest := req.EarliestDate()
		if hours := generic.HoursUntil(now, earliest, s.Location); hours < MinCancelNotice.Hours() {
			return generic.Errorf(generic.KindTooLateToCancel,
				"%s starts in %.1fh; cancellations need %.0fh notice", earliest, hours, MinCancelNotice.Hours())
		}

		prev := req.Status
		req.Status = StatusCancelled
		req.CancelledBy = actor.ID
		req.CancelledByName = actor.Name
		req.CancelledAt = &now
		if err := tx.UpdateRequest(ctx, req, prev); err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return generic.Errorf(generic.KindAlreadyProcessed, "request %s changed concurrently", req.ID)
			}
			return fmt.Errorf("update request: %w", err)
		}
		req.Version++
		if err := tx.AppendAudit(ctx, auditEntry(req, generic.AuditCancelled, actor, map[string]any{"previous_status": string(prev)}, now)); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return Request{}, classify("cancel request", err)
	}

	s.Logger.Info("time-off request cancelled", "request_id", out.ID, "actor_id", actor.ID)
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) lookup(ctx context.Context, id generic.EntityID) (generic.User, error) {
	user, err := s.Directory.GetUser(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return generic.User{}, generic.Errorf(generic.KindNotFound, "user %s not found", id)
		}
		return generic.User{}, classify("load user", err)
	}
	return user, nil
}

// member loads an active directory user and their registered role.
func (s *Service) member(ctx context.Context, id generic.EntityID) (generic.User, roles.Role, error) {
	user, err := s.lookup(ctx, id)
	if err != nil {
		return generic.User{}, roles.Role{}, err
	}
	if !user.Active() {
		return generic.User{}, roles.Role{}, generic.Errorf(generic.KindInsufficientPermission, "user %s is archived", id)
	}
	role, ok := s.Roles.Lookup(user.Role)
	if !ok {
		return generic.User{}, roles.Role{}, generic.Errorf(generic.KindInsufficientPermission, "user %s has unknown role %q", id, user.Role)
	}
	return user, role, nil
}

// permissionDenied turns an actor lookup failure into a permission error,
// keeping storage failures as they are.
func permissionDenied(err error) error {
	if kind, ok := generic.KindOf(err); ok && kind == generic.KindStorageUnavailable {
		return err
	}
	return generic.Errorf(generic.KindInsufficientPermission, "actor not allowed: %v", err)
}

// classify keeps classified errors and reports everything else, including
// deadlines, as StorageUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return generic.Storage(op, err)
	}
	if _, ok := generic.KindOf(err); ok {
		return err
	}
	return generic.Storage(op, err)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func auditEntry(req Request, action generic.AuditAction, author generic.User, payload map[string]any, at time.Time) generic.AuditEntry {
	return generic.AuditEntry{
		ID:         uuid.NewString(),
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Action:     action,
		EntityID:   req.ID,
		EntityType: generic.EntityTypeTimeOff,
		EntityName: req.Summary(),
		Payload:    payload,
		CreatedAt:  at,
	}
}

func userLockKey(id generic.EntityID) string { return "timeoff:user:" + string(id) }

func requestLockKey(id string) string { return "timeoff:request:" + id }
