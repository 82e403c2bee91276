/*
handlers.go - HTTP API handlers for the CRM workflow core

PURPOSE:
  Exposes the time-off lifecycle engine and the chat side-channel via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  services. The caller is always the authenticated user; no endpoint takes
  an actor id from the body.

ENDPOINTS:
  Time off:
    POST   /api/timeoff                Create a request
    GET    /api/timeoff/mine           My requests, newest first
    GET    /api/timeoff/pending        Pending requests I may act on
    GET    /api/timeoff/summary?year=  My day totals for a year
    GET    /api/timeoff/{id}/history   Audit trail of one request
    POST   /api/timeoff/{id}/decision  {action: approve|reject, reason?}
    POST   /api/timeoff/{id}/cancel    Cancel (requester or approver)

  Chat:
    POST   /api/chat/tasks             "tarea isaac carolina, llamar mañana"
    POST   /api/chat/tool-calls        {name, arguments} from the model
    GET    /api/tasks/mine             Tasks assigned to me

REQUEST FLOW:
  1. Decode and validate the body
  2. Call the service as the authenticated user
  3. Publish notifications (best effort)
  4. Serialize response

ERROR HANDLING:
  Every service error carries a generic.Kind; errors.go maps each kind to
  its own status and code. Nothing known is reported as a bare 500.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Kind to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// EventSink receives lifecycle events after commit. notify.Notifier
// implements it.
type EventSink interface {
	ApproversNotified(ctx context.Context, req timeoff.Request, contacts []string) error
	Decided(ctx context.Context, req timeoff.Request, actor generic.EntityID) error
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	TimeOff    *timeoff.Service
	Tasks      *chat.TaskService
	Dispatcher *chat.Dispatcher
	Events     EventSink // optional
	Health     Pinger    // optional
	Clock      generic.Clock
	Logger     *slog.Logger

	validate *validator.Validate
}

func NewHandler(timeOff *timeoff.Service, tasks *chat.TaskService, events EventSink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		TimeOff:    timeOff,
		Tasks:      tasks,
		Dispatcher: chat.NewDispatcher(tasks, timeOff),
		Events:     events,
		Clock:      timeOff.Clock,
		Logger:     logger.With("component", "api"),
		validate:   validator.New(),
	}
}

// =============================================================================
// TIME-OFF HANDLERS
// =============================================================================

// CreateTimeOff files a request for the caller.
// POST /api/timeoff
func (h *Handler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	var req CreateTimeOffRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.TimeOff.Create(r.Context(), actor(r).ID, timeoff.CreateInput{
		Type:   timeoff.Type(req.Type),
		Dates:  req.Dates,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	h.announce(r.Context(), res)
	writeJSON(w, http.StatusCreated, toCreateResponse(res))
}

// ListMyTimeOff returns the caller's requests.
// GET /api/timeoff/mine
func (h *Handler) ListMyTimeOff(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.TimeOff.ListMine(r.Context(), actor(r).ID)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toTimeOffDTOs(reqs)})
}

// ListPending returns the requests the caller may approve or reject.
// GET /api/timeoff/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.TimeOff.ListPendingFor(r.Context(), actor(r).ID)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toTimeOffDTOs(reqs)})
}

// Summary totals the caller's days for ?year= (default: current year).
// GET /api/timeoff/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	year := h.Clock.Now().In(h.TimeOff.Location).Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			writeError(h.Logger, w, r, generic.Errorf(generic.KindInvalidInput, "year must be a number"))
			return
		}
		year = y
	}
	sum, err := h.TimeOff.Summary(r.Context(), actor(r).ID, year)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// History returns the audit trail of one request.
// GET /api/timeoff/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.TimeOff.History(r.Context(), chi.URLParam(r, "id"), actor(r).ID)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAuditDTOs(entries)})
}

// Decide approves or rejects a pending request.
// POST /api/timeoff/{id}/decision
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	updated, err := h.TimeOff.Decide(r.Context(), chi.URLParam(r, "id"), caller.ID, req.Action, req.Reason)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	h.decided(r.Context(), updated, caller.ID)
	writeJSON(w, http.StatusOK, TransitionResponse{RequestID: updated.ID, Status: string(updated.Status)})
}

// Cancel withdraws a request.
// POST /api/timeoff/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	updated, err := h.TimeOff.Cancel(r.Context(), chi.URLParam(r, "id"), caller.ID)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	h.decided(r.Context(), updated, caller.ID)
	writeJSON(w, http.StatusOK, TransitionResponse{RequestID: updated.ID, Status: string(updated.Status)})
}

// =============================================================================
// CHAT HANDLERS
// =============================================================================

// CreateChatTasks turns a "tarea ..." utterance into tasks.
// POST /api/chat/tasks
func (h *Handler) CreateChatTasks(w http.ResponseWriter, r *http.Request) {
	var req ChatTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Tasks.CreateFromUtterance(r.Context(), actor(r).ID, req.Utterance, req.Assignees, req.Client)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	writeJSON(w, fanOutStatus(res), toFanOutDTO(res))
}

// HandleToolCall runs one model tool call as the caller.
// POST /api/chat/tool-calls
func (h *Handler) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	var call chat.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeError(h.Logger, w, r, generic.Errorf(generic.KindInvalidInput, "invalid request body: %v", err))
		return
	}
	res, err := h.Dispatcher.Handle(r.Context(), actor(r).ID, call)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	out := ToolCallResponse{Tool: res.Tool}
	status := http.StatusCreated
	if res.Tasks != nil {
		dto := toFanOutDTO(*res.Tasks)
		out.Tasks = &dto
		status = fanOutStatus(*res.Tasks)
	}
	if res.TimeOff != nil {
		h.announce(r.Context(), *res.TimeOff)
		dto := toCreateResponse(*res.TimeOff)
		out.TimeOff = &dto
	}
	writeJSON(w, status, out)
}

// ListMyTasks returns tasks assigned to the caller.
// GET /api/tasks/mine
func (h *Handler) ListMyTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListMine(r.Context(), actor(r).ID)
	if err != nil {
		writeError(h.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": toTaskDTOs(tasks)})
}

// Healthz reports liveness and, when configured, storage reachability.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(h.Logger, w, r, generic.Storage("ping", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure the error
// response is already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(h.Logger, w, r, generic.Errorf(generic.KindInvalidInput, "invalid request body: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(h.Logger, w, r, generic.Errorf(generic.KindInvalidInput, "%v", err))
		return false
	}
	return true
}

// fanOutStatus is 201 when every fragment produced a task, 207 when only
// some did, and 422 when none did.
func fanOutStatus(res chat.FanOutResult) int {
	switch {
	case res.Failed() == 0:
		return http.StatusCreated
	case res.Created() == 0:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusMultiStatus
	}
}

func (h *Handler) announce(ctx context.Context, res timeoff.CreateResult) {
	if h.Events == nil || res.AutoApproved {
		return
	}
	if err := h.Events.ApproversNotified(ctx, res.Request, res.ApproverContacts); err != nil {
		h.Logger.Error("approver notification failed", "request_id", res.Request.ID, "error", err)
	}
}

func (h *Handler) decided(ctx context.Context, req timeoff.Request, by generic.EntityID) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Decided(ctx, req, by); err != nil {
		h.Logger.Error("decision notification failed", "request_id", req.ID, "error", err)
	}
}
