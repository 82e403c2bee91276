/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation-specific response wrappers

VALIDATION:
  Request types carry go-playground/validator tags checked by decode().
  Domain rules (date format, reason length, hierarchy) stay in the
  services so every entry point enforces them.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/timeoff"
)

// =============================================================================
// TIME OFF
// =============================================================================

// CreateTimeOffRequest is the body of POST /api/timeoff.
type CreateTimeOffRequest struct {
	Type   string   `json:"type" validate:"required"`
	Dates  []string `json:"dates" validate:"required"`
	Reason string   `json:"reason"`
}

// CreateTimeOffResponse reports the new request and who was told about it.
type CreateTimeOffResponse struct {
	RequestID                string   `json:"request_id"`
	Status                   string   `json:"status"`
	AutoApproved             bool     `json:"auto_approved"`
	NotifiedApproverContacts []string `json:"notified_approver_contacts"`
}

// DecisionRequest is the body of POST /api/timeoff/{id}/decision.
type DecisionRequest struct {
	Action string `json:"action" validate:"required"`
	Reason string `json:"reason"`
}

// TransitionResponse is returned by decision and cancel.
type TransitionResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// TimeOffDTO represents a request in listings.
type TimeOffDTO struct {
	ID              string   `json:"id"`
	UserID          string   `json:"user_id"`
	UserName        string   `json:"user_name"`
	UserRole        string   `json:"user_role"`
	Dates           []string `json:"dates"`
	Type            string   `json:"type"`
	Reason          string   `json:"reason"`
	Status          string   `json:"status"`
	AutoApproved    bool     `json:"auto_approved"`
	RequestedAt     string   `json:"requested_at"`
	ApprovedBy      string   `json:"approved_by,omitempty"`
	ApprovedByName  string   `json:"approved_by_name,omitempty"`
	ApprovedAt      string   `json:"approved_at,omitempty"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	RejectedBy      string   `json:"rejected_by,omitempty"`
	RejectedAt      string   `json:"rejected_at,omitempty"`
	CancelledBy     string   `json:"cancelled_by,omitempty"`
	CancelledAt     string   `json:"cancelled_at,omitempty"`
}

// SummaryDTO is GET /api/timeoff/summary.
type SummaryDTO struct {
	UserID       string           `json:"user_id"`
	Year         int              `json:"year"`
	ApprovedDays string           `json:"approved_days"`
	PendingDays  string           `json:"pending_days"`
	Lines        []SummaryLineDTO `json:"lines"`
}

type SummaryLineDTO struct {
	Status   string `json:"status"`
	Type     string `json:"type"`
	Requests int    `json:"requests"`
	Days     string `json:"days"`
}

// AuditEntryDTO is one history line.
type AuditEntryDTO struct {
	ID         string         `json:"id"`
	AuthorID   string         `json:"author_id"`
	AuthorName string         `json:"author_name"`
	Action     string         `json:"action"`
	EntityName string         `json:"entity_name"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// =============================================================================
// CHAT
// =============================================================================

// ChatTaskRequest is the body of POST /api/chat/tasks. Assignees and Client
// override what the utterance names.
type ChatTaskRequest struct {
	Utterance string   `json:"utterance" validate:"required"`
	Assignees []string `json:"assignees"`
	Client    string   `json:"client"`
}

// AssigneeResultDTO reports one name fragment.
type AssigneeResultDTO struct {
	Fragment     string `json:"fragment"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	AssigneeName string `json:"assignee_name,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

// FanOutDTO is the outcome of a task instruction.
type FanOutDTO struct {
	GroupID string              `json:"task_group_id,omitempty"`
	Title   string              `json:"title"`
	DueDate string              `json:"due_date"`
	Created int                 `json:"created"`
	Failed  int                 `json:"failed"`
	Results []AssigneeResultDTO `json:"results"`
}

// ToolCallResponse wraps whichever tool ran.
type ToolCallResponse struct {
	Tool    string                 `json:"tool"`
	Tasks   *FanOutDTO             `json:"tasks,omitempty"`
	TimeOff *CreateTimeOffResponse `json:"time_off,omitempty"`
}

// TaskDTO represents a task in listings.
type TaskDTO struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	DueDate      string `json:"due_date"`
	AssigneeID   string `json:"assignee_id"`
	AssigneeName string `json:"assignee_name"`
	ClientID     string `json:"client_id,omitempty"`
	ClientName   string `json:"client_name,omitempty"`
	CreatedBy    string `json:"created_by"`
	TaskGroupID  string `json:"task_group_id,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTimeOffDTO(r timeoff.Request) TimeOffDTO {
	dates := make([]string, len(r.Dates))
	for i, d := range r.Dates {
		dates[i] = string(d)
	}
	return TimeOffDTO{
		ID:              r.ID,
		UserID:          string(r.UserID),
		UserName:        r.UserName,
		UserRole:        r.UserRole,
		Dates:           dates,
		Type:            string(r.Type),
		Reason:          r.Reason,
		Status:          string(r.Status),
		AutoApproved:    r.AutoApproved,
		RequestedAt:     r.RequestedAt.Format(time.RFC3339),
		ApprovedBy:      string(r.ApprovedBy),
		ApprovedByName:  r.ApprovedByName,
		ApprovedAt:      formatTime(r.ApprovedAt),
		RejectionReason: r.RejectionReason,
		RejectedBy:      string(r.RejectedBy),
		RejectedAt:      formatTime(r.RejectedAt),
		CancelledBy:     string(r.CancelledBy),
		CancelledAt:     formatTime(r.CancelledAt),
	}
}

func toTimeOffDTOs(reqs []timeoff.Request) []TimeOffDTO {
	out := make([]TimeOffDTO, len(reqs))
	for i, r := range reqs {
		out[i] = toTimeOffDTO(r)
	}
	return out
}

func toCreateResponse(res timeoff.CreateResult) CreateTimeOffResponse {
	contacts := res.ApproverContacts
	if contacts == nil {
		contacts = []string{}
	}
	return CreateTimeOffResponse{
		RequestID:                res.Request.ID,
		Status:                   string(res.Request.Status),
		AutoApproved:             res.AutoApproved,
		NotifiedApproverContacts: contacts,
	}
}

func toSummaryDTO(s timeoff.YearSummary) SummaryDTO {
	lines := make([]SummaryLineDTO, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = SummaryLineDTO{
			Status:   string(l.Status),
			Type:     string(l.Type),
			Requests: l.Requests,
			Days:     l.Days.Value.String(),
		}
	}
	return SummaryDTO{
		UserID:       string(s.UserID),
		Year:         s.Year,
		ApprovedDays: s.ApprovedDays.Value.String(),
		PendingDays:  s.PendingDays.Value.String(),
		Lines:        lines,
	}
}

func toAuditDTOs(entries []generic.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:         e.ID,
			AuthorID:   string(e.AuthorID),
			AuthorName: e.AuthorName,
			Action:     string(e.Action),
			EntityName: e.EntityName,
			Payload:    e.Payload,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func toFanOutDTO(res chat.FanOutResult) FanOutDTO {
	results := make([]AssigneeResultDTO, len(res.Results))
	for i, r := range res.Results {
		dto := AssigneeResultDTO{
			Fragment:     r.Fragment,
			AssigneeID:   string(r.AssigneeID),
			AssigneeName: r.AssigneeName,
			TaskID:       r.TaskID,
		}
		if r.Err != nil {
			_, dto.Code = statusFor(r.Err)
			dto.Error = r.Err.Error()
		}
		results[i] = dto
	}
	return FanOutDTO{
		GroupID: res.GroupID,
		Title:   res.Title,
		DueDate: string(res.DueDate),
		Created: res.Created(),
		Failed:  res.Failed(),
		Results: results,
	}
}

func toTaskDTOs(tasks []chat.Task) []TaskDTO {
	out := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		out[i] = TaskDTO{
			ID:           t.ID,
			Title:        t.Title,
			Description:  t.Description,
			DueDate:      string(t.DueDate),
			AssigneeID:   string(t.AssigneeID),
			AssigneeName: t.AssigneeName,
			ClientID:     t.ClientID,
			ClientName:   t.ClientName,
			CreatedBy:    string(t.CreatedBy),
			TaskGroupID:  t.TaskGroupID,
			Status:       string(t.Status),
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
