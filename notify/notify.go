/*
Package notify publishes approver notifications for time-off requests.

EVENTS:
  timeoff.approvers_notified  a pending request was filed; contacts to alert
  timeoff.approval_reminder   a request is still pending after ReminderAfter
  timeoff.decided             a request was approved, rejected or cancelled

  Each event is a JSON envelope keyed by request id, so every event for one
  request lands on the same Kafka partition in order.

PUBLISHERS:
  KafkaPublisher  segmentio/kafka-go writer (production)
  LogPublisher    slog line per event (dev, tests, no broker configured)

DELIVERY:
  Best effort. The request is already committed when an event is sent, so a
  publish failure is logged and never turned into a request error.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/timeoff"
)

const (
	EventApproversNotified = "timeoff.approvers_notified"
	EventApprovalReminder  = "timeoff.approval_reminder"
	EventDecided           = "timeoff.decided"
)

// Publisher moves serialized events to a transport.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// Envelope is the wire form of every event.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// RequestEvent describes one request and who should hear about it.
type RequestEvent struct {
	RequestID string         `json:"request_id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	UserRole  string         `json:"user_role"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Dates     []generic.Date `json:"dates"`
	Summary   string         `json:"summary"`
	Contacts  []string       `json:"contacts,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
}

// Notifier builds events and hands them to a Publisher.
type Notifier struct {
	Publisher Publisher
	Clock     generic.Clock
	Logger    *slog.Logger
}

func NewNotifier(publisher Publisher, clock generic.Clock, logger *slog.Logger) *Notifier {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{Publisher: publisher, Clock: clock, Logger: logger.With("component", "notify")}
}

// ApproversNotified announces a new pending request. Nothing is sent when
// there is nobody to contact.
func (n *Notifier) ApproversNotified(ctx context.Context, req timeoff.Request, contacts []string) error {
	if len(contacts) == 0 {
		return nil
	}
	ev := requestEvent(req)
	ev.Contacts = contacts
	return n.send(ctx, EventApproversNotified, ev)
}

// ApprovalReminder re-sends a pending request to its approvers.
func (n *Notifier) ApprovalReminder(ctx context.Context, req timeoff.Request, contacts []string) error {
	if len(contacts) == 0 {
		return nil
	}
	ev := requestEvent(req)
	ev.Contacts = contacts
	return n.send(ctx, EventApprovalReminder, ev)
}

// Decided tells the requester's side about a transition made by actor.
func (n *Notifier) Decided(ctx context.Context, req timeoff.Request, actor generic.EntityID) error {
	ev := requestEvent(req)
	ev.ActorID = string(actor)
	return n.send(ctx, EventDecided, ev)
}

func (n *Notifier) send(ctx context.Context, eventType string, ev RequestEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	payload, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: n.Clock.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := n.Publisher.Publish(ctx, eventType, payload, ev.RequestID); err != nil {
		n.Logger.ErrorContext(ctx, "publish failed", "event_type", eventType, "request_id", ev.RequestID, "error", err)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func requestEvent(req timeoff.Request) RequestEvent {
	return RequestEvent{
		RequestID: req.ID,
		UserID:    string(req.UserID),
		UserName:  req.UserName,
		UserRole:  req.UserRole,
		Type:      string(req.Type),
		Status:    string(req.Status),
		Dates:     req.Dates,
		Summary:   req.Summary(),
	}
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

// LogPublisher writes one structured log line per event.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}
