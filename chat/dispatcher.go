package chat

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/timeoff"
)

// =============================================================================
// TOOL-CALL DISPATCH - Entry point for the AI pipeline
// =============================================================================

const (
	ToolCreateTask     = "create_task"
	ToolRequestTimeOff = "request_time_off"
)

// ToolCall is one function call emitted by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult carries the output of whichever tool ran.
type ToolResult struct {
	Tool    string
	Tasks   *FanOutResult
	TimeOff *timeoff.CreateResult
}

type createTaskArgs struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Assignees   []string `json:"assignees"`
	Due         string   `json:"due"`
	Client      string   `json:"client"`
}

type requestTimeOffArgs struct {
	Type   string   `json:"type" validate:"required,oneof=free_day urgent"`
	Dates  []string `json:"dates" validate:"required,min=1,dive,required"`
	Reason string   `json:"reason" validate:"required"`
}

// TimeOffCreator is the part of timeoff.Service the dispatcher needs.
type TimeOffCreator interface {
	Create(ctx context.Context, requesterID generic.EntityID, in timeoff.CreateInput) (timeoff.CreateResult, error)
}

// Dispatcher routes tool calls to the task fan-out and the time-off engine.
type Dispatcher struct {
	Tasks    *TaskService
	TimeOff  TimeOffCreator
	validate *validator.Validate
}

func NewDispatcher(tasks *TaskService, timeOff TimeOffCreator) *Dispatcher {
	return &Dispatcher{Tasks: tasks, TimeOff: timeOff, validate: validator.New()}
}

// Handle runs call on behalf of actor. Unknown tools and malformed
// arguments are InvalidInput.
func (d *Dispatcher) Handle(ctx context.Context, actor generic.EntityID, call ToolCall) (ToolResult, error) {
	switch call.Name {
	case ToolCreateTask:
		var args createTaskArgs
		if err := d.decode(call, &args); err != nil {
			return ToolResult{}, err
		}
		res, err := d.Tasks.Create(ctx, actor, TaskInput{
			Title:       args.Title,
			Description: args.Description,
			Due:         d.resolveDay(args.Due),
			Assignees:   args.Assignees,
			Client:      args.Client,
		})
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Tool: call.Name, Tasks: &res}, nil

	case ToolRequestTimeOff:
		var args requestTimeOffArgs
		if err := d.decode(call, &args); err != nil {
			return ToolResult{}, err
		}
		dates := make([]string, 0, len(args.Dates))
		for _, raw := range args.Dates {
			day, err := d.resolveTimeOffDay(raw)
			if err != nil {
				return ToolResult{}, err
			}
			dates = append(dates, string(day))
		}
		res, err := d.TimeOff.Create(ctx, actor, timeoff.CreateInput{
			Type:   timeoff.Type(args.Type),
			Dates:  dates,
			Reason: args.Reason,
		})
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Tool: call.Name, TimeOff: &res}, nil
	}
	return ToolResult{}, generic.Errorf(generic.KindInvalidInput, "unknown tool %q", call.Name)
}

func (d *Dispatcher) decode(call ToolCall, dst any) error {
	if len(call.Arguments) == 0 {
		return generic.Errorf(generic.KindInvalidInput, "%s: missing arguments", call.Name)
	}
	if err := json.Unmarshal(call.Arguments, dst); err != nil {
		return generic.Errorf(generic.KindInvalidInput, "%s: malformed arguments: %v", call.Name, err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return generic.Errorf(generic.KindInvalidInput, "%s: %v", call.Name, err)
	}
	return nil
}

// resolveDay accepts YYYY-MM-DD or a relative phrase for a task due date.
// An empty value is left empty so the service applies its default.
func (d *Dispatcher) resolveDay(raw string) generic.Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if day, err := generic.ParseDate(raw); err == nil {
		return day
	}
	return ResolveDate(raw, d.anchor())
}

// isoLike matches text shaped like a calendar date, valid or not.
var isoLike = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)

// resolveTimeOffDay is stricter than resolveDay: a booked day must be a
// valid YYYY-MM-DD or a recognised phrase. There is no tomorrow fallback.
func (d *Dispatcher) resolveTimeOffDay(raw string) (generic.Date, error) {
	raw = strings.TrimSpace(raw)
	day, err := generic.ParseDate(raw)
	if err == nil {
		return day, nil
	}
	if isoLike.MatchString(raw) {
		return "", generic.Errorf(generic.KindInvalidInput, "dates: %q is not a valid date", raw)
	}
	t, _, ok := ExtractDate(raw, d.anchor())
	if !ok {
		return "", generic.Errorf(generic.KindInvalidInput, "dates: cannot read %q as a date", raw)
	}
	return generic.DateOf(t), nil
}

func (d *Dispatcher) anchor() time.Time {
	return d.Tasks.today()
}
