package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// TASK FAN-OUT
// =============================================================================

// DefaultFanOutLimit bounds concurrent task writes per instruction.
const DefaultFanOutLimit = 4

// selfWords resolve to the acting user.
var selfWords = map[string]bool{"yo": true, "mi": true, "me": true}

// TaskService turns chat instructions into task records.
type TaskService struct {
	Tasks     TaskStore
	Directory generic.UserDirectory
	Clients   ClientRoster
	Clock     generic.Clock
	Location  *time.Location
	Limit     int
	Logger    *slog.Logger
}

func NewTaskService(tasks TaskStore, directory generic.UserDirectory, clients ClientRoster, clock generic.Clock, loc *time.Location, logger *slog.Logger) *TaskService {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		Tasks:     tasks,
		Directory: directory,
		Clients:   clients,
		Clock:     clock,
		Location:  loc,
		Limit:     DefaultFanOutLimit,
		Logger:    logger.With("component", "chat"),
	}
}

// TaskInput is a fully specified instruction.
type TaskInput struct {
	Title       string
	Description string
	Due         generic.Date
	Assignees   []string // name fragments; empty means the actor
	Client      string   // client name fragment, optional
}

// AssigneeResult is the outcome for one fragment.
type AssigneeResult struct {
	Fragment     string
	AssigneeID   generic.EntityID
	AssigneeName string
	TaskID       string
	Err          error
}

// FanOutResult reports every fragment. GroupID is empty unless more than one
// task was attempted.
type FanOutResult struct {
	GroupID string
	Title   string
	DueDate generic.Date
	Results []AssigneeResult
}

// Created counts successful tasks.
func (r FanOutResult) Created() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts fragments that produced no task.
func (r FanOutResult) Failed() int { return len(r.Results) - r.Created() }

// CreateFromUtterance handles "tarea isaac carolina, llamar cliente mañana".
// Explicit assignees win over names in the utterance; the title is the body
// without its date phrase and the due date that phrase (default tomorrow).
func (s *TaskService) CreateFromUtterance(ctx context.Context, actor generic.EntityID, utterance string, assignees []string, client string) (FanOutResult, error) {
	body := strings.TrimSpace(utterance)
	if cmd, ok := ParseCommand(utterance); ok {
		body = cmd.Body
		if len(assignees) == 0 {
			assignees = cmd.Assignees
		}
	}
	title, due := SplitTitle(body, s.today())
	return s.Create(ctx, actor, TaskInput{
		Title:       title,
		Description: strings.TrimSpace(utterance),
		Due:         generic.DateOf(due),
		Assignees:   assignees,
		Client:      client,
	})
}

// Create resolves every fragment independently and writes one task per
// distinct assignee concurrently. A failed fragment or write never stops the
// others. The error return is for preconditions only (unknown actor, empty
// title, unknown client); nothing is written when it is non-nil.
func (s *TaskService) Create(ctx context.Context, actorID generic.EntityID, in TaskInput) (FanOutResult, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return FanOutResult{}, generic.Errorf(generic.KindInvalidInput, "task title is empty")
	}
	if in.Due == "" {
		in.Due = generic.DateOf(s.today().AddDate(0, 0, 1))
	}
	actor, err := s.Directory.GetUser(ctx, actorID)
	if err != nil {
		if generic.IsNotFound(err) {
			return FanOutResult{}, generic.Errorf(generic.KindNotFound, "user %s not found", actorID)
		}
		return FanOutResult{}, generic.Storage("load actor", err)
	}
	clientID, clientName, err := s.resolveClient(ctx, in.Client)
	if err != nil {
		return FanOutResult{}, err
	}

	result := FanOutResult{Title: title, DueDate: in.Due}
	if len(in.Assignees) == 0 {
		result.Results = []AssigneeResult{{Fragment: "", AssigneeID: actor.ID, AssigneeName: actor.Name}}
	} else {
		result.Results, err = s.resolveAssignees(ctx, actor, in.Assignees)
		if err != nil {
			return FanOutResult{}, err
		}
	}

	// One task per distinct assignee; repeated fragments share it.
	first := make(map[generic.EntityID]int)
	var targets []int
	for i, r := range result.Results {
		if r.Err != nil {
			continue
		}
		if _, seen := first[r.AssigneeID]; seen {
			continue
		}
		first[r.AssigneeID] = i
		targets = append(targets, i)
	}
	if len(targets) > 1 {
		result.GroupID = uuid.NewString()
	}

	now := s.Clock.Now()
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultFanOutLimit
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, i := range targets {
		r := result.Results[i]
		task := Task{
			ID:           uuid.NewString(),
			Title:        title,
			Description:  in.Description,
			DueDate:      in.Due,
			AssigneeID:   r.AssigneeID,
			AssigneeName: r.AssigneeName,
			ClientID:     clientID,
			ClientName:   clientName,
			CreatedBy:    actor.ID,
			TaskGroupID:  result.GroupID,
			Status:       TaskPending,
			CreatedAt:    now,
		}
		g.Go(func() error {
			err := s.Tasks.InsertTask(gctx, task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Results[i].Err = generic.Storage("create task for "+string(task.AssigneeID), err)
				s.Logger.Error("task creation failed", "assignee_id", task.AssigneeID, "group_id", task.TaskGroupID, "error", err)
				return nil
			}
			result.Results[i].TaskID = task.ID
			return nil
		})
	}
	_ = g.Wait() // jobs record their own failures

	for i, r := range result.Results {
		if r.Err != nil {
			continue
		}
		if j := first[r.AssigneeID]; j != i {
			result.Results[i].TaskID = result.Results[j].TaskID
			result.Results[i].Err = result.Results[j].Err
		}
	}

	s.Logger.Info("tasks created from chat",
		"actor_id", actor.ID, "group_id", result.GroupID, "created", result.Created(), "failed", result.Failed())
	return result, nil
}

func (s *TaskService) resolveAssignees(ctx context.Context, actor generic.User, fragments []string) ([]AssigneeResult, error) {
	users, err := s.Directory.ListUsers(ctx)
	if err != nil {
		return nil, generic.Storage("list users", err)
	}
	roster := UserCandidates(users)
	byID := make(map[string]generic.User, len(users))
	for _, u := range users {
		byID[string(u.ID)] = u
	}

	out := make([]AssigneeResult, len(fragments))
	for i, frag := range fragments {
		out[i].Fragment = frag
		if selfWords[Fold(strings.TrimSpace(frag))] {
			out[i].AssigneeID, out[i].AssigneeName = actor.ID, actor.Name
			continue
		}
		c, ok := Match(frag, roster)
		if !ok {
			out[i].Err = generic.Errorf(generic.KindNotFound, "no user matches %q", frag)
			continue
		}
		u := byID[c.ID]
		out[i].AssigneeID, out[i].AssigneeName = u.ID, u.Name
	}
	return out, nil
}

func (s *TaskService) resolveClient(ctx context.Context, fragment string) (string, string, error) {
	if strings.TrimSpace(fragment) == "" || s.Clients == nil {
		return "", "", nil
	}
	clients, err := s.Clients.ListClients(ctx)
	if err != nil {
		return "", "", generic.Storage("list clients", err)
	}
	c, ok := Match(fragment, ClientCandidates(clients))
	if !ok {
		return "", "", generic.Errorf(generic.KindNotFound, "no client matches %q", fragment)
	}
	return c.ID, c.Name, nil
}

// ListMine returns the tasks assigned to user.
func (s *TaskService) ListMine(ctx context.Context, user generic.EntityID) ([]Task, error) {
	tasks, err := s.Tasks.ListTasksByAssignee(ctx, user)
	if err != nil {
		return nil, generic.Storage("list tasks", err)
	}
	return tasks, nil
}

func (s *TaskService) today() time.Time {
	return generic.StartOfDay(s.Clock.Now(), s.Location)
}

func (r AssigneeResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Fragment, r.Err)
	}
	return fmt.Sprintf("%s -> %s (%s)", r.Fragment, r.AssigneeName, r.TaskID)
}
