package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/roles"
	"github.com/warp/crm-workflow/store/memory"
	"github.com/warp/crm-workflow/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Wednesday 2025-03-05, mid-morning.
var now = time.Date(2025, time.March, 5, 10, 30, 0, 0, time.UTC)

func newTestTaskService(t *testing.T) (*chat.TaskService, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	for _, u := range []generic.User{
		{ID: "ana", Name: "Ana Torres", Email: "ana@example.com", Role: "Collaborator"},
		{ID: "isaac", Name: "Isaac Gómez", Role: "Collaborator"},
		{ID: "carolina", Name: "Carolina Pérez", Role: "Manager"},
		{ID: "said", Name: "Said Benali", Role: "Intern"},
		{ID: "old", Name: "Oscar Viejo", Role: "Intern", Archived: true},
	} {
		require.NoError(t, store.PutUser(ctx, u))
	}
	require.NoError(t, store.PutClient(ctx, chat.Client{ID: "acme", Name: "Acme Corp"}))
	require.NoError(t, store.PutClient(ctx, chat.Client{ID: "gone", Name: "Globex", Archived: true}))

	svc := chat.NewTaskService(store, store, store, generic.FixedClock{At: now}, time.UTC, nil)
	return svc, store
}

// flakyTasks fails every write for one assignee.
type flakyTasks struct {
	chat.TaskStore
	failFor generic.EntityID
}

func (f flakyTasks) InsertTask(ctx context.Context, t chat.Task) error {
	if t.AssigneeID == f.failFor {
		return errors.New("connection reset")
	}
	return f.TaskStore.InsertTask(ctx, t)
}

// =============================================================================
// FAN-OUT
// =============================================================================

func TestCreateFromUtterance_ThreeAssigneesShareGroup(t *testing.T) {
	// GIVEN: A roster with isaac, carolina and said
	// WHEN: "tarea isaac carolina said, llamar cliente mañana"
	// THEN: Three tasks, one group id, due tomorrow, title without the date

	svc, store := newTestTaskService(t)
	ctx := context.Background()

	res, err := svc.CreateFromUtterance(ctx, "ana", "tarea isaac carolina said, llamar cliente mañana", nil, "")
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.Equal(t, 3, res.Created())
	assert.NotEmpty(t, res.GroupID)
	assert.Equal(t, "llamar cliente", res.Title)
	assert.Equal(t, generic.Date("2025-03-06"), res.DueDate)

	tasks, err := store.ListTasksByGroup(ctx, res.GroupID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assignees := map[generic.EntityID]bool{}
	for _, task := range tasks {
		assignees[task.AssigneeID] = true
		assert.Equal(t, "llamar cliente", task.Title)
		assert.Equal(t, generic.Date("2025-03-06"), task.DueDate)
		assert.Equal(t, generic.EntityID("ana"), task.CreatedBy)
		assert.Equal(t, chat.TaskPending, task.Status)
	}
	assert.Equal(t, map[generic.EntityID]bool{"isaac": true, "carolina": true, "said": true}, assignees)
}

func TestCreate_OneFailureDoesNotStopOthers(t *testing.T) {
	svc, store := newTestTaskService(t)
	svc.Tasks = flakyTasks{TaskStore: store, failFor: "carolina"}
	ctx := context.Background()

	res, err := svc.CreateFromUtterance(ctx, "ana", "tarea isaac carolina said, llamar cliente mañana", nil, "")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Created())
	assert.Equal(t, 1, res.Failed())
	for _, r := range res.Results {
		if r.AssigneeID == "carolina" {
			assert.ErrorIs(t, r.Err, generic.ErrStorageUnavailable)
			assert.Empty(t, r.TaskID)
		} else {
			assert.NoError(t, r.Err)
			assert.NotEmpty(t, r.TaskID)
		}
	}

	tasks, err := store.ListTasksByGroup(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestCreate_UnresolvedFragmentIsReported(t *testing.T) {
	svc, store := newTestTaskService(t)
	ctx := context.Background()

	res, err := svc.CreateFromUtterance(ctx, "ana", "tarea isaac zorro oscar, revisar contrato para el viernes", nil, "")
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.NoError(t, res.Results[0].Err)
	assert.ErrorIs(t, res.Results[1].Err, generic.ErrNotFound)
	assert.ErrorIs(t, res.Results[2].Err, generic.ErrNotFound, "archived users are not candidates")
	assert.Empty(t, res.GroupID, "a single recipient gets no group")
	assert.Equal(t, "revisar contrato", res.Title)
	assert.Equal(t, generic.Date("2025-03-07"), res.DueDate)

	tasks, err := store.ListTasksByAssignee(ctx, "isaac")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].TaskGroupID)
}

func TestCreate_NoFragmentsAssignsActor(t *testing.T) {
	svc, store := newTestTaskService(t)
	ctx := context.Background()

	res, err := svc.CreateFromUtterance(ctx, "ana", "tarea llamar a Acme hoy", nil, "acme")
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.Equal(t, generic.EntityID("ana"), res.Results[0].AssigneeID)
	assert.Empty(t, res.GroupID)
	assert.Equal(t, generic.Date("2025-03-05"), res.DueDate)

	mine, err := svc.ListMine(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "llamar a Acme", mine[0].Title)
	assert.Equal(t, "Acme Corp", mine[0].ClientName)

	all, err := store.ListTasksByAssignee(ctx, "isaac")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_SelfWordsAndActorNameResolveToActor(t *testing.T) {
	svc, _ := newTestTaskService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, "ana", chat.TaskInput{Title: "preparar demo", Assignees: []string{"yo", "isaac", "ana"}})
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.Equal(t, generic.EntityID("ana"), res.Results[0].AssigneeID)
	assert.Equal(t, generic.EntityID("isaac"), res.Results[1].AssigneeID)
	assert.Equal(t, generic.EntityID("ana"), res.Results[2].AssigneeID)
	assert.Equal(t, res.Results[0].TaskID, res.Results[2].TaskID, "repeated assignee shares one task")
	assert.NotEmpty(t, res.GroupID)
	assert.Equal(t, generic.Date("2025-03-06"), res.DueDate, "default due date is tomorrow")

	mine, err := svc.ListMine(ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCreate_Preconditions(t *testing.T) {
	svc, store := newTestTaskService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "ana", chat.TaskInput{Title: "   "})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = svc.Create(ctx, "ghost", chat.TaskInput{Title: "x"})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = svc.Create(ctx, "ana", chat.TaskInput{Title: "x", Assignees: []string{"isaac"}, Client: "globex"})
	assert.ErrorIs(t, err, generic.ErrNotFound, "archived client")

	tasks, err := store.ListTasksByAssignee(ctx, "isaac")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// =============================================================================
// TOOL CALLS
// =============================================================================

func newTestDispatcher(t *testing.T) (*chat.Dispatcher, *memory.Store) {
	t.Helper()
	svc, store := newTestTaskService(t)
	require.NoError(t, store.PutUser(context.Background(), generic.User{ID: "dir", Name: "Dora", Email: "dora@example.com", Role: "Director"}))
	timeOff := timeoff.NewService(store, store, roles.MustRegistry(roles.DefaultRoles()), timeoff.ServiceConfig{
		Clock:    generic.FixedClock{At: now},
		Location: time.UTC,
	})
	return chat.NewDispatcher(svc, timeOff), store
}

func call(name string, args any) chat.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return chat.ToolCall{Name: name, Arguments: raw}
}

func TestDispatcher_CreateTask(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res, err := d.Handle(context.Background(), "ana", call(chat.ToolCreateTask, map[string]any{
		"title":     "enviar propuesta",
		"assignees": []string{"isaac", "said"},
		"due":       "próxima semana",
		"client":    "acme",
	}))
	require.NoError(t, err)
	require.NotNil(t, res.Tasks)
	assert.Nil(t, res.TimeOff)
	assert.Equal(t, 2, res.Tasks.Created())
	assert.Equal(t, generic.Date("2025-03-12"), res.Tasks.DueDate)
}

func TestDispatcher_RequestTimeOffResolvesPhrases(t *testing.T) {
	d, store := newTestDispatcher(t)

	res, err := d.Handle(context.Background(), "ana", call(chat.ToolRequestTimeOff, map[string]any{
		"type":   "free_day",
		"dates":  []string{"2025-03-10", "mañana"},
		"reason": "asuntos personales",
	}))
	require.NoError(t, err)
	require.NotNil(t, res.TimeOff)
	assert.Equal(t, timeoff.StatusPending, res.TimeOff.Request.Status)
	assert.Equal(t, []generic.Date{"2025-03-06", "2025-03-10"}, res.TimeOff.Request.Dates)
	assert.Contains(t, res.TimeOff.ApproverContacts, "dora@example.com")

	stored, err := store.GetRequest(context.Background(), res.TimeOff.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, "asuntos personales", stored.Reason)
}

func TestDispatcher_RejectsBadCalls(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Handle(ctx, "ana", chat.ToolCall{Name: "delete_everything", Arguments: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = d.Handle(ctx, "ana", chat.ToolCall{Name: chat.ToolCreateTask, Arguments: json.RawMessage(`{"title":`)})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = d.Handle(ctx, "ana", call(chat.ToolCreateTask, map[string]any{"assignees": []string{"isaac"}}))
	assert.ErrorIs(t, err, generic.ErrInvalidInput, "title is required")

	_, err = d.Handle(ctx, "ana", call(chat.ToolRequestTimeOff, map[string]any{"type": "sabbatical", "dates": []string{"mañana"}, "reason": "long rest"}))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = d.Handle(ctx, "ana", chat.ToolCall{Name: chat.ToolRequestTimeOff})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestDispatcher_TimeOffDatesAreNeverGuessed(t *testing.T) {
	// GIVEN: request_time_off calls with malformed or unreadable dates
	// WHEN: Each is dispatched
	// THEN: InvalidInput, and nothing is booked for tomorrow

	d, store := newTestDispatcher(t)
	ctx := context.Background()

	for _, raw := range []string{"2025-13-45", "2025-02-30", "banana", "31/04", ""} {
		_, err := d.Handle(ctx, "ana", call(chat.ToolRequestTimeOff, map[string]any{
			"type":   "free_day",
			"dates":  []string{raw},
			"reason": "asuntos personales",
		}))
		assert.ErrorIs(t, err, generic.ErrInvalidInput, raw)
	}

	mine, err := store.ListRequestsByUser(ctx, "ana")
	require.NoError(t, err)
	assert.Empty(t, mine)
}
