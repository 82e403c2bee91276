/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Bearer authentication
- Time-off create / decide / cancel over HTTP, with error codes
- Chat task fan-out and tool calls
- Kind to status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
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

var testNow = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

const testSecret = "test-secret"

type recordingSink struct {
	mu       sync.Mutex
	notified []string
	decided  []string
}

func (s *recordingSink) ApproversNotified(_ context.Context, req timeoff.Request, contacts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, req.ID)
	return nil
}

func (s *recordingSink) Decided(_ context.Context, req timeoff.Request, actor generic.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decided = append(s.decided, req.ID+":"+string(req.Status))
	return nil
}

type testServer struct {
	t      *testing.T
	router http.Handler
	auth   *Authenticator
	sink   *recordingSink
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	for _, u := range []generic.User{
		{ID: "ana", Name: "Ana Torres", Email: "ana@example.com", Role: "Collaborator"},
		{ID: "bea", Name: "Bea Ruiz", Email: "bea@example.com", Role: "Collaborator"},
		{ID: "carla", Name: "Carla Díaz", Email: "carla@example.com", Role: "Director"},
		{ID: "dave", Name: "Dave Stone", Role: "Director"},
		{ID: "mia", Name: "Mia Lopez", Email: "mia@example.com", Role: "Manager"},
		{ID: "olga", Name: "Olga", Role: "Manager", Archived: true},
	} {
		require.NoError(t, store.PutUser(ctx, u))
	}
	require.NoError(t, store.PutClient(ctx, chat.Client{ID: "acme", Name: "Acme Corp"}))

	clock := generic.FixedClock{At: testNow}
	timeOff := timeoff.NewService(store, store, roles.MustRegistry(roles.DefaultRoles()), timeoff.ServiceConfig{
		Clock:    clock,
		Location: time.UTC,
	})
	tasks := chat.NewTaskService(store, store, store, clock, time.UTC, nil)
	sink := &recordingSink{}
	h := NewHandler(timeOff, tasks, sink, nil)
	h.Health = store
	auth := NewAuthenticator(testSecret, store, clock)

	return &testServer{t: t, router: NewRouter(h, auth, []string{"*"}), auth: auth, sink: sink, store: store}
}

func (s *testServer) token(user generic.EntityID) string {
	tok, err := s.auth.Mint(user, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path string, user generic.EntityID, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(user))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.Error)
}

func (s *testServer) create(user generic.EntityID, dates ...string) CreateTimeOffResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/timeoff", user, CreateTimeOffRequest{Type: "free_day", Dates: dates, Reason: "family trip"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[CreateTimeOffResponse](s.t, rec)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestHealthz_NoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/timeoff/mine", "", nil)
	assertCode(t, rec, http.StatusUnauthorized, "UNAUTHENTICATED")

	forged, err := NewAuthenticator("other-secret", s.store, generic.FixedClock{At: testNow}).Mint("ana", time.Hour)
	require.NoError(t, err)
	expired, err := s.auth.Mint("ana", -time.Hour)
	require.NoError(t, err)
	archived, err := s.auth.Mint("olga", time.Hour)
	require.NoError(t, err)
	unknown, err := s.auth.Mint("ghost", time.Hour)
	require.NoError(t, err)

	for name, tok := range map[string]string{"forged": forged, "expired": expired, "archived": archived, "unknown": unknown, "garbage": "abc.def.ghi"} {
		req := httptest.NewRequest(http.MethodGet, "/api/timeoff/mine", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

// =============================================================================
// TIME OFF
// =============================================================================

func TestCreateTimeOff_PendingNotifiesApprovers(t *testing.T) {
	// GIVEN: A collaborator
	// WHEN: They request a day off
	// THEN: 201 pending, contacts of every active director and manager

	s := newTestServer(t)

	res := s.create("ana", "2025-03-10")

	assert.Equal(t, "pending", res.Status)
	assert.False(t, res.AutoApproved)
	assert.Equal(t, []string{"carla@example.com", "dave", "mia@example.com"}, res.NotifiedApproverContacts)
	assert.Equal(t, []string{res.RequestID}, s.sink.notified)
}

func TestCreateTimeOff_DirectorAutoApproved(t *testing.T) {
	s := newTestServer(t)

	res := s.create("carla", "2025-03-20")

	assert.Equal(t, "approved", res.Status)
	assert.True(t, res.AutoApproved)
	assert.Empty(t, res.NotifiedApproverContacts)
	assert.NotNil(t, res.NotifiedApproverContacts, "always a JSON array")
	assert.Empty(t, s.sink.notified)

	rec := s.do(http.MethodPost, "/api/timeoff", "carla", CreateTimeOffRequest{Type: "urgent", Dates: []string{"2025-03-20"}, Reason: "second try"})
	assertCode(t, rec, http.StatusConflict, "DATE_CONFLICT")
}

func TestCreateTimeOff_InvalidInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/timeoff", "ana", CreateTimeOffRequest{Type: "free_day", Dates: []string{"2025-03-10"}, Reason: "hi"})
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = s.do(http.MethodPost, "/api/timeoff", "ana", `{"type":`)
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = s.do(http.MethodPost, "/api/timeoff", "ana", CreateTimeOffRequest{Type: "free_day", Reason: "no dates at all"})
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")
}

func TestDecide_ApproveThenAlreadyProcessed(t *testing.T) {
	s := newTestServer(t)
	created := s.create("ana", "2025-03-10", "2025-03-11")
	path := "/api/timeoff/" + created.RequestID + "/decision"

	rec := s.do(http.MethodPost, path, "mia", DecisionRequest{Action: "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[TransitionResponse](t, rec)
	assert.Equal(t, "approved", body.Status)
	assert.Equal(t, []string{created.RequestID + ":approved"}, s.sink.decided)

	rec = s.do(http.MethodPost, path, "carla", DecisionRequest{Action: "reject", Reason: "too late"})
	assertCode(t, rec, http.StatusConflict, "ALREADY_PROCESSED")
}

func TestDecide_Refusals(t *testing.T) {
	s := newTestServer(t)
	created := s.create("ana", "2025-03-10")
	path := "/api/timeoff/" + created.RequestID + "/decision"

	rec := s.do(http.MethodPost, path, "bea", DecisionRequest{Action: "approve"})
	assertCode(t, rec, http.StatusForbidden, "INSUFFICIENT_PERMISSION")

	rec = s.do(http.MethodPost, path, "mia", DecisionRequest{Action: "maybe"})
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = s.do(http.MethodPost, path, "mia", `{}`)
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = s.do(http.MethodPost, "/api/timeoff/nope/decision", "mia", DecisionRequest{Action: "approve"})
	assertCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestCancel_Codes(t *testing.T) {
	s := newTestServer(t)

	// Tomorrow starts 15 hours from now.
	soon := s.create("ana", "2025-03-02")
	rec := s.do(http.MethodPost, "/api/timeoff/"+soon.RequestID+"/cancel", "ana", nil)
	assertCode(t, rec, http.StatusUnprocessableEntity, "TOO_LATE_TO_CANCEL")

	later := s.create("ana", "2025-03-12")
	rec = s.do(http.MethodPost, "/api/timeoff/"+later.RequestID+"/cancel", "bea", nil)
	assertCode(t, rec, http.StatusForbidden, "INSUFFICIENT_PERMISSION")

	rec = s.do(http.MethodPost, "/api/timeoff/"+later.RequestID+"/cancel", "ana", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[TransitionResponse](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/timeoff/"+later.RequestID+"/cancel", "ana", nil)
	assertCode(t, rec, http.StatusConflict, "ALREADY_CANCELLED")

	rejected := s.create("ana", "2025-03-14")
	rec = s.do(http.MethodPost, "/api/timeoff/"+rejected.RequestID+"/decision", "carla", DecisionRequest{Action: "reject", Reason: "busy week"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/timeoff/"+rejected.RequestID+"/cancel", "ana", nil)
	assertCode(t, rec, http.StatusConflict, "CANNOT_CANCEL_REJECTED")
}

func TestListings_MinePendingSummaryHistory(t *testing.T) {
	s := newTestServer(t)
	first := s.create("ana", "2025-03-10", "2025-03-11")
	s.create("bea", "2025-03-12")
	s.create("mia", "2025-03-13")

	rec := s.do(http.MethodPost, "/api/timeoff/"+first.RequestID+"/decision", "carla", DecisionRequest{Action: "approve"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/timeoff/mine", "ana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decodeBody[map[string][]TimeOffDTO](t, rec)["requests"]
	require.Len(t, mine, 1)
	assert.Equal(t, "carla", mine[0].ApprovedBy)
	assert.Equal(t, []string{"2025-03-10", "2025-03-11"}, mine[0].Dates)

	// Managers see collaborator requests but not other managers'.
	rec = s.do(http.MethodGet, "/api/timeoff/pending", "mia", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[map[string][]TimeOffDTO](t, rec)["requests"]
	require.Len(t, pending, 1)
	assert.Equal(t, "bea", pending[0].UserID)

	rec = s.do(http.MethodGet, "/api/timeoff/summary?year=2025", "ana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody[SummaryDTO](t, rec)
	assert.Equal(t, "2", sum.ApprovedDays)
	assert.Equal(t, "0", sum.PendingDays)

	rec = s.do(http.MethodGet, "/api/timeoff/summary?year=soon", "ana", nil)
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = s.do(http.MethodGet, "/api/timeoff/"+first.RequestID+"/history", "ana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[map[string][]AuditEntryDTO](t, rec)["entries"]
	require.Len(t, entries, 2)
	assert.Equal(t, "requested", entries[0].Action)
	assert.Equal(t, "approved", entries[1].Action)

	rec = s.do(http.MethodGet, "/api/timeoff/"+first.RequestID+"/history", "bea", nil)
	assertCode(t, rec, http.StatusForbidden, "INSUFFICIENT_PERMISSION")
}

// =============================================================================
// CHAT
// =============================================================================

func TestChatTasks_FanOut(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/chat/tasks", "ana", ChatTaskRequest{Utterance: "tarea carla mia, llamar cliente mañana", Client: "acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[FanOutDTO](t, rec)
	assert.Equal(t, 2, out.Created)
	assert.NotEmpty(t, out.GroupID)
	assert.Equal(t, "llamar cliente", out.Title)
	assert.Equal(t, "2025-03-02", out.DueDate)

	rec = s.do(http.MethodGet, "/api/tasks/mine", "carla", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeBody[map[string][]TaskDTO](t, rec)["tasks"]
	require.Len(t, tasks, 1)
	assert.Equal(t, out.GroupID, tasks[0].TaskGroupID)
	assert.Equal(t, "Acme Corp", tasks[0].ClientName)
	assert.Equal(t, "ana", tasks[0].CreatedBy)
}

func TestChatTasks_PartialAndEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/chat/tasks", "ana", ChatTaskRequest{Utterance: "tarea carla zorro, revisar contrato"})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	out := decodeBody[FanOutDTO](t, rec)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, out.Failed)
	assert.Empty(t, out.GroupID)
	assert.Equal(t, "NOT_FOUND", out.Results[1].Code)

	rec = s.do(http.MethodPost, "/api/chat/tasks", "ana", ChatTaskRequest{Utterance: "tarea zorro, revisar contrato"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/api/chat/tasks", "ana", ChatTaskRequest{})
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")
}

func TestToolCall_RequestTimeOff(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/chat/tool-calls", "ana", map[string]any{
		"name":      "request_time_off",
		"arguments": map[string]any{"type": "urgent", "dates": []string{"el viernes"}, "reason": "médico especialista"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[ToolCallResponse](t, rec)
	require.NotNil(t, out.TimeOff)
	assert.Equal(t, "pending", out.TimeOff.Status)
	assert.Len(t, s.sink.notified, 1)

	rec = s.do(http.MethodGet, "/api/timeoff/mine", "ana", nil)
	mine := decodeBody[map[string][]TimeOffDTO](t, rec)["requests"]
	require.Len(t, mine, 1)
	assert.Equal(t, []string{"2025-03-07"}, mine[0].Dates)

	rec = s.do(http.MethodPost, "/api/chat/tool-calls", "ana", map[string]any{"name": "drop_tables", "arguments": map[string]any{}})
	assertCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{generic.Errorf(generic.KindInvalidInput, "x"), 400, "INVALID_INPUT"},
		{generic.Errorf(generic.KindInsufficientPermission, "x"), 403, "INSUFFICIENT_PERMISSION"},
		{generic.Errorf(generic.KindNotFound, "x"), 404, "NOT_FOUND"},
		{&generic.DateConflictError{UserID: "ana", Dates: []generic.Date{"2025-03-10"}}, 409, "DATE_CONFLICT"},
		{generic.ErrAlreadyProcessed, 409, "ALREADY_PROCESSED"},
		{generic.ErrCannotCancelRejected, 409, "CANNOT_CANCEL_REJECTED"},
		{generic.ErrAlreadyCancelled, 409, "ALREADY_CANCELLED"},
		{generic.ErrTooLateToCancel, 422, "TOO_LATE_TO_CANCEL"},
		{generic.Storage("insert", errors.New("disk full")), 503, "STORAGE_UNAVAILABLE"},
		{context.DeadlineExceeded, 503, "STORAGE_UNAVAILABLE"},
		{errUnauthenticated, 401, "UNAUTHENTICATED"},
		{errors.New("boom"), 500, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

// =============================================================================
// ERROR LOGGING
// =============================================================================

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("disk gone") }

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry), string(line))
		out = append(out, entry)
	}
	return out
}

func TestWriteError_LogsThroughHandlerLogger(t *testing.T) {
	// GIVEN: A handler whose logger writes JSON to a buffer
	// WHEN: A request is refused (401) and another fails on storage (503)
	// THEN: Both lines carry component=api, at WARN and ERROR respectively

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := &Handler{Health: downPinger{}, Logger: logger.With("component", "api")}
	router := NewRouter(h, NewAuthenticator(testSecret, memory.New(), generic.FixedClock{At: testNow}), []string{"*"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/mine", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	levels := map[string]string{}
	for _, entry := range logLines(t, &buf) {
		code, ok := entry["code"].(string)
		if !ok {
			continue // access log
		}
		assert.Equal(t, "api", entry["component"], code)
		levels[code] = entry["level"].(string)
	}
	assert.Equal(t, "WARN", levels["UNAUTHENTICATED"])
	assert.Equal(t, "ERROR", levels["STORAGE_UNAVAILABLE"])
}

func TestWriteError_ClientErrorsAreWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	for _, err := range []error{
		generic.Errorf(generic.KindNotFound, "request r1 not found"),
		generic.Errorf(generic.KindDateConflict, "taken"),
		errors.New("boom"),
	} {
		writeError(logger, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil), err)
	}

	lines := logLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "INTERNAL", lines[2]["code"])
}
