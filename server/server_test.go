package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/engine"
	"github.com/hupe1980/vaagent/internal/sqldb"
	"github.com/hupe1980/vaagent/observability"
	"github.com/hupe1980/vaagent/stream"
	"github.com/hupe1980/vaagent/taskstore"
)

type stubChatter struct {
	err    error
	events []stream.Event

	gotCheckpoint string
	gotMessage    string
}

func (s *stubChatter) Chat(_ context.Context, checkpointID, message string) (string, <-chan stream.Event, error) {
	s.gotCheckpoint = checkpointID
	s.gotMessage = message

	if s.err != nil {
		return "", nil, s.err
	}

	ch := make(chan stream.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)

	return "t1", ch, nil
}

func newTestServer(t *testing.T, chat Chatter) (*Server, taskstore.Store) {
	t.Helper()

	db, dialect, err := sqldb.Open(context.Background(), sqldb.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := taskstore.NewSQLStore(db, dialect)
	require.NoError(t, store.Migrate(context.Background()))

	reg := prometheus.NewRegistry()

	srv := New(chat, store, func(o *Options) {
		o.Metrics = observability.NewMetrics(reg)
		o.Gatherer = reg
	})

	return srv, store
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeEvents(t *testing.T, body string) []map[string]any {
	t.Helper()

	var out []map[string]any

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
		out = append(out, m)
	}

	return out
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{})

	rec := do(t, srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestChat_GetStreamsEvents(t *testing.T) {
	chat := &stubChatter{events: []stream.Event{
		stream.Checkpoint("t1"),
		stream.Content("Hello"),
		stream.SearchStart("go"),
		stream.SearchResults([]string{"https://go.dev"}),
		stream.End(),
	}}
	srv, _ := newTestServer(t, chat)

	rec := do(t, srv, http.MethodGet, "/api/v1/chatbot/hello%20there", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, engine.NullThreadID, chat.gotCheckpoint)
	assert.Equal(t, "hello there", chat.gotMessage)

	events := decodeEvents(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, "checkpoint", events[0]["type"])
	assert.Equal(t, "t1", events[0]["checkpoint_id"])
	assert.Equal(t, `["https://go.dev"]`, events[3]["urls"])
	assert.Equal(t, "end", events[4]["type"])

	rec = do(t, srv, http.MethodGet, "/api/v1/chatbot/what%20is%20a%2Fb%3F", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "what is a/b?", chat.gotMessage)
}

func TestChat_GetWithCheckpoint(t *testing.T) {
	chat := &stubChatter{events: []stream.Event{stream.Content("again"), stream.End()}}
	srv, _ := newTestServer(t, chat)

	rec := do(t, srv, http.MethodGet, "/api/v1/chatbot/more?checkpoint_id=abc", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", chat.gotCheckpoint)
	assert.Len(t, decodeEvents(t, rec.Body.String()), 2)
}

func TestChat_Post(t *testing.T) {
	chat := &stubChatter{events: []stream.Event{stream.End()}}
	srv, _ := newTestServer(t, chat)

	rec := do(t, srv, http.MethodPost, "/api/v1/chatbot", `{"message":"hi","checkpoint_id":"xyz"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xyz", chat.gotCheckpoint)
	assert.Equal(t, "hi", chat.gotMessage)
}

func TestChat_RejectedBeforeStreaming(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy thread", fmt.Errorf("thread t1: %w", core.ErrThreadBusy), http.StatusConflict},
		{"blank message", engine.ErrEmptyMessage, http.StatusBadRequest},
		{"store failure", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubChatter{err: tt.err})

			rec := do(t, srv, http.MethodPost, "/api/v1/chatbot", `{"message":"hi","checkpoint_id":"t1"}`)

			assert.Equal(t, tt.code, rec.Code)
			assert.NotEqual(t, stream.ContentType, rec.Header().Get("Content-Type"))
		})
	}
}

func TestTasks_CRUD(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{})

	rec := do(t, srv, http.MethodPost, "/api/v1/tasks", `{"title":"Buy milk"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var task taskstore.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, taskstore.StatusPending, task.Status)

	rec = do(t, srv, http.MethodGet, "/api/v1/tasks/"+task.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/v1/tasks/"+task.ID, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, taskstore.StatusCompleted, task.Status)
	assert.Equal(t, "Buy milk", task.Title)

	rec = do(t, srv, http.MethodGet, "/api/v1/tasks?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []taskstore.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, srv, http.MethodDelete, "/api/v1/tasks/"+task.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/tasks/"+task.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasks_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{})

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/tasks", `{"title":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/tasks", `{"title":"x","status":"done"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/tasks", `{"title":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/tasks?status=unknown", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPut, "/api/v1/tasks/missing", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/api/v1/tasks/missing", "").Code)

	list := do(t, srv, http.MethodGet, "/api/v1/tasks", "")
	assert.Equal(t, http.StatusOK, list.Code)
	assert.JSONEq(t, `[]`, list.Body.String())
}

func TestGroups_CRUDAndCascade(t *testing.T) {
	srv, store := newTestServer(t, &stubChatter{})
	ctx := context.Background()

	rec := do(t, srv, http.MethodPost, "/api/v1/task-groups", `{"name":"Home","description":"chores"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var group taskstore.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))

	_, err := store.CreateTask(ctx, taskstore.TaskCreate{Title: "Vacuum", GroupID: group.ID})
	require.NoError(t, err)

	rec = do(t, srv, http.MethodGet, "/api/v1/task-groups/"+group.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	assert.Len(t, group.Tasks, 1)

	rec = do(t, srv, http.MethodGet, "/api/v1/tasks/group/"+group.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []taskstore.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 1)

	rec = do(t, srv, http.MethodPut, "/api/v1/task-groups/"+group.ID, `{"name":"House"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	assert.Equal(t, "House", group.Name)
	assert.Equal(t, "chores", group.Description)

	rec = do(t, srv, http.MethodGet, "/api/v1/task-groups?include_tasks=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var groups []taskstore.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Tasks, 1)

	rec = do(t, srv, http.MethodDelete, "/api/v1/task-groups/"+group.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	remaining, err := store.ListTasks(ctx, taskstore.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/task-groups/"+group.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/tasks/group/"+group.ID, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/task-groups", `{"name":" "}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{})

	do(t, srv, http.MethodGet, "/healthz", "")

	rec := do(t, srv, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vaagent_http_requests_total{method="GET",path="/healthz",status_code="200"} 1`)
}
