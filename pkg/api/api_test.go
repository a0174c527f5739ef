package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/remote"
	"github.com/cuemby/trainyard/pkg/remote/remotetest"
	"github.com/cuemby/trainyard/pkg/rollback"
	"github.com/cuemby/trainyard/pkg/security"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/cuemby/trainyard/pkg/workspace"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type harness struct {
	server *Server
	broker *events.Broker
	health *metrics.HealthChecker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bs, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	sealer, err := security.NewSealerFromPassphrase("api test")
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	tasks := taskstore.New(bs, broker)
	rb := rollback.New(tasks, ws, map[types.Capability]remote.Client{
		types.CapabilityLabeling: remotetest.New("prompt"),
		types.CapabilityTraining: remotetest.New("job"),
	})
	mgr := manager.NewManager(manager.Deps{
		Store: bs, Tasks: tasks, Workspace: ws, Rollback: rb, Sealer: sealer, Events: broker,
	})
	health := metrics.NewHealthChecker("storage")
	return &harness{server: NewServer(mgr, broker, health), broker: broker, health: health}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) upload(t *testing.T, taskID int64, names ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range names {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("png bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/tasks/%d/images", taskID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{"name": "portraits"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[types.Task](t, w)
	assert.Equal(t, types.TaskStatusNew, task.Status)

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", task.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no images yet")

	w = h.upload(t, task.ID, "a.png", "b.png")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[types.Task](t, w).Images, 2)

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", task.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TaskStatusSubmitted, decode[types.Task](t, w).Status)

	w = h.do(t, http.MethodGet, "/api/tasks?status=submitted,marking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Task](t, w), 1)

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/stop", task.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TaskStatusNew, decode[types.Task](t, w).Status)

	w = h.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d/executions", task.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = h.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskErrors(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/tasks", map[string]any{"name": "portraits"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[types.Task](t, w).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty name", http.MethodPost, "/api/tasks", map[string]any{"name": ""}, http.StatusBadRequest},
		{"malformed id", http.MethodGet, "/api/tasks/abc", nil, http.StatusBadRequest},
		{"missing task", http.MethodGet, "/api/tasks/999", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/tasks?status=done", nil, http.StatusBadRequest},
		{"unknown rollback target", http.MethodPost, fmt.Sprintf("/api/tasks/%d/rollback", id), map[string]any{"target": "bogus"}, http.StatusBadRequest},
		{"forward rollback", http.MethodPost, fmt.Sprintf("/api/tasks/%d/rollback", id), map[string]any{"target": "marked"}, http.StatusConflict},
		{"stop new task", http.MethodPost, fmt.Sprintf("/api/tasks/%d/stop", id), nil, http.StatusConflict},
		{"unknown stage", http.MethodPost, fmt.Sprintf("/api/tasks/%d/restart", id), map[string]any{"stage": "upscaling"}, http.StatusBadRequest},
		{"restart without body", http.MethodPost, fmt.Sprintf("/api/tasks/%d/restart", id), nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestAssetsOverHTTP(t *testing.T) {
	h := newHarness(t)

	spec := map[string]any{
		"name":                 "gpu-1",
		"address":              "10.0.0.5",
		"max_concurrent_tasks": 2,
		"labeling":             map[string]any{"enabled": true, "port": 8188},
		"ssh_username":         "root",
		"ssh_password":         "hunter2",
	}
	w := h.do(t, http.MethodPost, "/api/assets", spec)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")
	asset := decode[types.Asset](t, w)

	w = h.do(t, http.MethodPost, "/api/assets", spec)
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate name")

	spec["max_concurrent_tasks"] = 0
	w = h.do(t, http.MethodPut, fmt.Sprintf("/api/assets/%d", asset.ID), spec)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	spec["max_concurrent_tasks"] = 4
	w = h.do(t, http.MethodPut, fmt.Sprintf("/api/assets/%d", asset.ID), spec)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decode[types.Asset](t, w).MaxConcurrentTasks)

	w = h.do(t, http.MethodGet, "/api/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Asset](t, w), 1)
	assert.NotContains(t, w.Body.String(), "password")

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/assets/%d/verify", asset.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no verifier configured")

	w = h.do(t, http.MethodDelete, fmt.Sprintf("/api/assets/%d", asset.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, http.MethodGet, fmt.Sprintf("/api/assets/%d", asset.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, metrics.StatusHealthy, decode[metrics.HealthStatus](t, w).Status)

	w = h.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, metrics.StatusReady, decode[metrics.HealthStatus](t, w).Status)

	w = h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trainyard_api_requests_total")
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events?task_id=7", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.server.Handler().ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return h.broker.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	h.broker.Publish(&events.Event{Type: events.EventTaskCreated, TaskID: 8, Message: "other"})
	h.broker.Publish(&events.Event{Type: events.EventTaskStatus, TaskID: 7, Message: "marking"})

	// Give the broker time to deliver before disconnecting
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:task.status")
	assert.True(t, strings.Contains(body, `"task_id":7`))
	assert.NotContains(t, body, "other")
	assert.Zero(t, h.broker.SubscriberCount())
}
