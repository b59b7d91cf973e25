package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rahul/makeprogress/internal/agent"
	"github.com/rahul/makeprogress/internal/governance"
	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/rahul/makeprogress/internal/sse"
	"github.com/rahul/makeprogress/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlanner struct {
	mu        sync.Mutex
	tokens    []string
	steps     []protocol.StepPayload
	err       error
	calls     int
	task      string
	completed []protocol.CompletedStep
}

func (f *fakePlanner) Stream(ctx context.Context, task string, completed []protocol.CompletedStep, h agent.StreamHandler) (int, error) {
	f.mu.Lock()
	f.calls++
	f.task, f.completed = task, completed
	f.mu.Unlock()

	for _, tok := range f.tokens {
		if err := h.Token(tok); err != nil {
			return 0, err
		}
	}
	for _, st := range f.steps {
		if err := h.Step(st); err != nil {
			return 0, err
		}
	}
	return len(f.steps), f.err
}

func (f *fakePlanner) Generate(ctx context.Context, task string, completed []protocol.CompletedStep) ([]protocol.StepPayload, error) {
	f.mu.Lock()
	f.calls++
	f.task, f.completed = task, completed
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.steps, nil
}

var twoSteps = []protocol.StepPayload{
	{Index: 1, Title: "打开文档", Subtitle: "点一下", EstimateMinutes: 1},
	{Index: 2, Title: "写标题", Subtitle: "随便写", EstimateMinutes: 3, FeedbackQuestion: "贴出标题"},
}

func newTestServer(t *testing.T, p StepPlanner, opts ...ServerOption) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts = append([]ServerOption{WithServerLogger(observability.NewNopLogger())}, opts...)
	return NewServer(":0", p, governance.NewDefaultPolicyEngine(), opts...)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func events(t *testing.T, body string) []protocol.EventType {
	t.Helper()
	var p sse.Parser
	p.Feed([]byte(body))
	var out []protocol.EventType
	for {
		f, ok := p.Next()
		if !ok {
			break
		}
		out = append(out, protocol.EventType(f.Event))
	}
	_, ok := p.Flush()
	assert.False(t, ok, "body ends on a frame boundary")
	return out
}

func TestStreamFrames(t *testing.T) {
	p := &fakePlanner{tokens: []string{`{"steps":[`, `]}`}, steps: twoSteps}
	s := newTestServer(t, p)

	w := do(s, http.MethodPost, protocol.StreamPath, `{"task":"  写周报 ","completed":[{"title":"a","feedback_answer":"b"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, []protocol.EventType{
		protocol.EventStart, protocol.EventToken, protocol.EventToken,
		protocol.EventStep, protocol.EventStep, protocol.EventEnd, protocol.EventDone,
	}, events(t, w.Body.String()))
	assert.Contains(t, w.Body.String(), "event: done\n\n")
	assert.Contains(t, w.Body.String(), `data: {"text":"{\"steps\":["}`)

	assert.Equal(t, "写周报", p.task)
	assert.Equal(t, []protocol.CompletedStep{{Title: "a", FeedbackAnswer: "b"}}, p.completed)
}

func TestStreamNoSteps(t *testing.T) {
	s := newTestServer(t, &fakePlanner{err: agent.ErrNoSteps})

	w := do(s, http.MethodPost, protocol.StreamPath, `{"task":"写周报"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []protocol.EventType{
		protocol.EventStart, protocol.EventEnd, protocol.EventError, protocol.EventDone,
	}, events(t, w.Body.String()))
	assert.Contains(t, w.Body.String(), `{"message":"No steps streamed from model response"}`)
}

type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestStreamLogsFrameWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	log, err := observability.NewLogger(&buf, "debug", "text")
	require.NoError(t, err)
	log.WithLLMLog("")
	p := &fakePlanner{steps: twoSteps}
	s := newTestServer(t, p, WithServerLogger(log))

	req := httptest.NewRequest(http.MethodPost, protocol.StreamPath, strings.NewReader(`{"task":"写周报"}`))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(brokenWriter{httptest.NewRecorder()}, req)

	out := buf.String()
	for _, event := range []protocol.EventType{
		protocol.EventStart, protocol.EventStep, protocol.EventError, protocol.EventDone,
	} {
		assert.Contains(t, out, "writing "+string(event)+" frame: connection reset")
	}
	assert.Equal(t, 1, p.calls)
}

func TestStreamModelError(t *testing.T) {
	s := newTestServer(t, &fakePlanner{steps: twoSteps[:1], err: errors.New("upstream timeout")})

	w := do(s, http.MethodPost, protocol.StreamPath, `{"task":"写周报"}`)
	assert.Equal(t, []protocol.EventType{
		protocol.EventStart, protocol.EventStep, protocol.EventError, protocol.EventDone,
	}, events(t, w.Body.String()))
	assert.Contains(t, w.Body.String(), `{"message":"upstream timeout"}`)
}

func TestRejectedRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{name: "empty task stream", path: protocol.StreamPath, body: `{"task":"   "}`, want: governance.EmptyTaskReason},
		{name: "empty task plan", path: protocol.PlanPath, body: `{"task":""}`, want: governance.EmptyTaskReason},
		{name: "bad body", path: protocol.StreamPath, body: `{"task":`, want: "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlanner{steps: twoSteps}
			w := do(newTestServer(t, p), http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Zero(t, p.calls)
		})
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{name: "ok", status: http.StatusOK, body: `"title":"打开文档"`},
		{name: "bad output", err: agent.ErrNoValidSteps, status: http.StatusBadRequest, body: agent.ErrNoValidSteps.Error()},
		{name: "model failure", err: errors.New("quota"), status: http.StatusBadGateway, body: GenerateFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakePlanner{steps: twoSteps, err: tt.err})
			w := do(s, http.MethodPost, protocol.PlanPath, `{"task":" 写周报"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}

	s := newTestServer(t, &fakePlanner{steps: twoSteps})
	w := do(s, http.MethodPost, protocol.PlanPath, `{"task":" 写周报"}`)
	var resp protocol.PlanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, protocol.PlanResponse{Task: "写周报", Steps: twoSteps}, resp)
}

func TestCORSPreflight(t *testing.T) {
	w := do(newTestServer(t, &fakePlanner{}), http.MethodOptions, protocol.StreamPath, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakePlanner{steps: twoSteps})
	do(s, http.MethodPost, protocol.StreamPath, `{"task":"写周报"}`)

	w := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report observability.StatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, int64(1), report.TotalRequests)
	assert.Zero(t, report.ActiveStreams)
}

func TestGenerations(t *testing.T) {
	j, err := store.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	s := newTestServer(t, &fakePlanner{steps: twoSteps}, WithJournal(j))
	do(s, http.MethodPost, protocol.StreamPath, `{"task":"写周报"}`)
	do(s, http.MethodPost, protocol.PlanPath, `{"task":"读书"}`)

	w := do(s, http.MethodGet, "/api/generations?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Generations []store.Generation `json:"generations"`
		Total       int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "读书", resp.Generations[0].Task)
	assert.Equal(t, "plan", resp.Generations[0].Endpoint)
	assert.Equal(t, twoSteps, resp.Generations[0].Steps)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/generations?limit=x", "").Code)
	assert.Equal(t, http.StatusNotFound, do(newTestServer(t, &fakePlanner{}), http.MethodGet, "/api/generations", "").Code)
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, &fakePlanner{})
	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, <-done)
}
