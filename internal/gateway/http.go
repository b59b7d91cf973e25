package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rahul/makeprogress/internal/agent"
	"github.com/rahul/makeprogress/internal/governance"
	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/rahul/makeprogress/internal/sse"
	"github.com/rahul/makeprogress/internal/store"
)

const (
	// GenerateFailure is returned when the model call itself fails.
	GenerateFailure = "Failed to generate steps, see server logs for details."

	defaultGenerations = 20
	maxGenerations     = 200
)

// StepPlanner produces steps for a task; agent.Planner is the real one.
type StepPlanner interface {
	Stream(ctx context.Context, task string, completed []protocol.CompletedStep, h agent.StreamHandler) (int, error)
	Generate(ctx context.Context, task string, completed []protocol.CompletedStep) ([]protocol.StepPayload, error)
}

// Server is the HTTP planning service.
type Server struct {
	planner StepPlanner
	policy  governance.PolicyEngine
	journal *store.Journal
	status  *observability.Status
	log     *observability.Logger

	router *gin.Engine
	srv    *http.Server
}

var _ Gateway = (*Server)(nil)

type ServerOption func(*Server)

// WithJournal records every generation. Without it /api/generations is 404.
func WithJournal(j *store.Journal) ServerOption {
	return func(s *Server) { s.journal = j }
}

func WithServerLogger(l *observability.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(addr string, planner StepPlanner, policy governance.PolicyEngine, opts ...ServerOption) *Server {
	s := &Server{
		planner: planner,
		policy:  policy,
		status:  observability.NewStatus(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests(), cors())

	r.GET("/health", s.handleHealth)
	api := r.Group("/api")
	{
		api.POST("/plan", s.handlePlan)
		api.POST("/plan/stream", s.handleStream)
		api.GET("/generations", s.handleGenerations)
	}

	s.router = r
	s.srv = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Infof("planning service listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// admit decodes and vets a plan request. On false a response is written.
func (s *Server) admit(c *gin.Context) (protocol.PlanRequest, bool) {
	s.status.Request()

	var req protocol.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body: %v", err)
		return req, false
	}
	req.Task = strings.TrimSpace(req.Task)
	if req.Completed == nil {
		req.Completed = []protocol.CompletedStep{}
	}

	res, err := s.policy.Evaluate(c.Request.Context(), req)
	if err != nil {
		s.log.Warnf("policy evaluation failed: %v", err)
		c.String(http.StatusInternalServerError, GenerateFailure)
		return req, false
	}
	if res.Denied() {
		c.String(http.StatusBadRequest, "%s", res.Reason)
		return req, false
	}
	return req, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Report())
}

func (s *Server) handlePlan(c *gin.Context) {
	req, ok := s.admit(c)
	if !ok {
		return
	}

	start := time.Now()
	steps, err := s.planner.Generate(c.Request.Context(), req.Task, req.Completed)
	s.record(c.Request.Context(), "plan", req, steps, err, time.Since(start))

	var oerr *agent.OutputError
	switch {
	case errors.As(err, &oerr):
		c.String(http.StatusBadRequest, "%s", err.Error())
	case err != nil:
		c.String(http.StatusBadGateway, GenerateFailure)
	default:
		c.JSON(http.StatusOK, protocol.PlanResponse{Task: req.Task, Steps: steps})
	}
}

// handleStream answers with start, token*, step*, then end and/or error,
// and always a final done.
func (s *Server) handleStream(c *gin.Context) {
	req, ok := s.admit(c)
	if !ok {
		return
	}
	closed := s.status.StreamOpened()
	defer closed()

	w := c.Writer
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(event protocol.EventType, v any) error {
		if err := sse.WriteFrame(w, string(event), v); err != nil {
			s.log.Debugf("writing %s frame: %v", event, err)
			return err
		}
		w.Flush()
		return nil
	}

	emit(protocol.EventStart, struct{}{})

	var steps []protocol.StepPayload
	start := time.Now()
	_, err := s.planner.Stream(c.Request.Context(), req.Task, req.Completed, agent.StreamHandler{
		Token: func(text string) error {
			return emit(protocol.EventToken, map[string]string{"text": text})
		},
		Step: func(step protocol.StepPayload) error {
			steps = append(steps, step)
			return emit(protocol.EventStep, step)
		},
	})
	s.record(c.Request.Context(), "stream", req, steps, err, time.Since(start))

	if err == nil || errors.Is(err, agent.ErrNoSteps) {
		emit(protocol.EventEnd, map[string]string{"status": "ok"})
	}
	if err != nil {
		emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
	}
	emit(protocol.EventDone, nil)
}

func (s *Server) handleGenerations(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := defaultGenerations
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxGenerations)
	}

	gens, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Warnf("reading journal: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": gens, "total": len(gens)})
}

func (s *Server) record(ctx context.Context, endpoint string, req protocol.PlanRequest, steps []protocol.StepPayload, err error, elapsed time.Duration) {
	if s.journal == nil {
		return
	}
	g := store.Generation{
		ID:       uuid.NewString(),
		Endpoint: endpoint,
		Task:     req.Task,
		History:  len(req.Completed),
		Steps:    steps,
		Elapsed:  elapsed,
	}
	if err != nil {
		g.Error = err.Error()
	}
	// the request context may already be gone when a client hangs up
	if rerr := s.journal.Record(context.WithoutCancel(ctx), g); rerr != nil {
		s.log.Warnf("recording generation: %v", rerr)
	}
}
