package observability

import (
	"sync"
	"time"
)

// Status tracks request activity of the planning service for /health.
type Status struct {
	mu            sync.RWMutex
	started       time.Time
	activeStreams int
	totalRequests int64
	lastRequest   time.Time
}

type StatusReport struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	ActiveStreams int       `json:"active_streams"`
	TotalRequests int64     `json:"total_requests"`
	LastRequest   time.Time `json:"last_request,omitzero"`
}

func NewStatus() *Status {
	return &Status{started: time.Now()}
}

// Request counts one incoming plan request.
func (s *Status) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.lastRequest = time.Now()
}

// StreamOpened marks a stream as live until the returned func is called.
func (s *Status) StreamOpened() (closed func()) {
	s.mu.Lock()
	s.activeStreams++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.activeStreams--
			s.mu.Unlock()
		})
	}
}

// Report retrieves a copy of the current status.
func (s *Status) Report() StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusReport{
		Status:        "ok",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		ActiveStreams: s.activeStreams,
		TotalRequests: s.totalRequests,
		LastRequest:   s.lastRequest,
	}
}
