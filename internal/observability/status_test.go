package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	s := NewStatus()
	assert.True(t, s.Report().LastRequest.IsZero())

	s.Request()
	closeA := s.StreamOpened()
	closeB := s.StreamOpened()
	r := s.Report()
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, int64(1), r.TotalRequests)
	assert.Equal(t, 2, r.ActiveStreams)
	assert.False(t, r.LastRequest.IsZero())

	closeA()
	closeA()
	assert.Equal(t, 1, s.Report().ActiveStreams, "closing twice counts once")
	closeB()
	assert.Zero(t, s.Report().ActiveStreams)
}
