package planclient

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/rahul/makeprogress/internal/sse"
)

// Session is one in-flight streaming request. Task, History and Offset are
// fixed when the session opens.
type Session struct {
	ID      string
	Task    string
	History []protocol.CompletedStep
	Offset  int

	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	frames *sse.Reader
	log    *observability.Logger

	closeOnce sync.Once
}

// Next returns the next step or error event. Unknown events are skipped and
// malformed step payloads are logged and dropped. A malformed error payload
// still yields an error event, with an empty message.
//
// Next returns io.EOF when the stream ends, ErrCanceled after Cancel or
// context cancellation, and a *TransportError for read failures.
func (s *Session) Next() (protocol.Event, error) {
	for {
		f, err := s.frames.Next()
		if err != nil {
			if s.ctx.Err() != nil {
				return protocol.Event{}, ErrCanceled
			}
			if errors.Is(err, io.EOF) {
				return protocol.Event{}, io.EOF
			}
			return protocol.Event{}, &TransportError{Message: err.Error(), Err: err}
		}
		if s.ctx.Err() != nil {
			return protocol.Event{}, ErrCanceled
		}

		ev, err := protocol.Decode(f)
		if err != nil {
			s.log.LogParseError(s.ID, err)
			var perr *protocol.PayloadError
			if errors.As(err, &perr) && perr.Event == protocol.EventError {
				return protocol.Event{Type: protocol.EventError, Error: &protocol.ErrorPayload{}}, nil
			}
			continue
		}
		if !ev.Known() {
			continue
		}
		return ev, nil
	}
}

// Cancel stops the session. A blocked Next returns ErrCanceled promptly.
func (s *Session) Cancel() {
	s.Close()
}

// Close releases the response body. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}
