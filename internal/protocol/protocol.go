// Package protocol holds the wire types exchanged with the planning service
// and the typed decoding of stream frames.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rahul/makeprogress/internal/sse"
)

// StreamPath is the streaming plan endpoint.
const StreamPath = "/api/plan/stream"

// PlanPath is the non-streaming plan endpoint.
const PlanPath = "/api/plan"

// EventType names the frames the planning service emits.
type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventStep  EventType = "step"
	EventEnd   EventType = "end"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// CompletedStep is a done or stuck step sent back as history.
type CompletedStep struct {
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	EstimateMinutes  int    `json:"estimate_minutes"`
	FeedbackQuestion string `json:"feedback_question"`
	FeedbackAnswer   string `json:"feedback_answer"`
}

// PlanRequest is the body of both plan endpoints.
type PlanRequest struct {
	Task      string          `json:"task"`
	Completed []CompletedStep `json:"completed"`
}

// PlanResponse is returned by the non-streaming endpoint.
type PlanResponse struct {
	Task  string        `json:"task"`
	Steps []StepPayload `json:"steps"`
}

// StepPayload is the data of a "step" frame. Index is local to the stream
// that produced it.
type StepPayload struct {
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle,omitempty"`
	EstimateMinutes  int    `json:"estimate_minutes"`
	FeedbackQuestion string `json:"feedback_question,omitempty"`
}

// ErrorPayload is the data of an "error" frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Event is a decoded frame. Step is set for EventStep, Error for EventError;
// every other type carries no payload.
type Event struct {
	Type  EventType
	Step  *StepPayload
	Error *ErrorPayload
}

// Known reports whether the event carries a payload the client acts on.
func (e Event) Known() bool {
	return e.Type == EventStep || e.Type == EventError
}

// PayloadError reports a frame whose data could not be decoded.
type PayloadError struct {
	Event EventType
	Data  string
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload %q: %v", e.Event, e.Data, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Decode turns a frame into a typed event. Unrecognised event types are
// returned without a payload and without error.
func Decode(f sse.Frame) (Event, error) {
	ev := Event{Type: EventType(f.Event)}
	switch ev.Type {
	case EventStep:
		if err := decodeObject(f.Data, &ev.Step); err != nil {
			return Event{}, &PayloadError{Event: ev.Type, Data: f.Data, Err: err}
		}
	case EventError:
		if err := decodeObject(f.Data, &ev.Error); err != nil {
			return Event{}, &PayloadError{Event: ev.Type, Data: f.Data, Err: err}
		}
	}
	return ev, nil
}

var errNotObject = errors.New("payload is not an object")

// decodeObject unmarshals data into *dst and fails unless data is a JSON
// object.
func decodeObject[T any](data string, dst **T) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return err
	}
	if *dst == nil {
		return errNotObject
	}
	return nil
}
