package store

import "errors"

var (
	ErrStepNotFound       = errors.New("step not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrIndexNotIncreasing = errors.New("step index must be greater than the last index")
)

// State is the lifecycle position of a step.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "inProgress"
	StateDone       State = "done"
	StateStuck      State = "stuck"
)

// transitions lists every legal move. done and stuck have no outgoing edges.
var transitions = map[State][]State{
	StateIdle:       {StateInProgress, StateDone, StateStuck},
	StateInProgress: {StateDone, StateStuck},
}

// CanTransition reports whether to is reachable from s in one move.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the user has ended engagement with the step.
func (s State) Terminal() bool {
	return s == StateDone || s == StateStuck
}

func (s State) Valid() bool {
	switch s {
	case StateIdle, StateInProgress, StateDone, StateStuck:
		return true
	}
	return false
}

// Step represents a single actionable unit of the plan. Only FeedbackAnswer
// and State change after creation.
type Step struct {
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle,omitempty"`
	EstimateMinutes  int    `json:"estimate_minutes"`
	FeedbackQuestion string `json:"feedback_question,omitempty"`
	FeedbackAnswer   string `json:"feedback_answer"`
	State            State  `json:"state"`
}
