package store

import "fmt"

// Store is the ordered collection of steps. Indices are unique and
// strictly ascending. Store is not safe for concurrent use; its owner
// serialises access.
type Store struct {
	steps []Step
}

func NewStore() *Store {
	return &Store{}
}

// Steps returns a copy of the steps in index order.
func (s *Store) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

func (s *Store) Len() int {
	return len(s.steps)
}

// Last returns the step with the highest index.
func (s *Store) Last() (Step, bool) {
	if len(s.steps) == 0 {
		return Step{}, false
	}
	return s.steps[len(s.steps)-1], true
}

func (s *Store) Get(index int) (Step, bool) {
	i := s.find(index)
	if i < 0 {
		return Step{}, false
	}
	return s.steps[i], true
}

// Append adds a step at the end. Its index must be non-negative and greater
// than every index already present.
func (s *Store) Append(step Step) error {
	if step.Index < 0 {
		return fmt.Errorf("%w: got %d", ErrIndexNotIncreasing, step.Index)
	}
	if last, ok := s.Last(); ok && step.Index <= last.Index {
		return fmt.Errorf("%w: got %d after %d", ErrIndexNotIncreasing, step.Index, last.Index)
	}
	if step.State == "" {
		step.State = StateIdle
	}
	s.steps = append(s.steps, step)
	return nil
}

// Transition moves a step to a new state according to the transition table
// and returns the updated step and its previous state.
func (s *Store) Transition(index int, to State) (Step, State, error) {
	i := s.find(index)
	if i < 0 {
		return Step{}, "", fmt.Errorf("%w: %d", ErrStepNotFound, index)
	}
	from := s.steps[i].State
	if !from.CanTransition(to) {
		return s.steps[i], from, fmt.Errorf("%w: %s -> %s for step %d", ErrInvalidTransition, from, to, index)
	}
	s.steps[i].State = to
	return s.steps[i], from, nil
}

// SetFeedback replaces a step's answer. Feedback stays editable in every
// state and never changes the state.
func (s *Store) SetFeedback(index int, answer string) (Step, error) {
	i := s.find(index)
	if i < 0 {
		return Step{}, fmt.Errorf("%w: %d", ErrStepNotFound, index)
	}
	s.steps[i].FeedbackAnswer = answer
	return s.steps[i], nil
}

// Terminal returns the done and stuck steps in index order.
func (s *Store) Terminal() []Step {
	var out []Step
	for _, st := range s.steps {
		if st.State.Terminal() {
			out = append(out, st)
		}
	}
	return out
}

// DropVolatile removes every idle and in-progress step and returns the
// highest remaining index, or 0 when nothing remains.
func (s *Store) DropVolatile() int {
	kept := s.steps[:0]
	offset := 0
	for _, st := range s.steps {
		if !st.State.Terminal() {
			continue
		}
		kept = append(kept, st)
		if st.Index > offset {
			offset = st.Index
		}
	}
	// clear the tail so dropped steps are not retained by the backing array
	for i := len(kept); i < len(s.steps); i++ {
		s.steps[i] = Step{}
	}
	s.steps = kept
	return offset
}

func (s *Store) Reset() {
	s.steps = nil
}

func (s *Store) find(index int) int {
	lo, hi := 0, len(s.steps)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s.steps[mid].Index == index:
			return mid
		case s.steps[mid].Index < index:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return -1
}
