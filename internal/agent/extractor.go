package agent

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rahul/makeprogress/internal/protocol"
)

// OutputError reports model output that yields no usable steps. Its text
// is shown to the caller as is.
type OutputError struct {
	Reason string
	Err    error
}

func (e *OutputError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *OutputError) Unwrap() error { return e.Err }

var (
	ErrNoSteps      = &OutputError{Reason: "No steps streamed from model response"}
	ErrNoValidSteps = &OutputError{Reason: "No valid steps generated from model response"}
	errEmptySteps   = &OutputError{Reason: "Model returned no steps"}
)

const stepsKey = `"steps"`

// Extractor pulls complete step objects out of a JSON document that
// arrives in arbitrary pieces. It looks for the "steps" array and emits
// each top-level object in it as soon as its closing brace is seen.
type Extractor struct {
	tail     string
	inSteps  bool
	depth    int
	inString bool
	escaped  bool
	obj      strings.Builder
	count    int
}

// Feed scans delta and returns the steps it completed, numbered from 1
// across the whole document.
func (x *Extractor) Feed(delta string) []protocol.StepPayload {
	var out []protocol.StepPayload
	for _, ch := range delta {
		if !x.inSteps {
			x.tail += string(ch)
			if len(x.tail) > 64 {
				x.tail = x.tail[len(x.tail)-64:]
			}
			if ch == '[' && strings.Contains(x.tail, stepsKey) {
				x.inSteps = true
				x.depth = 0
				x.tail = ""
			}
			continue
		}

		if x.depth == 0 {
			switch ch {
			case '{':
				x.depth = 1
				x.obj.Reset()
				x.obj.WriteRune(ch)
			case ']':
				x.inSteps = false
			}
			continue
		}

		x.obj.WriteRune(ch)
		switch {
		case x.escaped:
			x.escaped = false
		case x.inString:
			switch ch {
			case '\\':
				x.escaped = true
			case '"':
				x.inString = false
			}
		case ch == '"':
			x.inString = true
		case ch == '{':
			x.depth++
		case ch == '}':
			x.depth--
			if x.depth == 0 {
				if step, ok := parseStreamedStep(x.obj.String()); ok {
					x.count++
					step.Index = x.count
					out = append(out, step)
				}
				x.obj.Reset()
			}
		}
	}
	return out
}

// Count is the number of steps emitted so far.
func (x *Extractor) Count() int {
	return x.count
}

type rawStep struct {
	Title            any `json:"title"`
	Subtitle         any `json:"subtitle"`
	EstimateMinutes  any `json:"estimate_minutes"`
	FeedbackQuestion any `json:"feedback_question"`
}

// parseStreamedStep rejects objects whose estimate is not a number.
func parseStreamedStep(obj string) (protocol.StepPayload, bool) {
	var raw rawStep
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return protocol.StepPayload{}, false
	}
	minutes, ok := toMinutes(raw.EstimateMinutes)
	if !ok {
		return protocol.StepPayload{}, false
	}
	return buildStep(raw, minutes)
}

func buildStep(raw rawStep, minutes int) (protocol.StepPayload, bool) {
	title, ok := toText(raw.Title)
	if !ok || title == "" {
		return protocol.StepPayload{}, false
	}
	subtitle, ok := toText(raw.Subtitle)
	if !ok || subtitle == "" {
		return protocol.StepPayload{}, false
	}
	question, ok := toText(raw.FeedbackQuestion)
	if !ok {
		return protocol.StepPayload{}, false
	}
	return protocol.StepPayload{
		Title:            title,
		Subtitle:         subtitle,
		EstimateMinutes:  max(1, minutes),
		FeedbackQuestion: question,
	}, true
}

// ParseSteps reads a complete {"steps": [...]} document. Invalid entries
// are dropped; an estimate that is not a number counts as 1 minute.
func ParseSteps(content string) ([]protocol.StepPayload, error) {
	var doc struct {
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, &OutputError{Reason: "Model returned invalid JSON", Err: err}
	}
	if len(doc.Steps) == 0 {
		return nil, errEmptySteps
	}

	var steps []protocol.StepPayload
	for _, item := range doc.Steps {
		var raw rawStep
		if err := json.Unmarshal(item, &raw); err != nil {
			continue
		}
		minutes, _ := toMinutes(raw.EstimateMinutes)
		step, ok := buildStep(raw, minutes)
		if !ok {
			continue
		}
		step.Index = len(steps) + 1
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, ErrNoValidSteps
	}
	return steps, nil
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return plainText(t), true
	}
	return "", false
}

func toMinutes(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}
