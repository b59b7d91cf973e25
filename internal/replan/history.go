package replan

import (
	"strings"

	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/rahul/makeprogress/internal/store"
)

// StuckMarker prefixes the answer of a stuck step in history.
const StuckMarker = "遇到困难"

// BuildHistory maps the done and stuck steps to the summaries sent to the
// planning service. A stuck step's answer becomes "遇到困难：<answer>", or
// just the marker when the answer is blank.
func BuildHistory(steps []store.Step) []protocol.CompletedStep {
	history := []protocol.CompletedStep{}
	for _, s := range steps {
		if !s.State.Terminal() {
			continue
		}
		answer := s.FeedbackAnswer
		if s.State == store.StateStuck {
			if strings.TrimSpace(answer) != "" {
				answer = StuckMarker + "：" + answer
			} else {
				answer = StuckMarker
			}
		}
		history = append(history, protocol.CompletedStep{
			Title:            s.Title,
			Subtitle:         s.Subtitle,
			EstimateMinutes:  s.EstimateMinutes,
			FeedbackQuestion: s.FeedbackQuestion,
			FeedbackAnswer:   answer,
		})
	}
	return history
}
