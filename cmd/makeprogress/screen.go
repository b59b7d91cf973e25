package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/replan"
	"github.com/rahul/makeprogress/internal/store"
)

// screen redraws the whole plan on every change.
type screen struct {
	out   io.Writer
	color bool
	width func() int

	mu      sync.Mutex
	last    replan.Snapshot
	message string
}

func newScreen(out io.Writer, color bool, width func() int) *screen {
	return &screen{out: out, color: color, width: width}
}

func (s *screen) Changed(snap replan.Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
	s.draw()
}

func (s *screen) Notice(n replan.Notice) {
	s.mu.Lock()
	switch n.Kind {
	case replan.NoticeAlert:
		s.message = "⚠ " + n.Message
	case replan.NoticeCelebrate:
		s.message = fmt.Sprintf("🎉 第 %d 步完成！", n.StepIndex)
	}
	s.mu.Unlock()
}

// Say shows a one-line message under the plan.
func (s *screen) Say(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
	s.draw()
}

func (s *screen) draw() {
	s.mu.Lock()
	text := render(s.last, s.message, s.width(), s.color)
	s.mu.Unlock()
	observability.Redraw(s.out, text, s.color)
}

var stateMarks = map[store.State]string{
	store.StateIdle:       "·",
	store.StateInProgress: "▶",
	store.StateDone:       "✔",
	store.StateStuck:      "✖",
}

func render(snap replan.Snapshot, message string, width int, color bool) string {
	var b strings.Builder
	if color {
		b.WriteString(observability.Banner(width, color))
		b.WriteString("\n")
	}

	task := snap.Task
	if task == "" {
		task = "-"
	}
	fmt.Fprintf(&b, "任务：%s\n", observability.Paint(task, "bold", color))
	fmt.Fprintf(&b, "状态：%s\n", snap.Status)

	p := snap.Progress
	barWidth := max(min(width-40, 40), 10)
	fmt.Fprintf(&b, "%s %d/%d · %d%% · 约 %d 分钟\n\n",
		observability.ProgressBar(p.Percent, barWidth, color), p.Done, p.Total, p.Percent, p.Minutes)

	for _, st := range snap.Steps {
		mark := stateMarks[st.State]
		line := fmt.Sprintf(" %s %d. %s (%d 分钟)", mark, st.Index, st.Title, st.EstimateMinutes)
		switch st.State {
		case store.StateDone:
			line = observability.Paint(line, "green", color)
		case store.StateStuck:
			line = observability.Paint(line, "mag", color)
		case store.StateInProgress:
			line = observability.Paint(line, "cyan", color)
		}
		b.WriteString(line + "\n")
		if st.Subtitle != "" {
			fmt.Fprintf(&b, "      %s\n", observability.Paint(st.Subtitle, "dim", color))
		}
		if st.FeedbackQuestion != "" {
			fmt.Fprintf(&b, "      ? %s\n", st.FeedbackQuestion)
		}
		if st.FeedbackAnswer != "" {
			fmt.Fprintf(&b, "      > %s\n", st.FeedbackAnswer)
		}
	}
	if snap.Streaming {
		b.WriteString(observability.Paint(" …\n", "purp", color))
	}

	if message != "" {
		fmt.Fprintf(&b, "\n%s\n", message)
	}
	b.WriteString("\ns N 开始 · d N 完成 · x N 卡住 · f N 回答 · n 任务 · r 重置 · q 退出\n> ")
	return b.String()
}
