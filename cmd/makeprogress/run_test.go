package main

import (
	"strings"
	"testing"

	"github.com/rahul/makeprogress/internal/progress"
	"github.com/rahul/makeprogress/internal/replan"
	"github.com/rahul/makeprogress/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{op: opNone}},
		{"s 2", command{op: opStart, index: 2}},
		{" D 0 ", command{op: opDone, index: 0}},
		{"x 3", command{op: opStuck, index: 3}},
		{"f 1 不确定 格式 ", command{op: opFeedback, index: 1, text: "不确定 格式"}},
		{"f 1", command{op: opFeedback, index: 1}},
		{"n 写周报", command{op: opNew, text: "写周报"}},
		{"r", command{op: opReset}},
		{"q", command{op: opQuit}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, bad := range []string{"s", "d x", "zz 1"} {
		_, err := parseCommand(bad)
		assert.ErrorIs(t, err, errUsage, bad)
	}
}

func TestRender(t *testing.T) {
	steps := []store.Step{
		{Index: 0, Title: "收集本周事项", Subtitle: "翻聊天记录", EstimateMinutes: 5, FeedbackQuestion: "列出3件事", FeedbackAnswer: "不确定格式", State: store.StateDone},
		{Index: 1, Title: "确认周报模板", EstimateMinutes: 3, State: store.StateIdle},
	}
	snap := replan.Snapshot{
		Task:      "写周报",
		Status:    replan.StatusStreaming,
		Steps:     steps,
		Progress:  progress.Aggregate(steps),
		Streaming: true,
	}

	out := render(snap, "🎉 第 0 步完成！", 80, false)
	assert.NotContains(t, out, "\033[")
	for _, want := range []string{
		"任务：写周报\n",
		"状态：流式生成中…\n",
		"1/2 · 50% · 约 8 分钟",
		" ✔ 0. 收集本周事项 (5 分钟)\n      翻聊天记录\n      ? 列出3件事\n      > 不确定格式\n",
		" · 1. 确认周报模板 (3 分钟)\n",
		"🎉 第 0 步完成！",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.HasSuffix(out, "> "))
}

func TestRenderEmpty(t *testing.T) {
	out := render(replan.Snapshot{Status: replan.StatusWaiting}, "", 20, false)
	assert.Contains(t, out, "任务：-\n")
	assert.Contains(t, out, "0/0 · 0% · 约 0 分钟")
	assert.Contains(t, out, "▒▒▒▒▒▒▒▒▒▒ ")
}
