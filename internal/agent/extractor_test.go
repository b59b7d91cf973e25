package agent

import (
	"errors"
	"testing"

	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{"steps": [
 {"title":" 打开文档 ","subtitle":"点一下{就行}","estimate_minutes":0,"feedback_question":""},
 {"title":"写\"标题\"","subtitle":"随便写\\","estimate_minutes":"3","feedback_question":"贴出标题"},
 {"title":"","subtitle":"x","estimate_minutes":2},
 {"title":"a","subtitle":"b","estimate_minutes":"abc"},
 {"title":"列提纲","subtitle":"三点","estimate_minutes":12.7,"feedback_question":"列出3点","extra":{"k":"}"}}
]}`

var sampleStreamed = []protocol.StepPayload{
	{Index: 1, Title: "打开文档", Subtitle: "点一下{就行}", EstimateMinutes: 1},
	{Index: 2, Title: `写"标题"`, Subtitle: `随便写\`, EstimateMinutes: 3, FeedbackQuestion: "贴出标题"},
	{Index: 3, Title: "列提纲", Subtitle: "三点", EstimateMinutes: 12, FeedbackQuestion: "列出3点"},
}

func TestExtractorWholeDocument(t *testing.T) {
	var x Extractor
	assert.Equal(t, sampleStreamed, x.Feed(sampleDoc))
	assert.Equal(t, 3, x.Count())
}

func TestExtractorSplitAnywhere(t *testing.T) {
	runes := []rune(sampleDoc)
	for cut := 0; cut <= len(runes); cut++ {
		var x Extractor
		got := x.Feed(string(runes[:cut]))
		got = append(got, x.Feed(string(runes[cut:]))...)
		require.Equal(t, sampleStreamed, got, "cut at %d", cut)
	}

	var x Extractor
	var got []protocol.StepPayload
	for _, r := range runes {
		got = append(got, x.Feed(string(r))...)
	}
	assert.Equal(t, sampleStreamed, got)
}

func TestExtractorIgnoresTextOutsideSteps(t *testing.T) {
	var x Extractor
	got := x.Feed(`{"note":{"title":"t","subtitle":"s","estimate_minutes":1}, "steps":[{"title":"t","subtitle":"s","estimate_minutes":1}], "after":{"title":"u","subtitle":"v","estimate_minutes":1}}`)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Index)
}

func TestExtractorNothing(t *testing.T) {
	var x Extractor
	assert.Empty(t, x.Feed(`{"steps":[]}`))
	assert.Empty(t, x.Feed(`not json at all`))
	assert.Zero(t, x.Count())
}

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps(sampleDoc)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, protocol.StepPayload{Index: 3, Title: "a", Subtitle: "b", EstimateMinutes: 1}, steps[2])
	assert.Equal(t, 4, steps[3].Index)
}

func TestParseStepsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "invalid json", content: `{"steps":`, want: "Model returned invalid JSON"},
		{name: "no steps", content: `{"steps":[]}`, want: "Model returned no steps"},
		{name: "no valid steps", content: `{"steps":[{"title":"a"}]}`, want: ErrNoValidSteps.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSteps(tt.content)
			var oerr *OutputError
			require.True(t, errors.As(err, &oerr))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExtractorStripsMarkup(t *testing.T) {
	var x Extractor
	got := x.Feed(`{"steps":[{"title":"<b>打开</b>文档 &amp; 模板","subtitle":"<script>alert(1)</script>点一下","estimate_minutes":1}]}`)
	require.Len(t, got, 1)
	assert.Equal(t, "打开文档 & 模板", got[0].Title)
	assert.Equal(t, "点一下", got[0].Subtitle)
}
