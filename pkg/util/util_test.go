package util

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaole-web/internal/app/models"
)

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunes("hello", 5, "..."))
	assert.Equal(t, "帮我查一下...", TruncateRunes("帮我查一下明天的天气", 5, "..."))
	assert.Equal(t, "", TruncateRunes("", 3, "..."))
}

func TestPromptReplacer(t *testing.T) {
	r := NewPromptReplacer()
	out := r.Render("历史：{{history}}\n问题：{{input_question}} {{unknown}}", map[string]string{
		"history":        "user: hi",
		"input_question": "天气",
	})
	assert.Equal(t, "历史：user: hi\n问题：天气 {{unknown}}", out)
}

func TestCalculateMD5(t *testing.T) {
	sum, err := CalculateMD5(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", sum)
}

func TestWriteSSEFrames(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSEHeaders(w)
	require.NoError(t, WriteStart(w, nil))
	require.NoError(t, WriteDelta(w, "你好\n"))
	require.NoError(t, WriteEnd(w, models.TurnResult{AssistantMessageID: "2", SessionID: "s"}))

	assert.Equal(t, "text/event-stream; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, w.Flushed)

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	assert.Equal(t, `data: {"type":"start"}`, frames[0])
	assert.Equal(t, `data: {"type":"delta","data":"你好\n"}`, frames[1])

	ev, err := models.ParseStreamEvent([]byte(strings.TrimPrefix(frames[2], "data: ")))
	require.NoError(t, err)
	assert.Equal(t, models.ID("2"), ev.(models.EndEvent).Result.AssistantMessageID)
}
