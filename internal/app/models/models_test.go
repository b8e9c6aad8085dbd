package models

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	var body struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
		D ID `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"s-1","b":42,"c":null,"d":1234567890123}`), &body))
	assert.Equal(t, ID("s-1"), body.A)
	assert.Equal(t, ID("42"), body.B)
	assert.Equal(t, ID(""), body.C)
	assert.Equal(t, ID("1234567890123"), body.D)

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &body))
	assert.True(t, ID("temp-3").IsTemporary())
	assert.False(t, ID("3").IsTemporary())
}

func TestParseStreamEvent(t *testing.T) {
	ev, err := ParseStreamEvent([]byte(`{"type":"start","model":"qwen"}`))
	require.NoError(t, err)
	assert.Equal(t, StartEvent{Meta: map[string]interface{}{"model": "qwen"}}, ev)

	ev, err = ParseStreamEvent([]byte(`{"type":"delta","data":"你好"}`))
	require.NoError(t, err)
	assert.Equal(t, DeltaEvent{Text: "你好"}, ev)

	ev, err = ParseStreamEvent([]byte(`{"type":"end","assistant_message_id":9,"user_message_id":"8","session_id":"s"}`))
	require.NoError(t, err)
	end, ok := ev.(EndEvent)
	require.True(t, ok)
	assert.Equal(t, ID("9"), end.Result.AssistantMessageID)
	assert.Equal(t, ID("8"), end.Result.UserMessageID)
	assert.Equal(t, ID("s"), end.Result.SessionID)

	var parseErr *ParseError
	_, err = ParseStreamEvent([]byte(`{"type":"delta","data":`))
	assert.ErrorAs(t, err, &parseErr)
	_, err = ParseStreamEvent([]byte(`{"type":"progress"}`))
	assert.ErrorAs(t, err, &parseErr)
	_, err = ParseStreamEvent([]byte(`{"type":"delta","data":3}`))
	assert.ErrorAs(t, err, &parseErr)
}

func TestStreamEventWireFormat(t *testing.T) {
	for _, ev := range []StreamEvent{
		StartEvent{},
		DeltaEvent{Text: "a\nb"},
		EndEvent{Result: TurnResult{AssistantMessageID: "2", SessionID: "s"}},
	} {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		back, err := ParseStreamEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, ev.Kind(), back.Kind(), string(raw))
	}

	raw, _ := json.Marshal(DeltaEvent{Text: "hi"})
	assert.JSONEq(t, `{"type":"delta","data":"hi"}`, string(raw))
}

func TestErrorDetailPrecedence(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"detail", NewAPIError(http.StatusBadRequest, `{"detail":"参数缺失","message":"m"}`), "参数缺失"},
		{"message", NewAPIError(http.StatusBadRequest, `{"message":"bad style"}`), "bad style"},
		{"error field", NewAPIError(http.StatusBadGateway, `{"error":"upstream"}`), "upstream"},
		{"validation array", NewAPIError(http.StatusUnprocessableEntity, `{"detail":[{"loc":["q"]}]}`), "HTTP 422"},
		{"plain body", NewAPIError(http.StatusInternalServerError, "gateway timeout"), "gateway timeout"},
		{"empty body", NewAPIError(http.StatusServiceUnavailable, ""), "HTTP 503"},
		{"stream detail", &StreamTransportError{StatusCode: 500, Body: `{"detail":"模型超时"}`}, "模型超时"},
		{"stream bare", &StreamTransportError{StatusCode: 502}, "HTTP 502"},
		{"wrapped", &TurnError{Err: errors.New("network down")}, "network down"},
		{"nil", nil, FallbackErrorText},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ErrorDetail(c.err))
		})
	}
	assert.Equal(t, "⚠️ 参数缺失", FormatTurnError(cases[0].err))
}

func TestAPIErrorRetryable(t *testing.T) {
	assert.True(t, (&APIError{Err: errors.New("dial")}).Retryable())
	assert.True(t, NewAPIError(http.StatusInternalServerError, "").Retryable())
	assert.False(t, NewAPIError(http.StatusNotFound, "").Retryable())
	assert.False(t, NewAPIError(http.StatusUnauthorized, "").Retryable())
}

func TestPushEventKeepsRawFrame(t *testing.T) {
	var ev PushEvent
	require.NoError(t, json.Unmarshal([]byte(`{"type":"reminder","at":"09:00"}`), &ev))
	assert.Equal(t, "reminder", ev.Type)

	var body struct {
		At string `json:"at"`
	}
	require.NoError(t, ev.Decode(&body))
	assert.Equal(t, "09:00", body.At)

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reminder","at":"09:00"}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`[1,2]`), &ev))
	assert.Empty(t, ev.Type)
}

func TestChatResponseText(t *testing.T) {
	assert.Equal(t, "a", ChatResponse{Reply: "a", Response: "b"}.Text())
	assert.Equal(t, "b", ChatResponse{Response: "b"}.Text())
	assert.Equal(t, "p", UploadResponse{Path: "p", URL: "u"}.Resolved())

	params := ChatRequest{Prompt: "hi", ImagePath: "x.png"}.QueryParams()
	assert.Equal(t, map[string]string{"prompt": "hi"}, params)
}
