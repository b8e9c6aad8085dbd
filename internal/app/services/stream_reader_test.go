package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaole-web/internal/app/models"
)

// chunkedBody 按给定切分返回数据
type chunkedBody struct {
	chunks []string
	closed bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	for len(b.chunks) > 0 && b.chunks[0] == "" {
		b.chunks = b.chunks[1:]
	}
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.closed = true
	return nil
}

type fakeOpener struct {
	body *chunkedBody
	err  error
	got  models.ChatRequest
}

func (f *fakeOpener) OpenStream(_ context.Context, chat models.ChatRequest) (io.ReadCloser, error) {
	f.got = chat
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type recorded struct {
	starts int
	deltas []string
	ends   []models.TurnResult
}

func (r *recorded) handlers() StreamHandlers {
	return StreamHandlers{
		OnStart: func(models.StartEvent) { r.starts++ },
		OnDelta: func(s string) { r.deltas = append(r.deltas, s) },
		OnEnd:   func(t models.TurnResult) { r.ends = append(r.ends, t) },
	}
}

const scenarioStream = "data: {\"type\":\"start\"}\n\n" +
	"data: {\"type\":\"delta\",\"data\":\"Hi\"}\n\n" +
	"data: {\"type\":\"delta\",\"data\":\" there，你好\"}\n\n" +
	"data: {\"type\":\"end\",\"assistant_message_id\":\"m1\",\"user_message_id\":\"u1\",\"session_id\":\"s1\"}\n\n"

func runStream(t *testing.T, chunks []string) *recorded {
	t.Helper()
	body := &chunkedBody{chunks: chunks}
	reader := NewStreamReader(&fakeOpener{body: body})
	var rec recorded
	require.NoError(t, reader.StreamTurn(context.Background(), models.ChatRequest{Prompt: "hi"}, rec.handlers()))
	assert.True(t, body.closed)
	return &rec
}

func TestStreamTurnDeliversEventsInOrder(t *testing.T) {
	rec := runStream(t, []string{scenarioStream})

	// 响应接受后一次，加上显式 start 事件一次
	assert.Equal(t, 2, rec.starts)
	assert.Equal(t, []string{"Hi", " there，你好"}, rec.deltas)
	require.Len(t, rec.ends, 1)
	assert.Equal(t, models.ID("m1"), rec.ends[0].AssistantMessageID)
	assert.Equal(t, models.ID("u1"), rec.ends[0].UserMessageID)
	assert.Equal(t, models.ID("s1"), rec.ends[0].SessionID)
}

func TestStreamTurnIndependentOfChunkBoundaries(t *testing.T) {
	want := runStream(t, []string{scenarioStream})

	raw := []byte(scenarioStream)
	for split := 1; split < len(raw); split++ {
		got := runStream(t, []string{string(raw[:split]), string(raw[split:])})
		require.Equal(t, want.deltas, got.deltas, "split at %d", split)
		require.Equal(t, want.ends, got.ends, "split at %d", split)
	}

	var single []string
	for _, b := range raw {
		single = append(single, string([]byte{b}))
	}
	got := runStream(t, single)
	assert.Equal(t, want.deltas, got.deltas)
	assert.Equal(t, want.ends, got.ends)
}

func TestStreamTurnSkipsMalformedEvents(t *testing.T) {
	rec := runStream(t, []string{
		"data: {not json}\n\n",
		"data: {\"type\":\"bogus\"}\n\n",
		": comment line\n\n",
		"data: {\"type\":\"delta\",\"data\":\"ok\"}\n\n",
	})
	assert.Equal(t, []string{"ok"}, rec.deltas)
	assert.Empty(t, rec.ends)
}

func TestStreamTurnParsesTrailingUnterminatedEvent(t *testing.T) {
	rec := runStream(t, []string{
		"data: {\"type\":\"delta\",\"data\":\"a\"}\r\n\r\n",
		"data: {\"type\":\"end\",\"session_id\":7}",
	})
	assert.Equal(t, []string{"a"}, rec.deltas)
	require.Len(t, rec.ends, 1)
	assert.Equal(t, models.ID("7"), rec.ends[0].SessionID)
}

func TestStreamTurnIgnoresEventsAfterEnd(t *testing.T) {
	rec := runStream(t, []string{
		"data: {\"type\":\"end\"}\n\n",
		"data: {\"type\":\"delta\",\"data\":\"late\"}\n\n",
	})
	assert.Empty(t, rec.deltas)
	assert.Len(t, rec.ends, 1)
}

func TestStreamTurnOpenFailureSkipsHandlers(t *testing.T) {
	opener := &fakeOpener{err: &models.StreamTransportError{StatusCode: 500, Body: `{"detail":"模型服务不可用"}`}}
	var rec recorded
	err := NewStreamReader(opener).StreamTurn(context.Background(), models.ChatRequest{Prompt: "x"}, rec.handlers())

	var streamErr *models.StreamTransportError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, 500, streamErr.StatusCode)
	assert.Zero(t, rec.starts)
	assert.Empty(t, rec.deltas)
	assert.Equal(t, "⚠️ 模型服务不可用", models.FormatTurnError(err))
}

func TestStreamTurnStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := &chunkedBody{chunks: []string{
		"data: {\"type\":\"delta\",\"data\":\"one\"}\n\n",
		"data: {\"type\":\"delta\",\"data\":\"two\"}\n\n",
	}}

	var deltas []string
	h := StreamHandlers{OnDelta: func(s string) {
		deltas = append(deltas, s)
		cancel()
	}}
	err := NewStreamReader(&fakeOpener{body: body}).StreamTurn(ctx, models.ChatRequest{}, h)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"one"}, deltas)
	assert.True(t, body.closed)
}

func TestFrameDecoderKeepsOnlyDataLines(t *testing.T) {
	var dec FrameDecoder
	out := dec.Write([]byte("event: x\ndata: {\"a\":1}\nid: 3\n\ndata: partial"))
	assert.Equal(t, []string{`{"a":1}`}, out)
	assert.Equal(t, []string{"partial"}, dec.Flush())
	assert.Empty(t, dec.Flush())
}

func TestFrameDecoderAcceptsCRLFSeparators(t *testing.T) {
	var dec FrameDecoder
	out := dec.Write([]byte("data: {\"a\":1}\r"))
	assert.Empty(t, out)
	out = dec.Write([]byte("\n\r\ndata: {\"b\":2}\r\n\r\n"))
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, out)
}
