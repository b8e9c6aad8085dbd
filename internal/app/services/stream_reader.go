package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
)

const dataPrefix = "data: "

// StreamHandlers 流式回复的回调。OnEnd 至多调用一次，之后不再有回调
type StreamHandlers struct {
	OnStart func(models.StartEvent)
	OnDelta func(text string)
	OnEnd   func(models.TurnResult)
}

// StreamOpener 打开流式请求，由 APIClient 实现
type StreamOpener interface {
	OpenStream(ctx context.Context, chat models.ChatRequest) (io.ReadCloser, error)
}

// StreamReader 读取 data: <json>\n\n 分帧的流式回复
type StreamReader struct {
	opener  StreamOpener
	bufSize int
	logger  *log.Entry
}

func NewStreamReader(opener StreamOpener) *StreamReader {
	return &StreamReader{
		opener:  opener,
		bufSize: 4096,
		logger:  log.WithField("component", "stream"),
	}
}

// StreamTurn 发起一轮流式对话并阻塞直到结束、出错或 ctx 取消
func (s *StreamReader) StreamTurn(ctx context.Context, chat models.ChatRequest, h StreamHandlers) error {
	body, err := s.opener.OpenStream(ctx, chat)
	if err != nil {
		return err
	}
	defer body.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if h.OnStart != nil {
		h.OnStart(models.StartEvent{})
	}
	return s.consume(ctx, body, h)
}

func (s *StreamReader) consume(ctx context.Context, body io.Reader, h StreamHandlers) error {
	var dec FrameDecoder
	buf := make([]byte, s.bufSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Write(buf[:n]) {
				ended, err := s.dispatch(ctx, payload, h)
				if err != nil || ended {
					return err
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}

	// 服务端可能省略最后的空行
	for _, payload := range dec.Flush() {
		ended, err := s.dispatch(ctx, payload, h)
		if err != nil || ended {
			return err
		}
	}
	return nil
}

// dispatch 返回 ended=true 表示已收到 end 事件
func (s *StreamReader) dispatch(ctx context.Context, payload string, h StreamHandlers) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ev, err := models.ParseStreamEvent([]byte(payload))
	if err != nil {
		s.logger.WithError(err).Debug("skip malformed stream event")
		return false, nil
	}

	switch e := ev.(type) {
	case models.StartEvent:
		if h.OnStart != nil {
			h.OnStart(e)
		}
	case models.DeltaEvent:
		if h.OnDelta != nil {
			h.OnDelta(e.Text)
		}
	case models.EndEvent:
		if h.OnEnd != nil {
			h.OnEnd(e.Result)
		}
		return true, nil
	}
	return false, nil
}

// FrameDecoder 把任意切分的字节流还原为事件。输出只取决于字节内容，与分块边界无关
type FrameDecoder struct {
	buf bytes.Buffer
}

var frameSep = []byte("\n\n")

// Write 追加一块数据，返回已完整的事件中所有 data: 行的内容
func (d *FrameDecoder) Write(chunk []byte) []string {
	// JSON 行内不会出现裸 \r，去掉后 \r\n 分隔与 \n 分隔等价
	d.buf.Write(bytes.ReplaceAll(chunk, []byte("\r"), nil))

	var out []string
	for {
		data := d.buf.Bytes()
		idx := bytes.Index(data, frameSep)
		if idx < 0 {
			return out
		}
		block := string(data[:idx])
		d.buf.Next(idx + len(frameSep))
		out = append(out, dataLines(block)...)
	}
}

// Flush 返回缓冲中剩余的未终止事件
func (d *FrameDecoder) Flush() []string {
	rest := d.buf.String()
	d.buf.Reset()
	return dataLines(rest)
}

func dataLines(block string) []string {
	block = strings.TrimSpace(block)
	if block == "" {
		return nil
	}

	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, dataPrefix) {
			out = append(out, line[len(dataPrefix):])
		}
	}
	return out
}
