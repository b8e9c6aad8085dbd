package models

import (
	"encoding/json"
	"fmt"
)

type StreamEventKind string

const (
	StreamStart StreamEventKind = "start"
	StreamDelta StreamEventKind = "delta"
	StreamEnd   StreamEventKind = "end"
)

// StreamEvent 流式回复中的一个事件，只有 StartEvent / DeltaEvent / EndEvent 三种实现
type StreamEvent interface {
	Kind() StreamEventKind
	isStreamEvent()
}

// StartEvent 仅作提示，可能携带元数据
type StartEvent struct {
	Meta map[string]interface{}
}

// DeltaEvent 一段增量文本
type DeltaEvent struct {
	Text string
}

// EndEvent 终止事件，携带最终的消息/会话标识
type EndEvent struct {
	Result TurnResult
}

func (StartEvent) Kind() StreamEventKind { return StreamStart }
func (DeltaEvent) Kind() StreamEventKind { return StreamDelta }
func (EndEvent) Kind() StreamEventKind   { return StreamEnd }

func (StartEvent) isStreamEvent() {}
func (DeltaEvent) isStreamEvent() {}
func (EndEvent) isStreamEvent()   {}

// 线上格式：{"type": "...", "data": "...", 以及 end 事件的终止字段}
type streamPayload struct {
	Type StreamEventKind `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	TurnResult
}

// ParseStreamEvent 解析一行 data: 之后的 JSON
func ParseStreamEvent(raw []byte) (StreamEvent, error) {
	var p streamPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ParseError{Raw: string(raw), Err: err}
	}

	switch p.Type {
	case StreamStart:
		meta := make(map[string]interface{})
		_ = json.Unmarshal(raw, &meta)
		delete(meta, "type")
		return StartEvent{Meta: meta}, nil
	case StreamDelta:
		var text string
		if len(p.Data) > 0 && string(p.Data) != "null" {
			if err := json.Unmarshal(p.Data, &text); err != nil {
				return nil, &ParseError{Raw: string(raw), Err: fmt.Errorf("delta data: %w", err)}
			}
		}
		return DeltaEvent{Text: text}, nil
	case StreamEnd:
		return EndEvent{Result: p.TurnResult}, nil
	default:
		return nil, &ParseError{Raw: string(raw), Err: fmt.Errorf("unknown event type %q", p.Type)}
	}
}

func (e StartEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Meta)+1)
	for k, v := range e.Meta {
		out[k] = v
	}
	out["type"] = StreamStart
	return json.Marshal(out)
}

func (e DeltaEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type StreamEventKind `json:"type"`
		Data string          `json:"data"`
	}{StreamDelta, e.Text})
}

func (e EndEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type StreamEventKind `json:"type"`
		TurnResult
	}{StreamEnd, e.Result})
}
