package models

import (
	"encoding/json"
	"errors"
)

// PushEvent 推送通道收到的一帧，Raw 原样转发给订阅方
type PushEvent struct {
	Type string
	Raw  json.RawMessage
}

const PushTypePong = "pong"

func (e *PushEvent) UnmarshalJSON(b []byte) error {
	if !json.Valid(b) {
		return errors.New("invalid json frame")
	}
	e.Raw = append(e.Raw[:0], b...)
	e.Type = ""

	// 非对象帧也转发，只是没有 type
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err == nil {
		e.Type = head.Type
	}
	return nil
}

func (e PushEvent) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return []byte("null"), nil
	}
	return e.Raw, nil
}

// Decode 将原始帧解到调用方的结构
func (e PushEvent) Decode(v interface{}) error {
	return json.Unmarshal(e.Raw, v)
}
