package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ErrorPrefix       = "⚠️ "
	FallbackErrorText = "出错了，请稍后重试。"
)

// TransportError 推送通道连接层错误，只在通道内部处理（重连）
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamTransportError 流式接口返回非 2xx 或没有响应体
type StreamTransportError struct {
	StatusCode int
	Body       string
}

func (e *StreamTransportError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stream open failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("stream open failed: HTTP %d", e.StatusCode)
}

// ParseError 单条事件或推送帧解析失败，记录后丢弃
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// APIError HTTP 调用失败。StatusCode 为 0 表示没有收到响应（网络错误）
type APIError struct {
	StatusCode int
	Detail     string
	Message    string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	if d := e.describe(); d != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, d)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable 网络错误或 5xx 可以重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == 0 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

func (e *APIError) describe() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Message != "":
		return e.Message
	default:
		return plainBody(e.Body)
	}
}

// NewAPIError 从响应体中提取 detail / message / error 字段
func NewAPIError(status int, body string) *APIError {
	e := &APIError{StatusCode: status, Body: body}
	e.Detail, e.Message = bodyDetail(body)
	return e
}

// TurnError 一轮对话最终失败，渲染为助手消息中的错误文本
type TurnError struct {
	Err error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("chat turn failed: %v", e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// ErrorDetail 取最有信息量的错误描述：detail -> message -> 响应体 -> 错误信息 -> 兜底文案
func ErrorDetail(err error) string {
	if err == nil {
		return FallbackErrorText
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		if d := apiErr.describe(); d != "" {
			return d
		}
		return fmt.Sprintf("HTTP %d", apiErr.StatusCode)
	}

	var streamErr *StreamTransportError
	if errors.As(err, &streamErr) {
		detail, message := bodyDetail(streamErr.Body)
		switch {
		case detail != "":
			return detail
		case message != "":
			return message
		case plainBody(streamErr.Body) != "":
			return plainBody(streamErr.Body)
		}
		return fmt.Sprintf("HTTP %d", streamErr.StatusCode)
	}

	var turnErr *TurnError
	if errors.As(err, &turnErr) && turnErr.Err != nil {
		err = turnErr.Err
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackErrorText
}

// FormatTurnError 用户可见的错误文本
func FormatTurnError(err error) string {
	return ErrorPrefix + ErrorDetail(err)
}

func bodyDetail(body string) (detail, message string) {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", ""
	}
	// detail 可能是校验错误数组，这种情况不直接展示
	if len(parsed.Detail) > 0 {
		var s string
		if json.Unmarshal(parsed.Detail, &s) == nil {
			detail = s
		}
	}
	message = parsed.Message
	if message == "" {
		message = parsed.Error
	}
	return detail, message
}

// plainBody 纯文本响应体原样返回，JSON 对象/数组不直接展示给用户
func plainBody(body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		if json.Valid([]byte(body)) {
			return ""
		}
	}
	return body
}
