package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus 消息状态：thinking -> typing -> done
type MessageStatus string

const (
	StatusThinking MessageStatus = "thinking"
	StatusTyping   MessageStatus = "typing"
	StatusDone     MessageStatus = "done"
)

// Message 对话中的一条消息
type Message struct {
	ID                ID              `json:"id"`
	Role              Role            `json:"role"`
	Content           string          `json:"content"`
	FullContent       string          `json:"full_content,omitempty"` // 打字动画的最终文本
	Status            MessageStatus   `json:"status,omitempty"`
	ImagePath         string          `json:"image_path,omitempty"`
	SearchResults     json.RawMessage `json:"search_results,omitempty"`
	ThinkingStartedAt *time.Time      `json:"thinking_started_at,omitempty"`
}

// Session 会话容器，ID 在首次服务端响应前为空
type Session struct {
	ID       ID        `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages,omitempty"`
}

// SessionSummary 会话列表项
type SessionSummary struct {
	SessionID    ID        `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionDetail 加载会话时的返回，旧接口使用 history 字段
type SessionDetail struct {
	SessionID ID        `json:"session_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	History   []Message `json:"history,omitempty"`
}

func (d SessionDetail) AllMessages() []Message {
	if len(d.Messages) > 0 {
		return d.Messages
	}
	return d.History
}
