package models

import "encoding/json"

// ChatRequest 一轮对话的请求参数
type ChatRequest struct {
	Prompt        string `json:"prompt"`
	SessionID     ID     `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
	ResponseStyle string `json:"response_style,omitempty"`
}

// QueryParams 基本参数走查询串，图片路径走 body（避免 URL 过长）
func (r ChatRequest) QueryParams() map[string]string {
	params := map[string]string{"prompt": r.Prompt}
	if r.SessionID != "" {
		params["session_id"] = r.SessionID.String()
	}
	if r.UserID != "" {
		params["user_id"] = r.UserID
	}
	if r.ResponseStyle != "" {
		params["response_style"] = r.ResponseStyle
	}
	return params
}

// ChatBody 请求体
type ChatBody struct {
	ImagePath string `json:"image_path"`
}

// ChatResponse 非流式对话接口的返回
type ChatResponse struct {
	Reply              string          `json:"reply,omitempty"`
	Response           string          `json:"response,omitempty"`
	SessionID          ID              `json:"session_id,omitempty"`
	AssistantMessageID ID              `json:"assistant_message_id,omitempty"`
	UserMessageID      ID              `json:"user_message_id,omitempty"`
	SearchResults      json.RawMessage `json:"search_results,omitempty"`
}

func (r ChatResponse) Text() string {
	if r.Reply != "" {
		return r.Reply
	}
	return r.Response
}

func (r ChatResponse) Result() TurnResult {
	return TurnResult{
		Reply:              r.Text(),
		AssistantMessageID: r.AssistantMessageID,
		UserMessageID:      r.UserMessageID,
		SessionID:          r.SessionID,
		SearchResults:      r.SearchResults,
	}
}

// TurnResult 一轮对话结束时服务端给出的最终标识
type TurnResult struct {
	Reply              string          `json:"reply,omitempty"`
	AssistantMessageID ID              `json:"assistant_message_id,omitempty"`
	UserMessageID      ID              `json:"user_message_id,omitempty"`
	SessionID          ID              `json:"session_id,omitempty"`
	ImagePath          string          `json:"image_path,omitempty"`
	SearchResults      json.RawMessage `json:"search_results,omitempty"`
}

// UploadResponse 图片上传返回，不同版本后端字段名不一致
type UploadResponse struct {
	FilePath string `json:"file_path"`
	Path     string `json:"path"`
	URL      string `json:"url"`
}

func (r UploadResponse) Resolved() string {
	switch {
	case r.FilePath != "":
		return r.FilePath
	case r.Path != "":
		return r.Path
	default:
		return r.URL
	}
}
