package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
)

const defaultResponseStyle = "balanced"

var (
	ErrEmptyReply  = errors.New("empty reply")
	ErrEmptyPrompt = errors.New("empty prompt")
)

// ChatAPI 非流式对话接口
type ChatAPI interface {
	ChatBuffered(ctx context.Context, chat models.ChatRequest) (*models.ChatResponse, error)
}

// ReplyStreamer 流式对话接口
type ReplyStreamer interface {
	StreamTurn(ctx context.Context, chat models.ChatRequest, h StreamHandlers) error
}

// ImageUploader 附件上传
type ImageUploader interface {
	UploadImage(ctx context.Context, fileName string, content io.Reader) (string, error)
}

// SessionAPI 会话历史
type SessionAPI interface {
	GetSession(ctx context.Context, sessionID models.ID, limit int) (*models.SessionDetail, error)
	ListSessions(ctx context.Context) ([]models.SessionSummary, error)
}

// Backend Dispatcher 需要的全部后端接口，由 APIClient 实现
type Backend interface {
	ChatAPI
	ImageUploader
	SessionAPI
}

// SendOptions 单次发送参数
type SendOptions struct {
	Instant       bool   // 语音模式：立即展示完整回复
	ResponseStyle string // 为空时使用 balanced
	// UserInserted 调用方已用 AddUserMessage 插入了本轮的用户消息，不再重复插入
	UserInserted bool
}

// Dispatcher 决定一轮对话走流式还是非流式，并把结果交给 Conversation
type Dispatcher struct {
	api      Backend
	streamer ReplyStreamer
	conv     *Conversation
	userID   string
	style    string
	logger   *log.Entry

	// OnTurnComplete 一轮成功后调用（刷新会话列表）
	OnTurnComplete func(ctx context.Context, result models.TurnResult)
}

func NewDispatcher(api Backend, streamer ReplyStreamer, conv *Conversation, userID, style string) *Dispatcher {
	if style == "" {
		style = defaultResponseStyle
	}
	return &Dispatcher{
		api:      api,
		streamer: streamer,
		conv:     conv,
		userID:   userID,
		style:    style,
		logger:   log.WithField("component", "dispatcher"),
	}
}

// Send 有附件时总是走非流式接口，否则走流式。失败会渲染到占位消息中，同时返回 *models.TurnError
func (d *Dispatcher) Send(ctx context.Context, content, imagePath string, opts SendOptions) error {
	content = strings.TrimSpace(content)
	if content == "" && imagePath == "" {
		return ErrEmptyPrompt
	}

	turn := d.begin(content, imagePath, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.conv.AttachCancel(turn, cancel)

	chat := d.request(content, imagePath, opts)
	if imagePath != "" {
		return d.sendBuffered(ctx, turn, chat)
	}
	return d.sendStreamed(ctx, turn, chat)
}

// SendImage 先上传附件再发送
func (d *Dispatcher) SendImage(ctx context.Context, content, fileName string, image io.Reader, opts SendOptions) error {
	path, err := d.api.UploadImage(ctx, fileName, image)
	if err != nil {
		d.logger.WithError(err).Error("upload image failed")
		return err
	}
	return d.Send(ctx, content, path, opts)
}

// SendBuffered 强制走非流式接口
func (d *Dispatcher) SendBuffered(ctx context.Context, content, imagePath string, opts SendOptions) error {
	content = strings.TrimSpace(content)
	if content == "" && imagePath == "" {
		return ErrEmptyPrompt
	}

	turn := d.begin(content, imagePath, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.conv.AttachCancel(turn, cancel)

	return d.sendBuffered(ctx, turn, d.request(content, imagePath, opts))
}

func (d *Dispatcher) begin(content, imagePath string, opts SendOptions) *Turn {
	if !opts.UserInserted {
		d.conv.AddUserMessage(content, imagePath)
	}
	return d.conv.BeginTurn(content, opts.Instant)
}

func (d *Dispatcher) request(content, imagePath string, opts SendOptions) models.ChatRequest {
	style := opts.ResponseStyle
	if style == "" {
		style = d.style
	}
	return models.ChatRequest{
		Prompt:        content,
		SessionID:     d.conv.SessionID(),
		UserID:        d.userID,
		ImagePath:     imagePath,
		ResponseStyle: style,
	}
}

func (d *Dispatcher) sendBuffered(ctx context.Context, turn *Turn, chat models.ChatRequest) error {
	resp, err := d.api.ChatBuffered(ctx, chat)
	if err != nil {
		return d.fail(turn, err)
	}

	result := resp.Result()
	if result.ImagePath == "" {
		result.ImagePath = chat.ImagePath
	}
	if strings.TrimSpace(result.Reply) == "" {
		return d.fail(turn, ErrEmptyReply)
	}

	d.conv.CompleteBuffered(turn, result)
	d.complete(ctx, result)
	return nil
}

func (d *Dispatcher) sendStreamed(ctx context.Context, turn *Turn, chat models.ChatRequest) error {
	var (
		result models.TurnResult
		ended  bool
	)
	h := turn.Handlers()
	onEnd := h.OnEnd
	h.OnEnd = func(r models.TurnResult) {
		ended = true
		result = r
		onEnd(r)
	}

	err := d.streamer.StreamTurn(ctx, chat, h)
	if err != nil && !turn.Stopped() {
		return d.fail(turn, err)
	}
	if ended {
		d.complete(ctx, result)
		return nil
	}

	// 没有 end 事件，或被用户停止
	if err := d.conv.Settle(turn); err != nil {
		return d.fail(turn, err)
	}
	return nil
}

func (d *Dispatcher) fail(turn *Turn, err error) error {
	if turn.Stopped() {
		// 用户主动停止不算失败
		_ = d.conv.Settle(turn)
		return nil
	}
	d.logger.WithError(err).WithField("session", d.conv.SessionID()).Error("chat turn failed")
	d.conv.Fail(turn, err)
	return &models.TurnError{Err: err}
}

func (d *Dispatcher) complete(ctx context.Context, result models.TurnResult) {
	if d.OnTurnComplete == nil {
		return
	}
	// 调用方的 ctx 可能已随本轮结束而取消
	d.OnTurnComplete(context.WithoutCancel(ctx), result)
}

const (
	sessionHistoryLimit = 500
	untitledSession     = "未命名对话"
)

// LoadSession 用服务端历史替换当前会话；会话不存在（404）时清空
func (d *Dispatcher) LoadSession(ctx context.Context, sessionID models.ID) error {
	detail, err := d.api.GetSession(ctx, sessionID, sessionHistoryLimit)
	if err != nil {
		var apiErr *models.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			d.logger.WithField("session", sessionID).Warn("session not found, clearing")
			d.conv.Clear()
			return nil
		}
		return err
	}

	title := detail.Title
	if title == "" {
		title = untitledSession
	}
	d.conv.Replace(sessionID, title, detail.AllMessages())
	return nil
}

// ListSessions 会话列表
func (d *Dispatcher) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	return d.api.ListSessions(ctx)
}
