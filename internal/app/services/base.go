package services

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
	"xiaole-web/internal/app/repositories"
	"xiaole-web/internal/pkg/code"
	"xiaole-web/pkg/config"
)

var initOnce sync.Once

// 开发后端使用的全局服务
var (
	Chat *ChatService
	Push *PushHub
)

func Init() {
	initOnce.Do(func() {
		Chat = NewChatService(repositories.NewChatRepository(), NewReplier(config.GetOpenaiConf()))
		Push = NewPushHub()
	})
}

var successInfo = models.RespInfo{
	Code: code.Success,
	Msg:  code.MsgSuccess,
}

// SuccessInfo 成功响应的 code/msg
func SuccessInfo() models.RespInfo {
	return successInfo
}

// Client 客户端侧组件集合，进程内只构造一次并传给各个使用方
type Client struct {
	API          *APIClient
	Channel      *Channel
	Streams      *StreamReader
	Conversation *Conversation
	Dispatcher   *Dispatcher
	Health       *HealthChecker

	sessionsMu sync.RWMutex
	sessions   []models.SessionSummary
}

// NewClient 按配置组装客户端
func NewClient(tokens TokenProvider, observer ConversationObserver) (*Client, error) {
	apiConf := config.GetApiConf()
	chatConf := config.GetChatConf()

	api := NewAPIClient(apiConf, tokens)
	chOpts, err := ChannelOptionsFrom(config.GetChannelConf(), apiConf, api.tokens)
	if err != nil {
		return nil, err
	}

	streams := NewStreamReader(api)
	conv := NewConversation(RevealTimingFrom(chatConf), observer)
	client := &Client{
		API:          api,
		Channel:      NewChannel(chOpts),
		Streams:      streams,
		Conversation: conv,
		Dispatcher:   NewDispatcher(api, streams, conv, chatConf.UserID, chatConf.ResponseStyle),
		Health:       NewHealthChecker(api, apiConf.HealthInterval, apiConf.HealthTimeout),
	}
	// 每轮成功后刷新会话列表（新会话、消息数变化）
	client.Dispatcher.OnTurnComplete = func(ctx context.Context, _ models.TurnResult) {
		if err := client.RefreshSessions(ctx); err != nil {
			log.WithError(err).Warn("refresh sessions failed")
		}
	}
	return client, nil
}

// RefreshSessions 重新拉取会话列表并缓存
func (c *Client) RefreshSessions(ctx context.Context) error {
	sessions, err := c.Dispatcher.ListSessions(ctx)
	if err != nil {
		return err
	}
	c.sessionsMu.Lock()
	c.sessions = sessions
	c.sessionsMu.Unlock()
	return nil
}

// Sessions 最近一次拉取的会话列表
func (c *Client) Sessions() []models.SessionSummary {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	out := make([]models.SessionSummary, len(c.sessions))
	copy(out, c.sessions)
	return out
}
