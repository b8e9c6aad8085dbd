package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
	"xiaole-web/pkg/config"
)

const heartbeatFrame = "ping"

// ChannelOptions 推送通道参数
type ChannelOptions struct {
	URL               string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	Tokens            TokenProvider
}

// ChannelOptionsFrom 由配置生成通道参数，URL 优先取显式配置
func ChannelOptionsFrom(ch config.Channel, api config.Api, tokens TokenProvider) (ChannelOptions, error) {
	wsURL := ch.URL
	if wsURL == "" {
		var err error
		wsURL, err = ResolveChannelURL(api.BaseURL, ch.PageOrigin)
		if err != nil {
			return ChannelOptions{}, err
		}
	}
	return ChannelOptions{
		URL:               wsURL,
		HeartbeatInterval: ch.HeartbeatInterval,
		ReconnectDelay:    ch.ReconnectDelay,
		HandshakeTimeout:  ch.HandshakeTimeout,
		Tokens:            tokens,
	}, nil
}

// ResolveChannelURL 远程 API 地址优先，否则用页面地址；https->wss，http->ws，路径 /ws
func ResolveChannelURL(remoteBase, pageOrigin string) (string, error) {
	base := remoteBase
	if base == "" {
		base = pageOrigin
	}
	if base == "" {
		return "", fmt.Errorf("no endpoint for push channel")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse channel base %q: %w", base, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if remoteBase != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	} else {
		u.Path = "/ws"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

type subscription struct {
	id string
	fn func(models.PushEvent)
}

// Channel 进程级的推送通道：每个客户端进程只创建一个，在启动时构造并传给所有使用方。
// 连接句柄只由 Channel 自己修改，外部通过 Send / Subscribe 访问。
type Channel struct {
	opts   ChannelOptions
	dialer *websocket.Dialer
	logger *log.Entry

	mu                sync.Mutex
	conn              *websocket.Conn
	connected         bool
	connecting        bool
	shouldBeConnected bool
	stopHeartbeat     chan struct{}
	reconnectTimer    *time.Timer

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   []subscription
}

func NewChannel(opts ChannelOptions) *Channel {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: log.WithFields(log.Fields{"component": "channel", "url": opts.URL}),
	}
}

// Connect 已连接或正在连接时直接返回。拨号失败同样会安排重连
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.shouldBeConnected = true
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil || c.connecting || !c.shouldBeConnected {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	c.logger.Info("websocket connecting")
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.header())

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		c.logger.WithError(err).Warn("websocket connect failed")
		c.scheduleReconnect()
		return &models.TransportError{Op: "dial", Err: err}
	}
	if !c.shouldBeConnected {
		// Disconnect 在拨号期间被调用
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	stop := make(chan struct{})
	c.conn = conn
	c.connected = true
	c.stopHeartbeat = stop
	c.mu.Unlock()

	c.logger.Info("websocket connected")
	go c.heartbeat(conn, stop)
	go c.readLoop(conn)
	return nil
}

func (c *Channel) header() http.Header {
	h := http.Header{}
	if c.opts.Tokens != nil {
		if token := c.opts.Tokens.Token(); token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return h
}

// Disconnect 主动断开，不再自动重连
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.shouldBeConnected = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.detachLocked()
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.logger.Info("websocket disconnected")
}

// detachLocked 清空连接状态并停止心跳，调用方持有 c.mu
func (c *Channel) detachLocked() {
	c.conn = nil
	c.connected = false
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

// Connected 当前是否已连接
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send 仅在连接打开时发送，否则直接丢弃（不排队）
func (c *Channel) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Error("marshal outbound frame")
		return false
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	if err := c.write(conn, data); err != nil {
		c.logger.WithError(err).Warn("websocket send failed")
		return false
	}
	return true
}

func (c *Channel) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe 注册推送回调，返回的函数只移除这一个回调
func (c *Channel) Subscribe(fn func(models.PushEvent)) (unsubscribe func()) {
	id := uuid.NewString()
	c.subsMu.Lock()
	c.subs = append(c.subs, subscription{id: id, fn: fn})
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Channel) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(conn, []byte(heartbeatFrame)); err != nil {
				c.logger.WithError(err).Debug("heartbeat failed")
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// 已被 Disconnect 摘掉
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	should := c.shouldBeConnected
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.WithError(cause).Info("websocket closed")
	if should {
		c.scheduleReconnect()
	}
}

// scheduleReconnect 同一时刻最多一个待执行的重连，固定间隔，不做指数退避
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shouldBeConnected || c.reconnectTimer != nil {
		return
	}
	c.logger.Infof("reconnect in %s", c.opts.ReconnectDelay)
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		_ = c.dial(context.Background())
	})
}

func (c *Channel) dispatch(data []byte) {
	var ev models.PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		perr := &models.ParseError{Raw: string(data), Err: err}
		c.logger.WithError(perr).Warn("drop malformed push frame")
		return
	}
	if ev.Type == models.PushTypePong {
		return
	}

	c.subsMu.RLock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.RUnlock()

	c.logger.WithField("type", ev.Type).Debug("push event")
	for _, s := range subs {
		c.notify(s, ev)
	}
}

func (c *Channel) notify(s subscription, ev models.PushEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("push subscriber panic: %v", r)
		}
	}()
	s.fn(ev)
}
