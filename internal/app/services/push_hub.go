package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var pongFrame = []byte(`{"type":"pong"}`)

// PushHub 开发后端的推送端：回应心跳并向所有连接广播
type PushHub struct {
	upgrader websocket.Upgrader
	logger   *log.Entry

	mu    sync.Mutex
	conns map[*pushConn]struct{}
}

type pushConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *pushConn) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func NewPushHub() *PushHub {
	return &PushHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.WithField("component", "push_hub"),
		conns:  make(map[*pushConn]struct{}),
	}
}

// Serve 升级连接并阻塞读取，直到对端断开
func (h *PushHub) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	pc := &pushConn{conn: conn}

	h.mu.Lock()
	h.conns[pc] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("remote", r.RemoteAddr).Info("push client connected")

	defer func() {
		h.mu.Lock()
		delete(h.conns, pc)
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.WithField("remote", r.RemoteAddr).Info("push client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if string(data) == heartbeatFrame {
			if err := pc.write(pongFrame); err != nil {
				return nil
			}
		}
	}
}

// Broadcast 返回成功发送的连接数
func (h *PushHub) Broadcast(frame []byte) int {
	h.mu.Lock()
	conns := make([]*pushConn, 0, len(h.conns))
	for pc := range h.conns {
		conns = append(conns, pc)
	}
	h.mu.Unlock()

	sent := 0
	for _, pc := range conns {
		if err := pc.write(frame); err != nil {
			h.logger.WithError(err).Warn("push broadcast failed")
			continue
		}
		sent++
	}
	return sent
}

// Clients 当前连接数
func (h *PushHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
