package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaole-web/internal/app/models"
)

// wsServer 测试用推送服务端
type wsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	accepted atomic.Int32
	pings    atomic.Int32
	auth     atomic.Value

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.auth.Store(r.Header.Get("Authorization"))
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.accepted.Add(1)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == heartbeatFrame {
				s.pings.Add(1)
				_ = conn.WriteMessage(websocket.TextMessage, pongFrame)
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *wsServer) last() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) push(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, s.last().WriteMessage(websocket.TextMessage, []byte(frame)))
}

func newTestChannel(url string) *Channel {
	return NewChannel(ChannelOptions{
		URL:               url,
		HeartbeatInterval: 20 * time.Millisecond,
		ReconnectDelay:    50 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		Tokens:            StaticToken("secret"),
	})
}

func TestResolveChannelURL(t *testing.T) {
	cases := []struct {
		remote, origin, want string
	}{
		{"https://api.example.com", "", "wss://api.example.com/ws"},
		{"http://10.0.0.2:8000/", "", "ws://10.0.0.2:8000/ws"},
		{"https://api.example.com/v2", "http://localhost:5173", "wss://api.example.com/v2/ws"},
		{"", "https://app.example.com/chat/1?x=1", "wss://app.example.com/ws"},
		{"", "http://localhost:5173", "ws://localhost:5173/ws"},
	}
	for _, c := range cases {
		got, err := ResolveChannelURL(c.remote, c.origin)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := ResolveChannelURL("", "")
	assert.Error(t, err)
	_, err = ResolveChannelURL("ftp://x", "")
	assert.Error(t, err)
}

func TestChannelHeartbeatWhileConnected(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())

	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.Connected())
	assert.Equal(t, "Bearer secret", srv.auth.Load())

	require.Eventually(t, func() bool { return srv.pings.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ch.Disconnect()
	assert.False(t, ch.Connected())
	after := srv.pings.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, srv.pings.Load(), "no heartbeat after disconnect")
}

func TestChannelConnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.accepted.Load())
}

func TestChannelDeliversToSubscribersInOrder(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())
	defer ch.Disconnect()

	var mu sync.Mutex
	var order []string
	record := func(name string) func(models.PushEvent) {
		return func(ev models.PushEvent) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name+":"+ev.Type)
		}
	}
	ch.Subscribe(record("a"))
	ch.Subscribe(func(models.PushEvent) { panic("boom") })
	unsubscribe := ch.Subscribe(record("b"))
	ch.Subscribe(record("c"))
	unsubscribe()
	unsubscribe()

	require.NoError(t, ch.Connect(context.Background()))
	srv.push(t, `{"type":"pong"}`)
	srv.push(t, `not json`)
	srv.push(t, `{"type":"reminder","text":"喝水"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a:reminder", "c:reminder"}, order)
	mu.Unlock()
}

func TestChannelForwardsRawFrame(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())
	defer ch.Disconnect()

	got := make(chan models.PushEvent, 1)
	ch.Subscribe(func(ev models.PushEvent) { got <- ev })
	require.NoError(t, ch.Connect(context.Background()))
	srv.push(t, `{"type":"task_done","id":42}`)

	select {
	case ev := <-got:
		assert.JSONEq(t, `{"type":"task_done","id":42}`, string(ev.Raw))
		var body struct {
			ID int `json:"id"`
		}
		require.NoError(t, ev.Decode(&body))
		assert.Equal(t, 42, body.ID)
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}
}

func TestChannelReconnectsAfterUnexpectedClose(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, srv.last().Close())

	require.Eventually(t, func() bool { return srv.accepted.Load() == 2 && ch.Connected() }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(2), srv.accepted.Load(), "exactly one reconnect per close")
}

func TestChannelNoReconnectAfterDisconnect(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())

	require.NoError(t, ch.Connect(context.Background()))
	ch.Disconnect()
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(1), srv.accepted.Load())
	assert.False(t, ch.Connected())
}

func TestChannelRetriesFailedDialAtFixedInterval(t *testing.T) {
	srv := newWSServer(t)
	url := srv.wsURL()
	srv.Close()

	ch := newTestChannel(url)
	defer ch.Disconnect()

	err := ch.Connect(context.Background())
	var transportErr *models.TransportError
	require.ErrorAs(t, err, &transportErr)

	// 同一时刻最多一个待执行的重连
	ch.scheduleReconnect()
	ch.scheduleReconnect()
	ch.mu.Lock()
	pending := ch.reconnectTimer != nil
	ch.mu.Unlock()
	assert.True(t, pending)
	assert.False(t, ch.Connected())
}

func TestChannelSendDropsWhileDisconnected(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(srv.wsURL())

	assert.False(t, ch.Send(map[string]string{"type": "hello"}))

	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.Send(map[string]string{"type": "hello"}))

	ch.Disconnect()
	assert.False(t, ch.Send(map[string]string{"type": "hello"}))
}
