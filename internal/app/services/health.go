package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Pinger 健康探针
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 定期探测后端是否可达，状态变化时通知监听者
type HealthChecker struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *log.Entry

	checking atomic.Bool
	online   atomic.Bool
	checked  atomic.Bool

	mu        sync.Mutex
	listeners []healthListener
	cancel    context.CancelFunc
	done      chan struct{}
}

type healthListener struct {
	id string
	fn func(online bool)
}

func NewHealthChecker(pinger Pinger, interval, timeout time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	h := &HealthChecker{
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   log.WithField("component", "health"),
	}
	h.online.Store(true)
	return h
}

// OnChange 注册状态监听，返回取消函数
func (h *HealthChecker) OnChange(fn func(online bool)) func() {
	id := uuid.NewString()
	h.mu.Lock()
	h.listeners = append(h.listeners, healthListener{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, l := range h.listeners {
			if l.id == id {
				h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
				return
			}
		}
	}
}

// Online 最近一次探测的结果，未探测前视为在线
func (h *HealthChecker) Online() bool {
	return h.online.Load()
}

// Check 执行一次探测；已有探测进行中时直接返回当前状态
func (h *HealthChecker) Check(ctx context.Context) bool {
	if !h.checking.CompareAndSwap(false, true) {
		return h.online.Load()
	}
	defer h.checking.Store(false)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.pinger.Ping(ctx)
	online := err == nil
	if err != nil {
		h.logger.WithError(err).Warn("backend unreachable")
	}

	prev := h.online.Swap(online)
	first := !h.checked.Swap(true)
	if first || prev != online {
		h.notify(online)
	}
	return online
}

func (h *HealthChecker) notify(online bool) {
	h.mu.Lock()
	listeners := make([]healthListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Errorf("health listener panic: %v", r)
				}
			}()
			l.fn(online)
		}()
	}
}

// Start 立即探测一次，之后按间隔探测，直到 Stop 或 ctx 结束
func (h *HealthChecker) Start(ctx context.Context) {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		h.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()
}

func (h *HealthChecker) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
