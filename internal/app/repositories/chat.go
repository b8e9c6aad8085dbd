package repositories

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"xiaole-web/internal/app/models"
	"xiaole-web/pkg/util"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionTitleRunes = 30

type sessionRecord struct {
	id        models.ID
	title     string
	messages  []models.Message
	updatedAt time.Time
}

// ChatRepository 会话与消息的内存存储，仅供本地开发后端使用
type ChatRepository struct {
	mu       sync.RWMutex
	sessions map[models.ID]*sessionRecord
	nextID   int64
	now      func() time.Time
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{
		sessions: make(map[models.ID]*sessionRecord),
		now:      time.Now,
	}
}

// EnsureSession 会话不存在时新建，标题取首条提问的前 30 个字符
func (r *ChatRepository) EnsureSession(sessionID models.ID, prompt string) models.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" {
		if _, ok := r.sessions[sessionID]; ok {
			return sessionID
		}
	} else {
		sessionID = models.ID(uuid.NewString())
	}
	r.sessions[sessionID] = &sessionRecord{
		id:        sessionID,
		title:     util.TruncateRunes(prompt, sessionTitleRunes, "..."),
		updatedAt: r.now(),
	}
	return sessionID
}

// Append 追加一条消息并分配数字 ID
func (r *ChatRepository) Append(sessionID models.ID, msg models.Message) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return models.Message{}, ErrSessionNotFound
	}
	r.nextID++
	msg.ID = models.ID(strconv.FormatInt(r.nextID, 10))
	msg.Status = models.StatusDone
	rec.messages = append(rec.messages, msg)
	rec.updatedAt = r.now()
	return msg, nil
}

// Get 返回会话详情，limit<=0 时返回全部消息，否则返回最近 limit 条
func (r *ChatRepository) Get(sessionID models.ID, limit int) (*models.SessionDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	msgs := rec.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return &models.SessionDetail{SessionID: rec.id, Title: rec.title, Messages: out}, nil
}

// History 供模型使用的历史对话
func (r *ChatRepository) History(sessionID models.ID) []models.Message {
	detail, err := r.Get(sessionID, 0)
	if err != nil {
		return nil
	}
	return detail.Messages
}

// List 按更新时间倒序
func (r *ChatRepository) List() []models.SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SessionSummary, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, models.SessionSummary{
			SessionID:    rec.id,
			Title:        rec.title,
			MessageCount: len(rec.messages),
			UpdatedAt:    rec.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete 删除会话
func (r *ChatRepository) Delete(sessionID models.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}
