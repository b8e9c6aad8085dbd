package services

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
	"xiaole-web/internal/app/repositories"
)

// ChatService 开发后端的对话处理：记录消息并调用 Replier
type ChatService struct {
	repo    *repositories.ChatRepository
	replier Replier
}

func NewChatService(repo *repositories.ChatRepository, replier Replier) *ChatService {
	return &ChatService{repo: repo, replier: replier}
}

func (s *ChatService) Repo() *repositories.ChatRepository {
	return s.repo
}

func (s *ChatService) begin(req models.ChatRequest) (models.ID, []models.Message, models.Message, error) {
	sessionID := s.repo.EnsureSession(req.SessionID, req.Prompt)
	history := s.repo.History(sessionID)
	user, err := s.repo.Append(sessionID, models.Message{
		Role:      models.RoleUser,
		Content:   req.Prompt,
		ImagePath: req.ImagePath,
	})
	return sessionID, history, user, err
}

func (s *ChatService) finish(sessionID models.ID, user models.Message, reply string) (models.TurnResult, error) {
	assistant, err := s.repo.Append(sessionID, models.Message{
		Role:    models.RoleAssistant,
		Content: reply,
	})
	if err != nil {
		return models.TurnResult{}, err
	}
	return models.TurnResult{
		Reply:              reply,
		AssistantMessageID: assistant.ID,
		UserMessageID:      user.ID,
		SessionID:          sessionID,
		ImagePath:          user.ImagePath,
	}, nil
}

// Chat 一次性返回完整回复
func (s *ChatService) Chat(ctx context.Context, req models.ChatRequest) (models.TurnResult, error) {
	sessionID, history, user, err := s.begin(req)
	if err != nil {
		return models.TurnResult{}, err
	}
	reply, err := s.replier.Reply(ctx, history, req.Prompt)
	if err != nil {
		return models.TurnResult{}, fmt.Errorf("reply: %w", err)
	}
	return s.finish(sessionID, user, reply)
}

// Stream 每收到一段回复调用 emit，结束后返回最终标识
func (s *ChatService) Stream(ctx context.Context, req models.ChatRequest, emit func(string) error) (models.TurnResult, error) {
	sessionID, history, user, err := s.begin(req)
	if err != nil {
		return models.TurnResult{}, err
	}

	contentChan, errorChan := s.replier.ReplyStream(ctx, history, req.Prompt)
	var full strings.Builder
	for content := range contentChan {
		full.WriteString(content)
		if err := emit(content); err != nil {
			log.WithError(err).Warn("stream client gone")
			return models.TurnResult{}, err
		}
	}
	if err := <-errorChan; err != nil {
		return models.TurnResult{}, fmt.Errorf("reply stream: %w", err)
	}
	return s.finish(sessionID, user, full.String())
}
