package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
	"xiaole-web/pkg/config"
	"xiaole-web/pkg/util"
)

const defaultDashScopeURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Replier 开发后端的回复生成器
type Replier interface {
	Reply(ctx context.Context, history []models.Message, prompt string) (string, error)
	// ReplyStream 两个通道都会被关闭；errorChan 至多一个错误
	ReplyStream(ctx context.Context, history []models.Message, prompt string) (<-chan string, <-chan error)
}

// NewReplier 配置了 apikey 时使用 OpenAI 兼容接口，否则回显
func NewReplier(conf config.Openai) Replier {
	if conf.ApiKey == "" {
		log.Info("openai apikey not set, using echo replier")
		return NewEchoReplier()
	}
	return NewQwenChatClient(conf)
}

type QwenChatClient struct {
	client   openai.Client
	model    string
	prompt   string
	replacer util.StringReplacer
}

func NewQwenChatClient(conf config.Openai) *QwenChatClient {
	baseURL := conf.BaseURL
	if baseURL == "" {
		baseURL = defaultDashScopeURL
	}
	return &QwenChatClient{
		client: openai.NewClient(
			option.WithAPIKey(conf.ApiKey),
			option.WithBaseURL(baseURL),
		),
		model:    conf.Model,
		prompt:   conf.Prompt,
		replacer: util.NewPromptReplacer(),
	}
}

func (p *QwenChatClient) params(history []models.Message, prompt string) openai.ChatCompletionNewParams {
	msg := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	msg = append(msg, openai.SystemMessage("你是小乐，一个贴心的 AI 管家。"))

	content := p.replacer.Render(p.prompt, map[string]string{
		"history":        formatHistory(history),
		"input_question": prompt,
	})
	msg = append(msg, openai.UserMessage(content))

	return openai.ChatCompletionNewParams{
		Messages: msg,
		Model:    p.model,
	}
}

func (p *QwenChatClient) Reply(ctx context.Context, history []models.Message, prompt string) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(history, prompt))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (p *QwenChatClient) ReplyStream(ctx context.Context, history []models.Message, prompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errorChan := make(chan error, 1) // 缓冲通道，避免goroutine泄漏

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(history, prompt))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				select {
				case contentChan <- content:
				case <-ctx.Done():
					errorChan <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errorChan <- err
		}
	}()

	return contentChan, errorChan
}

func formatHistory(history []models.Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// EchoReplier 回显用户输入，按字符分片流式返回
type EchoReplier struct {
	chunkRunes int
}

func NewEchoReplier() *EchoReplier {
	return &EchoReplier{chunkRunes: 4}
}

func (e *EchoReplier) Reply(_ context.Context, _ []models.Message, prompt string) (string, error) {
	return "你说：" + prompt, nil
}

func (e *EchoReplier) ReplyStream(ctx context.Context, history []models.Message, prompt string) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		full, _ := e.Reply(ctx, history, prompt)
		runes := []rune(full)
		for i := 0; i < len(runes); i += e.chunkRunes {
			end := i + e.chunkRunes
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case contentChan <- string(runes[i:end]):
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errorChan
}
