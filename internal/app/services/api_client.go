package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
	"xiaole-web/pkg/config"
)

// TokenProvider 提供每次请求注入的 Bearer 凭证，空字符串表示未登录
type TokenProvider interface {
	Token() string
}

// StaticToken 固定凭证
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// APIClient 后端 HTTP 接口封装：自动注入凭证，对网络错误和 5xx 线性退避重试
type APIClient struct {
	client       *req.Client
	chatClient   *req.Client // 对话轮次：超时更长且不重试
	streamClient *req.Client // 流式：不设整体超时，由 ctx 控制
	tokens       TokenProvider
	logger       *log.Entry

	// OnUnauthorized 收到 401 时回调（原先的行为是登出）
	OnUnauthorized func()
}

func NewAPIClient(conf config.Api, tokens TokenProvider) *APIClient {
	if tokens == nil {
		tokens = StaticToken(conf.Token)
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 30 * time.Second
	}
	if conf.ChatTimeout <= 0 {
		conf.ChatTimeout = 120 * time.Second
	}
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = time.Second
	}

	c := &APIClient{
		tokens: tokens,
		logger: log.WithField("component", "api"),
	}

	retryDelay := conf.RetryDelay
	c.client = req.C().
		SetBaseURL(strings.TrimRight(conf.BaseURL, "/")).
		SetTimeout(conf.Timeout).
		SetCommonRetryCount(conf.MaxRetries).
		SetCommonRetryInterval(func(_ *req.Response, attempt int) time.Duration {
			return time.Duration(attempt) * retryDelay
		}).
		SetCommonRetryCondition(shouldRetry).
		AddCommonRetryHook(func(resp *req.Response, err error) {
			c.logger.WithFields(log.Fields{
				"status": statusOf(resp),
				"error":  err,
			}).Warn("request failed, retrying")
		}).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			if token := c.tokens.Token(); token != "" {
				r.SetBearerAuthToken(token)
			}
			return nil
		}).
		OnAfterResponse(func(_ *req.Client, resp *req.Response) error {
			if resp.Response != nil && resp.StatusCode == http.StatusUnauthorized && c.OnUnauthorized != nil {
				c.OnUnauthorized()
			}
			return nil
		})

	c.chatClient = c.client.Clone().
		SetTimeout(conf.ChatTimeout).
		SetCommonRetryCount(0)
	c.streamClient = c.client.Clone().
		SetTimeout(0).
		SetCommonRetryCount(0)
	return c
}

// shouldRetry 只对没有响应（网络错误）或 5xx 重试，4xx 直接返回
func shouldRetry(resp *req.Response, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if err != nil || resp == nil || resp.Response == nil {
		return true
	}
	return resp.StatusCode >= 500 && resp.StatusCode < 600
}

func statusOf(resp *req.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// toAPIError 统一转换为 *models.APIError
func toAPIError(resp *req.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &models.APIError{StatusCode: statusOf(resp), Err: err}
	}
	if resp.IsErrorState() {
		return models.NewAPIError(resp.StatusCode, resp.String())
	}
	return nil
}

func cacheBuster() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// ChatBuffered 非流式对话。部分执行的 AI 轮次不能被静默重放，所以不参与通用重试
func (c *APIClient) ChatBuffered(ctx context.Context, chat models.ChatRequest) (*models.ChatResponse, error) {
	var out models.ChatResponse
	r := c.chatClient.R().
		SetContext(ctx).
		SetQueryParams(chat.QueryParams()).
		SetSuccessResult(&out)
	if chat.ImagePath != "" {
		r.SetBody(&models.ChatBody{ImagePath: chat.ImagePath})
	}

	resp, err := r.Post("/api/chat")
	if err := toAPIError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenStream 打开流式对话请求，调用方负责关闭 Body
func (c *APIClient) OpenStream(ctx context.Context, chat models.ChatRequest) (io.ReadCloser, error) {
	r := c.streamClient.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetQueryParams(chat.QueryParams()).
		DisableAutoReadResponse()
	if chat.ImagePath != "" {
		r.SetBody(&models.ChatBody{ImagePath: chat.ImagePath})
	}

	resp, err := r.Post("/chat/stream")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &models.APIError{StatusCode: statusOf(resp), Err: err}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &models.StreamTransportError{StatusCode: resp.StatusCode}
	}
	if !resp.IsSuccessState() {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &models.StreamTransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// UploadImage 上传图片，返回服务端存储路径
func (c *APIClient) UploadImage(ctx context.Context, fileName string, content io.Reader) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", fileName, content).
		SetRetryCount(0).
		Post("/vision/upload")
	if err := toAPIError(resp, err); err != nil {
		return "", err
	}

	body := resp.Bytes()
	var out models.UploadResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Resolved() != "" {
		return out.Resolved(), nil
	}
	var path string
	if err := json.Unmarshal(body, &path); err == nil && path != "" {
		return path, nil
	}
	return "", fmt.Errorf("unknown upload response: %s", resp.String())
}

// GetSession 加载会话历史
func (c *APIClient) GetSession(ctx context.Context, sessionID models.ID, limit int) (*models.SessionDetail, error) {
	var out models.SessionDetail
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", sessionID.String()).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("_t", cacheBuster()).
		SetSuccessResult(&out).
		Get("/session/{id}")
	if err := toAPIError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions 会话列表
func (c *APIClient) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	var out models.SessionList
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("all_sessions", "true").
		SetQueryParam("_t", cacheBuster()).
		SetSuccessResult(&out).
		Get("/sessions")
	if err := toAPIError(resp, err); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Ping 健康检查探针，不重试
func (c *APIClient) Ping(ctx context.Context) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetRetryCount(0).
		Get("/sessions")
	return toAPIError(resp, err)
}
