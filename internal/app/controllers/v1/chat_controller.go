package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/controllers"
	"xiaole-web/internal/app/models"
	"xiaole-web/internal/app/services"
	"xiaole-web/internal/pkg/code"
	"xiaole-web/pkg/util"
)

type chatQuery struct {
	Prompt        string `form:"prompt"`
	SessionID     string `form:"session_id"`
	UserID        string `form:"user_id"`
	ResponseStyle string `form:"response_style"`
}

type ChatController struct {
	service *services.ChatService
}

func NewChatController(service *services.ChatService) *ChatController {
	return &ChatController{service: service}
}

// bind 基本参数取查询串，图片路径取 JSON body
func bindChat(ctx *gin.Context) (models.ChatRequest, error) {
	var q chatQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		return models.ChatRequest{}, err
	}
	req := models.ChatRequest{
		Prompt:        q.Prompt,
		SessionID:     models.ID(q.SessionID),
		UserID:        q.UserID,
		ResponseStyle: q.ResponseStyle,
	}
	if ctx.Request.ContentLength > 0 {
		var body models.ChatBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			return models.ChatRequest{}, err
		}
		req.ImagePath = body.ImagePath
	}
	if req.Prompt == "" && req.ImagePath == "" {
		return models.ChatRequest{}, errors.New("prompt is required")
	}
	return req, nil
}

// Chat 非流式对话
func (c *ChatController) Chat(ctx *gin.Context) {
	req, err := bindChat(ctx)
	if err != nil {
		controllers.Fail(ctx, code.ParamErr, code.MsgParamErr+": "+err.Error())
		return
	}

	log.Debugf("chat request: %s", util.GetJson(req))
	result, err := c.service.Chat(ctx.Request.Context(), req)
	if err != nil {
		log.WithError(err).Error("chat failed")
		controllers.Fail(ctx, code.HTTPStatusErr, code.MsgInternal)
		return
	}

	ctx.JSON(http.StatusOK, &models.ChatResponse{
		Reply:              result.Reply,
		SessionID:          result.SessionID,
		AssistantMessageID: result.AssistantMessageID,
		UserMessageID:      result.UserMessageID,
	})
}

// Stream 流式对话：start -> delta... -> end
func (c *ChatController) Stream(ctx *gin.Context) {
	req, err := bindChat(ctx)
	if err != nil {
		controllers.Fail(ctx, code.ParamErr, code.MsgParamErr+": "+err.Error())
		return
	}

	util.SetSSEHeaders(ctx.Writer)
	ctx.Status(http.StatusOK)
	if err := util.WriteStart(ctx.Writer, nil); err != nil {
		return
	}

	result, err := c.service.Stream(ctx.Request.Context(), req, func(text string) error {
		return util.WriteDelta(ctx.Writer, text)
	})
	if err != nil {
		// 响应头已发出，只能中断流，由客户端按无 end 事件处理
		log.WithError(err).Error("chat stream failed")
		return
	}
	_ = controllers.SSEPush(ctx, models.EndEvent{Result: result})
}
