package v1

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/controllers"
	"xiaole-web/internal/app/services"
	"xiaole-web/internal/pkg/code"
)

type PushController struct {
	hub *services.PushHub
}

func NewPushController(hub *services.PushHub) *PushController {
	return &PushController{hub: hub}
}

// Connect 升级为 WebSocket 推送连接
func (c *PushController) Connect(ctx *gin.Context) {
	if err := c.hub.Serve(ctx.Writer, ctx.Request); err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
	}
}

// Broadcast 把请求体原样推送给所有连接，用于调试提醒等推送
func (c *PushController) Broadcast(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		controllers.Fail(ctx, code.ParamErr, code.MsgParamErr+": body must be JSON")
		return
	}
	sent := c.hub.Broadcast(body)
	controllers.Response(ctx, code.Success, code.MsgSuccess, gin.H{"delivered": sent})
}
