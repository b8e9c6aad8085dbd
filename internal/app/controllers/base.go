package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"xiaole-web/internal/app/models"
	"xiaole-web/internal/app/services"
	"xiaole-web/pkg/util"
)

func Response(c *gin.Context, code int, message string, data interface{}) {
	if nil == data {
		data = struct {
		}{}
	}
	resp := &models.RespValue{
		Code: code,
		Msg:  message,
		Data: data,
	}
	c.JSON(http.StatusOK, resp)
}

// SSEPush 写出一帧流式事件
func SSEPush(c *gin.Context, ev models.StreamEvent) error {
	return util.WriteSSE(c.Writer, ev)
}

// Fail 以 HTTP 状态码返回 {"detail": ...}，客户端据此渲染错误
func Fail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, &models.ErrorBody{Detail: detail})
}

// Health 探活，客户端只看状态码
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, services.SuccessInfo())
}
