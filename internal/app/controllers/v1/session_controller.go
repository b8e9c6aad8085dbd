package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"xiaole-web/internal/app/controllers"
	"xiaole-web/internal/app/models"
	"xiaole-web/internal/app/repositories"
	"xiaole-web/internal/pkg/code"
)

type SessionController struct {
	repo *repositories.ChatRepository
}

func NewSessionController(repo *repositories.ChatRepository) *SessionController {
	return &SessionController{repo: repo}
}

// ListSessions 会话列表
func (c *SessionController) ListSessions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &models.SessionList{Sessions: c.repo.List()})
}

// GetSession 会话详情
func (c *SessionController) GetSession(ctx *gin.Context) {
	limit := 0
	if s := ctx.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			controllers.Fail(ctx, code.ParamErr, code.MsgParamErr+": invalid limit")
			return
		}
		limit = n
	}

	detail, err := c.repo.Get(models.ID(ctx.Param("id")), limit)
	if errors.Is(err, repositories.ErrSessionNotFound) {
		controllers.Fail(ctx, code.NotFound, code.MsgNotFound)
		return
	}
	if err != nil {
		controllers.Fail(ctx, code.HTTPStatusErr, code.MsgInternal)
		return
	}
	ctx.JSON(http.StatusOK, detail)
}

// DeleteSession 删除会话
func (c *SessionController) DeleteSession(ctx *gin.Context) {
	if err := c.repo.Delete(models.ID(ctx.Param("id"))); err != nil {
		controllers.Fail(ctx, code.NotFound, code.MsgNotFound)
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, nil)
}
