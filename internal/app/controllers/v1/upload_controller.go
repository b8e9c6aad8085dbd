package v1

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/controllers"
	"xiaole-web/internal/app/models"
	"xiaole-web/internal/pkg/code"
	"xiaole-web/pkg/util"
)

var allowedImageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

type UploadController struct {
	dir string
}

func NewUploadController(dir string) *UploadController {
	return &UploadController{dir: dir}
}

// Upload 保存上传的图片，文件名取内容 MD5，相同图片只存一份
func (c *UploadController) Upload(ctx *gin.Context) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		controllers.Fail(ctx, code.ParamErr, code.MsgParamErr+": file is required")
		return
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedImageExt[ext] {
		controllers.Fail(ctx, http.StatusBadRequest, "不支持的图片格式")
		return
	}

	f, err := fh.Open()
	if err != nil {
		controllers.Fail(ctx, code.HTTPStatusErr, code.MsgInternal)
		return
	}
	sum, err := util.CalculateMD5(f)
	_ = f.Close()
	if err != nil {
		controllers.Fail(ctx, code.HTTPStatusErr, code.MsgInternal)
		return
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		log.WithError(err).Error("create upload dir failed")
		controllers.Fail(ctx, code.HTTPStatusErr, code.MsgInternal)
		return
	}
	name := sum + ext
	if err := ctx.SaveUploadedFile(fh, filepath.Join(c.dir, name)); err != nil {
		log.WithError(err).Error("save upload failed")
		controllers.Fail(ctx, code.HTTPStatusErr, code.MsgInternal)
		return
	}

	ctx.JSON(http.StatusOK, &models.UploadResponse{FilePath: path.Join(filepath.ToSlash(c.dir), name)})
}
