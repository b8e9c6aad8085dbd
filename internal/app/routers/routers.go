package routers

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/controllers"
	v1 "xiaole-web/internal/app/controllers/v1"
	"xiaole-web/internal/app/services"
	"xiaole-web/pkg/config"
)

var apiOnce sync.Once
var g *gin.Engine

// SetUp 使用 services.Init 初始化的全局服务构建路由
func SetUp() *gin.Engine {
	apiOnce.Do(func() {
		services.Init()
		g = NewEngine(services.Chat, services.Push, config.GetServerConf().UploadDir)
	})

	return g
}

// NewEngine 本地开发后端的全部路由
func NewEngine(chat *services.ChatService, push *services.PushHub, uploadDir string) *gin.Engine {
	if config.GetRunMode() == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	e := gin.New()
	e.Use(gin.Recovery(), logMiddleware(), corsMiddleware())

	e.GET("/health", controllers.Health)

	chatController := v1.NewChatController(chat)
	e.POST("/api/chat", chatController.Chat)
	e.POST("/chat/stream", chatController.Stream)

	uploadController := v1.NewUploadController(uploadDir)
	e.POST("/vision/upload", uploadController.Upload)
	e.Static("/uploads", uploadDir)

	sessionController := v1.NewSessionController(chat.Repo())
	e.GET("/sessions", sessionController.ListSessions)
	e.GET("/session/:id", sessionController.GetSession)
	e.DELETE("/session/:id", sessionController.DeleteSession)

	pushController := v1.NewPushController(push)
	e.GET("/ws", pushController.Connect)
	e.POST("/debug/push", pushController.Broadcast)

	return e
}

func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Info("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	}
}
