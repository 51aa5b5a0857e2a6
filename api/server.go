// Package api HTTP 和 WebSocket 接口
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qianlnk/werewolf-channels/auth"
	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
)

// Deps 接口层依赖
type Deps struct {
	Entries  *services.EntryRegistry
	Games    *services.GameManager
	Hub      *services.Hub
	Channels *services.MemoryChannels
	History  services.HistoryStore
	Verifier *auth.Verifier
	Gatherer prometheus.Gatherer
	Debug    bool
	Logger   *slog.Logger
}

// Server 路由和处理函数
type Server struct {
	Deps
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer 创建接口服务
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求，由令牌校验身份
			},
		},
		logger: logger.With("component", "api"),
	}
}

// Router 注册全部路由
func (s *Server) Router() *gin.Engine {
	if !s.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	// 设置跨域中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.Debug {
		r.POST("/api/token", s.issueToken)
	}

	authed := s.Verifier.Middleware()
	r.GET("/ws", authed, s.serveWS)

	api := r.Group("/api", authed)
	{
		// 频道报名
		api.GET("/channels/:id/entry", s.getEntry)
		api.POST("/channels/:id/entry", s.register)
		api.DELETE("/channels/:id/entry", s.cancel)
		api.POST("/channels/:id/start", s.start)

		// 频道管理
		api.POST("/channels/:id/claim", s.claimChannel)
		api.POST("/channels/:id/blocks", s.blockUser)
		api.DELETE("/channels/:id/blocks/:uid", s.unblockUser)
		api.PATCH("/channels/:id/settings", s.updateSettings)

		// 游戏会话
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/actions", s.submitAction)
		api.GET("/sessions/:id/history", s.getHistory)
		api.GET("/sessions/:id/outcome", s.getOutcome)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrBlocked), errors.Is(err, services.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrCapacityExceeded),
		errors.Is(err, services.ErrInsufficientPlayers),
		errors.Is(err, services.ErrStalePhase):
		return http.StatusConflict
	case errors.Is(err, services.ErrIneligibleAction), errors.Is(err, services.ErrInvalidTarget):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) *models.ErrorBody {
	return &models.ErrorBody{Code: services.ErrorCode(err), Message: err.Error()}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": errorBody(err)})
}

func (s *Server) identity(c *gin.Context) models.Identity {
	identity, _ := auth.IdentityFrom(c)
	return identity
}
