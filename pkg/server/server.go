// Package server 基于 gin 暴露会话的 HTTP 接口：SSE 流式回复、WebSocket 双向会话，
// 以及可选挂载的企业微信回调。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/command"
)

// ChatService 定义 HTTP 层依赖的会话能力，由 *chat.Service 实现。
type ChatService interface {
	Send(ctx context.Context, conversationID, prompt string, sink chat.Sink, opts ...chat.TurnOption) (chat.TurnResult, error)
	History(ctx context.Context, conversationID string) (*chat.History, error)
	Reset(ctx context.Context, conversationID string) error
	Busy(conversationID string) bool
}

// Server 持有路由与底层 http.Server。
type Server struct {
	engine *gin.Engine
	chat   ChatService
	models command.ModelCatalog
	logger *zap.Logger

	wecomPath    string
	wecomHandler http.Handler

	allowedOrigins []string
	upgrader       *websocket.Upgrader

	shutdownTimeout time.Duration
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithLogger 设置日志记录器。
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithModels 启用 GET /api/models。
func WithModels(models command.ModelCatalog) Option {
	return func(s *Server) { s.models = models }
}

// WithWeCom 在 path 上挂载企业微信回调（GET 校验 + POST 消息）。
func WithWeCom(path string, handler http.Handler) Option {
	return func(s *Server) {
		s.wecomPath = path
		s.wecomHandler = handler
	}
}

// WithAllowedOrigins 设置允许建立 WebSocket 的跨域来源，"*" 表示不限制。
// 未设置时只接受同源请求。
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = append(s.allowedOrigins, origins...) }
}

// New 创建 Server 并注册全部路由。
func New(svc ChatService, opts ...Option) *Server {
	s := &Server{
		chat:            svc,
		logger:          zap.NewNop(),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.upgrader = s.newUpgrader()

	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog())
	s.engine = engine
	s.RegisterRoutes(engine)
	return s
}

// Handler 返回可直接交给 http.Server 或 httptest 的处理器。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// RegisterRoutes 将全部路由挂到 router 上。
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if s.models != nil {
		api.GET("/models", s.listModels)
	}
	api.POST("/conversations", s.createConversation)
	conv := api.Group("/conversations/:id")
	conv.GET("/messages", s.getMessages)
	conv.POST("/messages", s.postMessage)
	conv.DELETE("", s.deleteConversation)
	conv.GET("/ws", s.serveWS)

	if s.wecomHandler != nil && s.wecomPath != "" {
		router.Any(s.wecomPath, gin.WrapH(s.wecomHandler))
	}
}

// Run 监听 addr 直到 ctx 结束，然后优雅关闭。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

type modelView struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	Default   bool   `json:"default"`
}

func (s *Server) listModels(c *gin.Context) {
	def := s.models.DefaultModel()
	list := s.models.Models()
	out := make([]modelView, 0, len(list))
	for _, m := range list {
		out = append(out, modelView{
			Name:      m.Name,
			Provider:  m.Provider,
			ModelName: m.ModelName,
			Default:   m.Name == def,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (s *Server) createConversation(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"id": uuid.NewString()})
}

type messageView struct {
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) getMessages(c *gin.Context) {
	id := c.Param("id")
	history, err := s.chat.History(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load history failed", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	msgs := history.Visible()
	if c.Query("all") == "1" {
		msgs = history.Messages()
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "messages": out})
}

func (s *Server) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := s.chat.Reset(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// statusFor 将会话层错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
