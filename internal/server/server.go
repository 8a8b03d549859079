package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"guardbot/internal/config"
	"guardbot/internal/handler"
	"guardbot/internal/middleware"
	"guardbot/internal/pipeline"
	"guardbot/internal/repository"
)

type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

func NewServer(cfg *config.Config, processor *pipeline.Processor, messages repository.MessageLogRepository, logger *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		logger: logger,
	}
	s.setupRoutes(cfg, processor, messages)
	return s
}

func (s *Server) setupRoutes(cfg *config.Config, processor *pipeline.Processor, messages repository.MessageLogRepository) {
	jwtSecret := []byte(cfg.Server.JWTSecret)
	authHandler := handler.NewAuthHandler(cfg.Server.AdminUsername, cfg.Server.AdminPasswordHash, jwtSecret, s.logger)
	moderationHandler := handler.NewModerationHandler(processor, messages, s.logger)

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.POST("/api/v1/login", authHandler.Login)

	authRequired := s.router.Group("/api/v1")
	authRequired.Use(middleware.AuthMiddleware(jwtSecret, s.logger))
	{
		authRequired.POST("/predict", moderationHandler.Predict)
		authRequired.GET("/chats/:chat_id/messages", moderationHandler.ListMessages)
		authRequired.GET("/chats/:chat_id/messages/:message_id/similar", moderationHandler.SimilarMessages)
	}
}

func (s *Server) Run(addr string) {
	s.logger.Info("Server starting", zap.String("addr", addr))
	if err := s.router.Run(addr); err != nil {
		s.logger.Fatal("Server failed to start", zap.Error(err))
	}
}
