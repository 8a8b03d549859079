package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"guardbot/internal/features"
	"guardbot/internal/pipeline"
	"guardbot/internal/repository"
)

// ModerationHandler exposes the scoring pipeline and the audit log to
// operators.
type ModerationHandler struct {
	processor *pipeline.Processor
	messages  repository.MessageLogRepository
	logger    *zap.Logger
}

func NewModerationHandler(processor *pipeline.Processor, messages repository.MessageLogRepository, logger *zap.Logger) *ModerationHandler {
	return &ModerationHandler{processor: processor, messages: messages, logger: logger}
}

type PredictRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	ChatID int64  `json:"chat_id" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

// Predict scores a message text for a known user and chat.
func (h *ModerationHandler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	probability, err := h.processor.PredictSpam(c.Request.Context(), features.Input{
		UserID: req.UserID,
		ChatID: req.ChatID,
		Text:   req.Text,
	})
	if err != nil {
		h.logger.Warn("Prediction unavailable", zap.Int64("user_id", req.UserID), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "cannot score message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"spam_probability": probability})
}

// ListMessages returns recent audit rows for a chat.
func (h *ModerationHandler) ListMessages(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	messages, err := h.messages.ListRecent(chatID, limit)
	if err != nil {
		h.logger.Error("Failed to list messages", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SimilarMessages returns known messages nearest to the given one in
// embedding space.
func (h *ModerationHandler) SimilarMessages(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := h.messages.Get(messageID, chatID)
	if err != nil {
		h.logger.Error("Failed to load message", zap.Int64("message_id", messageID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message"})
		return
	}
	if msg == nil || msg.Embedding == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message has no embedding"})
		return
	}

	similar, err := h.messages.SearchSimilar(*msg.Embedding, 0.5, 10)
	if err != nil {
		h.logger.Error("Failed to search similar messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "similarity search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"similar": similar})
}
