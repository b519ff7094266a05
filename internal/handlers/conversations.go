package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messenger/internal/middleware"
	"messenger/internal/models"
	"messenger/internal/repositories"
)

// ConversationHandler serves conversation lookup and history.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         repositories.UserRepository
	logger        *zap.Logger
}

func NewConversationHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository, users repositories.UserRepository, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{conversations: conversations, messages: messages, users: users, logger: logger}
}

// FindOrCreate returns the conversation with otherUserId, creating it on
// first contact.
func (h *ConversationHandler) FindOrCreate(c *gin.Context) {
	var req struct {
		OtherUserID string `json:"otherUserId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otherUserId is required"})
		return
	}

	userID := middleware.UserID(c)
	if req.OtherUserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot create conversation with yourself"})
		return
	}
	if _, err := h.users.GetUser(c.Request.Context(), req.OtherUserID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("lookup user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	conv, err := h.conversations.FindOrCreate(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot create conversation with yourself"})
			return
		}
		h.logger.Error("find or create conversation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": conv.ID, "participants": conv.Participants()})
}

// GetMessages returns the conversation history ordered by creation time.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("id")
	userID := middleware.UserID(c)

	conv, err := h.conversations.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("load conversation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	msgs, err := h.messages.ListConversationMessages(c.Request.Context(), conv.ID)
	if err != nil {
		h.logger.Error("load messages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	payloads := make([]models.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, m.Payload())
	}
	c.JSON(http.StatusOK, payloads)
}
