package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messenger/internal/middleware"
	"messenger/internal/models"
	"messenger/internal/presence"
	"messenger/internal/repositories"
)

// PresenceReader exposes live presence.
type PresenceReader interface {
	Get(userID string) presence.Presence
}

// UserHandler serves the contact list.
type UserHandler struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	presence      PresenceReader
	logger        *zap.Logger
}

func NewUserHandler(users repositories.UserRepository, conversations repositories.ConversationRepository, presence PresenceReader, logger *zap.Logger) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{users: users, conversations: conversations, presence: presence, logger: logger}
}

type lastMessageResponse struct {
	Text        string             `json:"text"`
	CreatedAt   time.Time          `json:"createdAt"`
	SenderID    string             `json:"senderId"`
	Read        bool               `json:"read"`
	MessageType models.MessageType `json:"messageType"`
}

type userResponse struct {
	ID          string               `json:"id"`
	Username    string               `json:"username"`
	Email       string               `json:"email"`
	IsOnline    bool                 `json:"isOnline"`
	LastSeen    time.Time            `json:"lastSeen"`
	LastMessage *lastMessageResponse `json:"lastMessage"`
	UnreadCount int                  `json:"unreadCount"`
}

// ListUsers returns every other user with presence, the last message of the
// shared conversation and the caller's unread count in it.
func (h *UserHandler) ListUsers(c *gin.Context) {
	userID := middleware.UserID(c)

	users, err := h.users.ListUsersExcept(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	summaries, err := h.conversations.ListSummaries(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	byPartner := make(map[string]models.ConversationSummary, len(summaries))
	for _, s := range summaries {
		byPartner[s.PartnerID] = s
	}

	responses := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp := userResponse{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			LastSeen: u.LastSeen,
		}
		live := h.presence.Get(u.ID)
		resp.IsOnline = live.IsOnline
		if live.LastSeen.After(resp.LastSeen) {
			resp.LastSeen = live.LastSeen
		}

		if s, ok := byPartner[u.ID]; ok {
			resp.UnreadCount = s.UnreadCount
			if s.LastMessage != nil {
				resp.LastMessage = &lastMessageResponse{
					Text:        models.PreviewText(*s.LastMessage),
					CreatedAt:   s.LastMessage.CreatedAt,
					SenderID:    s.LastMessage.SenderID,
					Read:        s.LastMessage.Read(),
					MessageType: s.LastMessage.MessageType,
				}
			}
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, responses)
}
