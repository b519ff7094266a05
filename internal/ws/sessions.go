package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"messenger/internal/keylock"
	"messenger/internal/models"
	"messenger/internal/observability"
	"messenger/internal/presence"
	"messenger/internal/repositories"
)

// TypingPurger drops a user's typing indicators and notifies their peers.
type TypingPurger interface {
	PurgeTyping(ctx context.Context, userID string)
}

// SessionManager ties connections to rooms and presence.
type SessionManager struct {
	hub           *Hub
	presence      *presence.Store
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	typing        TypingPurger
	transitions   *keylock.Map // presence transitions per user
	logger        *zap.Logger
	now           func() time.Time
}

func NewSessionManager(
	hub *Hub,
	store *presence.Store,
	users repositories.UserRepository,
	conversations repositories.ConversationRepository,
	typing TypingPurger,
	logger *zap.Logger,
) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		hub:           hub,
		presence:      store,
		users:         users,
		conversations: conversations,
		typing:        typing,
		transitions:   keylock.New(),
		logger:        logger.Named("sessions"),
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Attach joins the client to its user's room. When this is the user's first
// connection the user goes online and co-conversants are told.
func (m *SessionManager) Attach(ctx context.Context, c *Client) {
	unlock := m.transitions.Lock(c.UserID)
	defer unlock()

	m.hub.Join(c)
	if !m.presence.SetOnline(c.UserID) {
		return
	}
	observability.SetOnlineUsers(m.presence.OnlineCount())

	if err := m.users.MarkOnline(ctx, c.UserID); err != nil {
		m.logger.Warn("persist online failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	m.broadcastStatus(ctx, c.UserID, models.UserStatusEvent{
		UserID:   c.UserID,
		IsOnline: true,
		LastSeen: m.now(),
	})
}

// Detach removes the client, clears its typing indicators and, when it was
// the user's last connection, marks the user offline.
func (m *SessionManager) Detach(ctx context.Context, c *Client) {
	unlock := m.transitions.Lock(c.UserID)
	defer unlock()

	if _, ok := m.hub.Leave(c); !ok {
		return
	}
	m.typing.PurgeTyping(ctx, c.UserID)

	lastSeen := m.now()
	if !m.presence.SetOffline(c.UserID, lastSeen) {
		return
	}
	observability.SetOnlineUsers(m.presence.OnlineCount())

	if err := m.users.MarkOffline(ctx, c.UserID, lastSeen); err != nil {
		m.logger.Warn("persist offline failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	m.broadcastStatus(ctx, c.UserID, models.UserStatusEvent{
		UserID:   c.UserID,
		IsOnline: false,
		LastSeen: lastSeen,
	})
}

func (m *SessionManager) broadcastStatus(ctx context.Context, userID string, status models.UserStatusEvent) {
	partners, err := m.conversations.ListPartnerIDs(ctx, userID)
	if err != nil {
		m.logger.Warn("list partners failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, partner := range partners {
		m.hub.Emit(partner, models.EventUserStatus, status)
	}
}
