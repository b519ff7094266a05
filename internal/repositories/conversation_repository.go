package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messenger/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

// ConversationRepository abstracts conversation persistence and the per
// participant unread ledger.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userID string, otherUserID string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	ListPartnerIDs(ctx context.Context, userID string) ([]string, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, user1_id, user2_id, last_message_id, last_message_at, created_at`

// FindOrCreate returns the conversation for the unordered pair, creating it
// together with both unread rows when it does not exist yet.
func (r *ConversationRepo) FindOrCreate(ctx context.Context, userID string, otherUserID string) (models.Conversation, error) {
	if userID == otherUserID {
		return models.Conversation{}, ErrSelfConversation
	}
	user1, user2 := models.SortedPair(userID, otherUserID)

	var conv models.Conversation
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		// ON CONFLICT keeps concurrent creators from duplicating the pair.
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO conversations (id, user1_id, user2_id, created_at) VALUES (?, ?, ?, ?)
            ON CONFLICT (user1_id, user2_id) DO NOTHING`), uuid.NewString(), user1, user2, now())
		if err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &conv, tx.Rebind(`SELECT `+conversationColumns+` FROM conversations WHERE user1_id=? AND user2_id=?`), user1, user2); err != nil {
			return err
		}
		for _, participant := range conv.Participants() {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO conversation_unread (conversation_id, user_id, unread_count) VALUES (?, ?, 0)
                ON CONFLICT (conversation_id, user_id) DO NOTHING`), conv.ID, participant); err != nil {
				return err
			}
		}
		conv.UnreadCount, err = loadUnread(ctx, tx, conv.ID)
		return err
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation with its unread counters.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, r.db.Rebind(`SELECT `+conversationColumns+` FROM conversations WHERE id=?`), conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	conv.UnreadCount, err = loadUnread(ctx, r.db, conv.ID)
	return conv, err
}

// ListSummaries returns every conversation of the user with the partner id,
// the last message and the user's unread count.
func (r *ConversationRepo) ListSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var convs []models.Conversation
	query := `SELECT c.id, c.user1_id, c.user2_id, c.last_message_id, c.last_message_at, c.created_at FROM conversations c
        WHERE c.user1_id=? OR c.user2_id=?
        ORDER BY c.created_at ASC`
	if err := r.db.SelectContext(ctx, &convs, r.db.Rebind(query), userID, userID); err != nil {
		return nil, err
	}

	result := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := models.ConversationSummary{
			ConversationID: conv.ID,
			PartnerID:      conv.OtherParticipant(userID),
		}
		if err := r.db.GetContext(ctx, &summary.UnreadCount, r.db.Rebind(`SELECT unread_count FROM conversation_unread WHERE conversation_id=? AND user_id=?`), conv.ID, userID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if conv.LastMessageID != nil {
			msg, err := getMessage(ctx, r.db, *conv.LastMessageID)
			if err != nil && !errors.Is(err, ErrMessageNotFound) {
				return nil, err
			}
			if err == nil {
				summary.LastMessage = &msg
			}
		}
		result = append(result, summary)
	}
	return result, nil
}

// ListPartnerIDs returns the users sharing a conversation with userID.
func (r *ConversationRepo) ListPartnerIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT CASE WHEN user1_id=? THEN user2_id ELSE user1_id END FROM conversations
        WHERE user1_id=? OR user2_id=?`
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(query), userID, userID, userID)
	return ids, err
}

func loadUnread(ctx context.Context, q sqlx.ExtContext, conversationID string) (map[string]int, error) {
	rows, err := q.QueryxContext(ctx, q.Rebind(`SELECT user_id, unread_count FROM conversation_unread WHERE conversation_id=?`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			userID string
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

// now returns the current time in the precision every supported driver keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
