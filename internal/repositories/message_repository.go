package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines the message log and its status transitions.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	MarkDelivered(ctx context.Context, messageID string, at time.Time) (models.Message, bool, error)
	MarkRead(ctx context.Context, conversationID string, readerID string, messageIDs []string, at time.Time) ([]string, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageSelect = `SELECT m.id, m.conversation_id, m.sender_id, COALESCE(u.username, '') AS sender_username,
        m.client_message_id, m.text, m.message_type, m.file_url, m.file_name, m.file_size, m.mime_type,
        m.thumbnail_url, m.created_at, m.delivered_at, m.read_at
        FROM messages m LEFT JOIN users u ON u.id = m.sender_id`

// CreateMessage appends a message, points the conversation's last message at
// it and increments the unread counter of every participant except the
// sender, all in one transaction.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO messages (id, conversation_id, sender_id, client_message_id, text, message_type,
            file_url, file_name, file_size, mime_type, thumbnail_url, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			msg.ID, msg.ConversationID, msg.SenderID, msg.ClientMessageID, msg.Text, string(msg.MessageType),
			msg.FileURL, msg.FileName, msg.FileSize, msg.MimeType, msg.ThumbnailURL, msg.CreatedAt)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE conversations SET last_message_id=?, last_message_at=? WHERE id=?`),
			msg.ID, msg.CreatedAt, msg.ConversationID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrConversationNotFound
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE conversation_unread SET unread_count = unread_count + 1
            WHERE conversation_id=? AND user_id<>?`), msg.ConversationID, msg.SenderID); err != nil {
			return err
		}

		stored, err = getMessage(ctx, tx, msg.ID)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return stored, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	return getMessage(ctx, r.db, messageID)
}

// ListConversationMessages returns messages ordered by creation time, ties
// broken by id.
func (r *MessageRepo) ListConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(messageSelect+` WHERE m.conversation_id=? ORDER BY m.created_at ASC, m.id ASC`), conversationID)
	return msgs, err
}

// MarkDelivered sets delivered_at when it is still empty. The returned bool
// reports whether this call performed the transition.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID string, at time.Time) (models.Message, bool, error) {
	var (
		msg     models.Message
		changed bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE messages SET delivered_at=? WHERE id=? AND delivered_at IS NULL`), at, messageID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0
		msg, err = getMessage(ctx, tx, messageID)
		return err
	})
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, changed, nil
}

// MarkRead marks the listed messages of the conversation as read when they
// were sent by someone other than readerID and are still unread. A message
// that was never acknowledged as delivered gets delivered_at as well. When at
// least one message changed, the reader's unread counter is reset to zero.
// The ids that changed are returned.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID string, readerID string, messageIDs []string, at time.Time) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var changed []string
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`UPDATE messages SET read_at=?, delivered_at=COALESCE(delivered_at, ?)
            WHERE conversation_id=? AND sender_id<>? AND read_at IS NULL AND id IN (?)
            RETURNING id`, at, at, conversationID, readerID, messageIDs)
		if err != nil {
			return err
		}
		if err := tx.SelectContext(ctx, &changed, tx.Rebind(query), args...); err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE conversation_unread SET unread_count=0 WHERE conversation_id=? AND user_id=?`),
			conversationID, readerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func getMessage(ctx context.Context, q sqlx.ExtContext, messageID string) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q, &msg, q.Rebind(messageSelect+` WHERE m.id=?`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
