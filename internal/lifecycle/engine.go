package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"messenger/internal/keylock"
	"messenger/internal/models"
	"messenger/internal/observability"
	"messenger/internal/repositories"
	"messenger/internal/typing"
)

// Notifier delivers an event to every connection of a user. Delivery is
// fire-and-forget.
type Notifier interface {
	Emit(userID, event string, payload any)
}

// ReadResult reports which messages a read request transitioned.
type ReadResult struct {
	ConversationID string
	Changed        []string
}

// Engine applies send, deliver and read transitions and fans out the
// resulting events. Mutations of one conversation are serialized.
type Engine struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         repositories.UserRepository
	typing        *typing.Tracker
	notifier      Notifier
	logger        *zap.Logger
	tracer        trace.Tracer
	locks         *keylock.Map
	now           func() time.Time
}

func NewEngine(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	users repositories.UserRepository,
	tracker *typing.Tracker,
	notifier Notifier,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conversations: conversations,
		messages:      messages,
		users:         users,
		typing:        tracker,
		notifier:      notifier,
		logger:        logger.Named("lifecycle"),
		tracer:        otel.Tracer("messenger/lifecycle"),
		locks:         keylock.New(),
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Send validates and stores a message, then broadcasts message:new to both
// participants.
func (e *Engine) Send(ctx context.Context, senderID string, req models.SendRequest) (msg models.Message, err error) {
	ctx, finish := e.start(ctx, "send", attribute.String("conversation.id", req.ConversationID))
	defer func() { finish(err) }()

	msgType, err := validateSend(&req)
	if err != nil {
		return models.Message{}, err
	}

	conv, err := e.participantConversation(ctx, req.ConversationID, senderID)
	if err != nil {
		return models.Message{}, err
	}

	unlock := e.locks.Lock(conv.ID)
	defer unlock()

	msg, err = e.messages.CreateMessage(ctx, models.Message{
		ID:              uuid.NewString(),
		ConversationID:  conv.ID,
		SenderID:        senderID,
		ClientMessageID: req.ClientMessageID,
		Text:            req.Text,
		MessageType:     msgType,
		FileURL:         req.FileURL,
		FileName:        req.FileName,
		FileSize:        req.FileSize,
		MimeType:        req.MimeType,
		ThumbnailURL:    req.ThumbnailURL,
		CreatedAt:       e.now(),
	})
	if err != nil {
		return models.Message{}, mapStoreError(err)
	}

	payload := msg.Payload()
	for _, participant := range conv.Participants() {
		e.notifier.Emit(participant, models.EventMessageNew, payload)
	}
	e.logger.Debug("message sent",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", conv.ID),
		zap.String("sender_id", senderID),
	)
	return msg, nil
}

// Deliver records the first delivery acknowledgement of a message by its
// recipient. Only that first transition notifies the sender.
func (e *Engine) Deliver(ctx context.Context, callerID string, messageID string) (err error) {
	ctx, finish := e.start(ctx, "deliver", attribute.String("message.id", messageID))
	defer func() { finish(err) }()

	if strings.TrimSpace(messageID) == "" {
		return validationError("messageId is required")
	}

	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return mapStoreError(err)
	}
	conv, err := e.participantConversation(ctx, msg.ConversationID, callerID)
	if err != nil {
		return err
	}
	if msg.SenderID == callerID {
		return fmt.Errorf("%w: sender cannot acknowledge own message", ErrForbidden)
	}

	unlock := e.locks.Lock(conv.ID)
	defer unlock()

	msg, changed, err := e.messages.MarkDelivered(ctx, messageID, e.now())
	if err != nil {
		return mapStoreError(err)
	}
	if !changed {
		return nil
	}
	e.notifier.Emit(msg.SenderID, models.EventMessageDelivered, models.DeliveredEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	return nil
}

// Read marks a batch of messages from the other participant as read. The
// other participant always receives the full id list; the caller's unread
// counter is reset only when at least one message transitioned.
func (e *Engine) Read(ctx context.Context, callerID string, req models.ReadRequest) (result ReadResult, err error) {
	ctx, finish := e.start(ctx, "read", attribute.String("conversation.id", req.ConversationID))
	defer func() { finish(err) }()

	if strings.TrimSpace(req.ConversationID) == "" {
		return ReadResult{}, validationError("conversationId is required")
	}
	if len(req.MessageIDs) == 0 {
		return ReadResult{}, validationError("messageIds must not be empty")
	}
	for _, id := range req.MessageIDs {
		if strings.TrimSpace(id) == "" {
			return ReadResult{}, validationError("messageIds must not contain empty ids")
		}
	}

	conv, err := e.participantConversation(ctx, req.ConversationID, callerID)
	if err != nil {
		return ReadResult{}, err
	}

	unlock := e.locks.Lock(conv.ID)
	defer unlock()

	changed, err := e.messages.MarkRead(ctx, conv.ID, callerID, req.MessageIDs, e.now())
	if err != nil {
		return ReadResult{}, mapStoreError(err)
	}

	e.notifier.Emit(conv.OtherParticipant(callerID), models.EventMessageRead, models.ReadEvent{
		ConversationID: conv.ID,
		MessageIDs:     req.MessageIDs,
	})
	if len(changed) > 0 {
		e.notifier.Emit(callerID, models.EventUnreadUpdated, models.UnreadUpdatedEvent{
			ConversationID: conv.ID,
			UnreadCount:    0,
		})
	}
	return ReadResult{ConversationID: conv.ID, Changed: changed}, nil
}

// StartTyping records a typing indicator and notifies the other participant
// when the indicator was not already active.
func (e *Engine) StartTyping(ctx context.Context, callerID string, req models.TypingRequest) error {
	conv, err := e.typingConversation(ctx, callerID, req)
	if err != nil {
		observability.IncLifecycleOp("typing_start", observability.ResultForError(err))
		return err
	}
	user, err := e.users.GetUser(ctx, callerID)
	if err != nil {
		observability.IncLifecycleOp("typing_start", observability.ResultForError(err))
		return mapStoreError(err)
	}
	if e.typing.Start(conv.ID, callerID, user.Username) {
		e.notifier.Emit(conv.OtherParticipant(callerID), models.EventTypingStart, models.TypingStartEvent{
			ConversationID: conv.ID,
			UserID:         callerID,
			Username:       user.Username,
		})
	}
	observability.IncLifecycleOp("typing_start", observability.ResultOK)
	return nil
}

// StopTyping clears a typing indicator. The stop event is always emitted.
func (e *Engine) StopTyping(ctx context.Context, callerID string, req models.TypingRequest) error {
	conv, err := e.typingConversation(ctx, callerID, req)
	if err != nil {
		observability.IncLifecycleOp("typing_stop", observability.ResultForError(err))
		return err
	}
	e.typing.Stop(conv.ID, callerID)
	e.notifier.Emit(conv.OtherParticipant(callerID), models.EventTypingStop, models.TypingStopEvent{
		ConversationID: conv.ID,
		UserID:         callerID,
	})
	observability.IncLifecycleOp("typing_stop", observability.ResultOK)
	return nil
}

// PurgeTyping drops every indicator of a user, emitting typing:stop for each.
func (e *Engine) PurgeTyping(ctx context.Context, userID string) {
	for _, convID := range e.typing.PurgeUser(userID) {
		e.emitTypingStop(ctx, convID, userID)
	}
}

// SweepTyping expires indicators older than ttl and returns how many were
// removed.
func (e *Engine) SweepTyping(ctx context.Context, ttl time.Duration) int {
	expired := e.typing.Expire(ttl)
	for _, entry := range expired {
		e.emitTypingStop(ctx, entry.ConversationID, entry.UserID)
	}
	return len(expired)
}

// RunTypingSweeper calls SweepTyping every interval until ctx is done. It
// returns immediately when ttl is not positive.
func (e *Engine) RunTypingSweeper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.SweepTyping(ctx, ttl); n > 0 {
				e.logger.Debug("typing indicators expired", zap.Int("count", n))
			}
		}
	}
}

func (e *Engine) emitTypingStop(ctx context.Context, convID, userID string) {
	conv, err := e.conversations.GetConversation(ctx, convID)
	if err != nil {
		e.logger.Warn("typing stop lookup failed", zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	e.notifier.Emit(conv.OtherParticipant(userID), models.EventTypingStop, models.TypingStopEvent{
		ConversationID: convID,
		UserID:         userID,
	})
}

func (e *Engine) typingConversation(ctx context.Context, callerID string, req models.TypingRequest) (models.Conversation, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return models.Conversation{}, validationError("conversationId is required")
	}
	return e.participantConversation(ctx, req.ConversationID, callerID)
}

func (e *Engine) participantConversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, mapStoreError(err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
	}
	return conv, nil
}

// start opens a span for op and returns a func that records the outcome.
func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		observability.IncLifecycleOp(op, observability.ResultForError(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrForbidden) && !errors.Is(err, ErrNotFound) {
				e.logger.Error("lifecycle operation failed", zap.String("op", op), zap.Error(err))
			}
		}
		span.End()
	}
}

// validateSend checks the payload and resolves the message type. A media
// message without an explicit type is classified by its MIME type.
func validateSend(req *models.SendRequest) (models.MessageType, error) {
	req.Text = strings.TrimSpace(req.Text)
	if strings.TrimSpace(req.ConversationID) == "" {
		return "", validationError("conversationId is required")
	}
	if req.Text == "" && strings.TrimSpace(req.FileURL) == "" {
		return "", validationError("text or fileUrl is required")
	}
	if req.FileSize < 0 {
		return "", validationError("fileSize must not be negative")
	}

	msgType := models.MessageType(req.MessageType)
	if msgType == "" {
		if req.FileURL != "" {
			msgType = models.MessageTypeForMIME(req.MimeType)
		} else {
			msgType = models.MessageTypeText
		}
	}
	if !msgType.Valid() {
		return "", validationError(fmt.Sprintf("unknown messageType %q", req.MessageType))
	}
	if msgType == models.MessageTypeText && req.Text == "" {
		return "", validationError("text is required for text messages")
	}
	if msgType != models.MessageTypeText && req.FileURL == "" {
		return "", validationError("fileUrl is required for media messages")
	}
	return msgType, nil
}
