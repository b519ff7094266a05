package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"messenger/internal/auth"
	"messenger/internal/lifecycle"
	"messenger/internal/models"
	"messenger/internal/observability"
	"messenger/internal/telemetry"
)

const (
	wsKind       = "user"
	wsRoutingKey = "ws_events.users"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionHandler authenticates websocket handshakes and runs the event loop
// of each connection.
type SessionHandler struct {
	verifier auth.Verifier
	sessions *SessionManager
	engine   *lifecycle.Engine
	events   *observability.Events
	audit    *telemetry.AuditEmitter
	logger   *zap.Logger
}

func NewSessionHandler(
	verifier auth.Verifier,
	sessions *SessionManager,
	engine *lifecycle.Engine,
	events *observability.Events,
	audit *telemetry.AuditEmitter,
	logger *zap.Logger,
) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		verifier: verifier,
		sessions: sessions,
		engine:   engine,
		events:   events,
		audit:    audit,
		logger:   logger.Named("ws"),
	}
}

// Handle authenticates the request, upgrades it and serves the connection
// until it closes.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil && !errors.Is(err, auth.ErrInvalidToken) {
		span.End()
		h.logger.Error("handshake verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err != nil {
		span.End()
		h.audit.Emit(ctx, "WARN", "ws auth rejected", observability.RequestIDFromRequest(c.Request), observability.IPFromRequest(c.Request), nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	// The connection outlives the request context once the handler returns.
	connCtx := context.WithoutCancel(ctx)
	client := newClient(conn, info, h.logger)
	go client.writePump()

	h.sessions.Attach(connCtx, client)
	observability.IncWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_connect")
	h.publish(connCtx, info, "ws_connect", "")

	reason := client.readPump(func(data []byte) {
		h.dispatch(connCtx, client, data)
	})

	h.sessions.Detach(connCtx, client)
	observability.DecWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_disconnect")
	h.publish(connCtx, info, "ws_disconnect", reason)
}

func (h *SessionHandler) dispatch(ctx context.Context, client *Client, data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		observability.IncWSEvent(wsKind, "invalid_frame")
		h.replyError(client, 0, "invalid frame")
		return
	}
	observability.IncWSEvent(wsKind, frame.Event)

	var (
		result *models.MessagePayload
		err    error
	)
	switch frame.Event {
	case models.EventMessageSend:
		var req models.SendRequest
		if err = decodeData(frame, &req); err == nil {
			var msg models.Message
			if msg, err = h.engine.Send(ctx, client.UserID, req); err == nil {
				payload := msg.Payload()
				result = &payload
			}
		}
	case models.EventMessageDelivered:
		var req models.DeliveredRequest
		if err = decodeData(frame, &req); err == nil {
			err = h.engine.Deliver(ctx, client.UserID, req.MessageID)
		}
	case models.EventMessageRead:
		var req models.ReadRequest
		if err = decodeData(frame, &req); err == nil {
			_, err = h.engine.Read(ctx, client.UserID, req)
		}
	case models.EventTypingStart:
		var req models.TypingRequest
		if err = decodeData(frame, &req); err == nil {
			err = h.engine.StartTyping(ctx, client.UserID, req)
		}
	case models.EventTypingStop:
		var req models.TypingRequest
		if err = decodeData(frame, &req); err == nil {
			err = h.engine.StopTyping(ctx, client.UserID, req)
		}
	default:
		h.replyError(client, frame.Ack, "unknown event "+frame.Event)
		return
	}

	if err != nil {
		msg := lifecycle.PublicMessage(err)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			msg = "invalid payload"
		}
		h.replyError(client, frame.Ack, msg)
		return
	}
	if frame.Ack > 0 {
		h.reply(client, frame.Ack, models.AckPayload{Message: result})
	}
}

// replyError sends an error event and, when the request carried an ack id,
// the failed ack.
func (h *SessionHandler) replyError(client *Client, ack int64, message string) {
	if frame, err := encodeFrame(models.EventError, models.ErrorEvent{Message: message}, 0); err == nil {
		client.Send(frame)
	}
	if ack > 0 {
		h.reply(client, ack, models.AckPayload{Error: message})
	}
}

func (h *SessionHandler) reply(client *Client, ack int64, payload models.AckPayload) {
	frame, err := encodeFrame(models.EventAck, payload, ack)
	if err != nil {
		h.logger.Error("encode ack failed", zap.Error(err))
		return
	}
	client.Send(frame)
}

func (h *SessionHandler) publish(ctx context.Context, info ConnInfo, event, reason string) {
	h.events.Publish(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        wsKind,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
