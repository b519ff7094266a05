package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messenger/internal/auth"
	"messenger/internal/client"
	"messenger/internal/config"
	"messenger/internal/db"
	"messenger/internal/lifecycle"
	"messenger/internal/models"
	"messenger/internal/observability"
	"messenger/internal/presence"
	"messenger/internal/repositories"
	"messenger/internal/typing"
)

const waitTimeout = 3 * time.Second

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "outage" {
		return "", errors.New("lookup user: connection refused")
	}
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

type testServer struct {
	url      string
	hub      *Hub
	presence *presence.Store
	users    *repositories.UserRepo
	messages *repositories.MessageRepo
	conv     models.Conversation
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, _, err := db.Connect(config.DatabaseConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "ws.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	users := repositories.NewUserRepo(database)
	conversations := repositories.NewConversationRepo(database)
	messages := repositories.NewMessageRepo(database)
	for _, u := range []models.User{{ID: "1", Username: "alice"}, {ID: "2", Username: "bob"}} {
		_, err := users.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	conv, err := conversations.FindOrCreate(ctx, "1", "2")
	require.NoError(t, err)

	logger := zap.NewNop()
	hub := NewHub(logger)
	store := presence.NewStore()
	engine := lifecycle.NewEngine(conversations, messages, users, typing.NewTracker(), hub, logger)
	sessions := NewSessionManager(hub, store, users, conversations, engine, logger)
	handler := NewSessionHandler(tokenVerifier{"alice-token": "1", "bob-token": "2"}, sessions, engine, observability.NewEvents(nil, logger), nil, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", handler.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:      hub,
		presence: store,
		users:    users,
		messages: messages,
		conv:     conv,
	}
}

// connect dials as the token's user and waits until the server registered
// the connection.
func (s *testServer) connect(t *testing.T, token, userID string) *client.Conn {
	t.Helper()
	before := s.hub.Connections(userID)
	conn, err := client.Dial(context.Background(), s.url, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return s.hub.Connections(userID) == before+1 }, waitTimeout, 10*time.Millisecond)
	return conn
}

// inbox collects events of the given names.
func inbox(conn *client.Conn, events ...string) map[string]chan json.RawMessage {
	boxes := make(map[string]chan json.RawMessage, len(events))
	for _, event := range events {
		ch := make(chan json.RawMessage, 32)
		boxes[event] = ch
		conn.On(event, func(data json.RawMessage) { ch <- data })
	}
	return boxes
}

func receive(t *testing.T, ch chan json.RawMessage, dst any) {
	t.Helper()
	select {
	case data := <-ch:
		require.NoError(t, json.Unmarshal(data, dst))
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
}

func assertQuiet(t *testing.T, ch chan json.RawMessage) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected event %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	s := newTestServer(t)

	_, err := client.Dial(context.Background(), s.url, "nope")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Equal(t, 0, s.hub.Connections("1"))
	assert.False(t, s.presence.Get("1").IsOnline)
}

func TestHandshakeReportsVerifierFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSessionHandler(tokenVerifier{}, nil, nil, nil, nil, nil)
	router := gin.New()
	router.GET("/ws", handler.Handle)

	req := httptest.NewRequest(http.MethodGet, "/ws?token=outage", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestTokenQueryParameter(t *testing.T) {
	s := newTestServer(t)

	conn, err := client.DialURL(context.Background(), s.url+"?token=alice-token")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Connections("1") == 1 }, waitTimeout, 10*time.Millisecond)
}

func TestSendDeliverReadEndToEnd(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := s.connect(t, "alice-token", "1")
	aliceBox := inbox(alice, models.EventMessageDelivered, models.EventMessageRead, models.EventUserStatus)
	bob := s.connect(t, "bob-token", "2")
	bobBox := inbox(bob, models.EventMessageNew, models.EventUnreadUpdated)

	var status models.UserStatusEvent
	receive(t, aliceBox[models.EventUserStatus], &status)
	assert.Equal(t, models.UserStatusEvent{UserID: "2", IsOnline: true, LastSeen: status.LastSeen}, status)

	timeline := client.NewTimeline()
	alice.Follow(timeline, s.conv.ID)
	sent, err := alice.SendText(ctx, timeline, s.conv.ID, "1", "hi")
	require.NoError(t, err)
	assert.False(t, client.IsTemp(sent.ID))

	var incoming models.MessagePayload
	receive(t, bobBox[models.EventMessageNew], &incoming)
	assert.Equal(t, sent.ID, incoming.ID)
	assert.Equal(t, "hi", incoming.Text)
	assert.Equal(t, "alice", incoming.SenderUsername)
	assert.False(t, incoming.Delivered)
	assert.False(t, incoming.Read)

	_, err = bob.Request(ctx, models.EventMessageDelivered, models.DeliveredRequest{MessageID: incoming.ID})
	require.NoError(t, err)
	var delivered models.DeliveredEvent
	receive(t, aliceBox[models.EventMessageDelivered], &delivered)
	assert.Equal(t, models.DeliveredEvent{MessageID: sent.ID, ConversationID: s.conv.ID}, delivered)

	// repeated delivery acks are silent
	_, err = bob.Request(ctx, models.EventMessageDelivered, models.DeliveredRequest{MessageID: incoming.ID})
	require.NoError(t, err)
	assertQuiet(t, aliceBox[models.EventMessageDelivered])

	_, err = bob.Request(ctx, models.EventMessageRead, models.ReadRequest{ConversationID: s.conv.ID, MessageIDs: []string{incoming.ID}})
	require.NoError(t, err)
	var read models.ReadEvent
	receive(t, aliceBox[models.EventMessageRead], &read)
	assert.Equal(t, []string{sent.ID}, read.MessageIDs)
	var unread models.UnreadUpdatedEvent
	receive(t, bobBox[models.EventUnreadUpdated], &unread)
	assert.Equal(t, models.UnreadUpdatedEvent{ConversationID: s.conv.ID, UnreadCount: 0}, unread)

	require.Eventually(t, func() bool {
		msg, ok := timeline.Get(sent.ID)
		return ok && msg.Read && msg.Delivered
	}, waitTimeout, 10*time.Millisecond)
	assert.Len(t, timeline.Messages(), 1)
}

func TestSendErrorsRejectOptimisticMessage(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice-token", "1")
	errs := inbox(alice, models.EventError)

	timeline := client.NewTimeline()
	_, err := alice.SendText(context.Background(), timeline, "missing", "1", "hi")

	var ackErr *client.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Contains(t, ackErr.Message, "conversation not found")
	assert.Empty(t, timeline.Messages())

	var ev models.ErrorEvent
	receive(t, errs[models.EventError], &ev)
	assert.Equal(t, ackErr.Message, ev.Message)
}

func TestInvalidFrameAndUnknownEvent(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice-token", "1")

	ack, err := alice.Request(context.Background(), "message:edit", map[string]string{})
	var ackErr *client.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "unknown event message:edit", ack.Error)

	_, err = alice.Request(context.Background(), models.EventMessageSend, "not an object")
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "invalid payload", ackErr.Message)
}

func TestTypingAndDisconnect(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	bob := s.connect(t, "bob-token", "2")
	bobBox := inbox(bob, models.EventTypingStart, models.EventTypingStop, models.EventUserStatus)
	alice := s.connect(t, "alice-token", "1")

	var online models.UserStatusEvent
	receive(t, bobBox[models.EventUserStatus], &online)
	assert.True(t, online.IsOnline)

	req := models.TypingRequest{ConversationID: s.conv.ID}
	_, err := alice.Request(ctx, models.EventTypingStart, req)
	require.NoError(t, err)
	_, err = alice.Request(ctx, models.EventTypingStart, req)
	require.NoError(t, err)

	var start models.TypingStartEvent
	receive(t, bobBox[models.EventTypingStart], &start)
	assert.Equal(t, models.TypingStartEvent{ConversationID: s.conv.ID, UserID: "1", Username: "alice"}, start)
	assertQuiet(t, bobBox[models.EventTypingStart])

	require.NoError(t, alice.Close())

	var stop models.TypingStopEvent
	receive(t, bobBox[models.EventTypingStop], &stop)
	assert.Equal(t, models.TypingStopEvent{ConversationID: s.conv.ID, UserID: "1"}, stop)

	var offline models.UserStatusEvent
	receive(t, bobBox[models.EventUserStatus], &offline)
	assert.Equal(t, "1", offline.UserID)
	assert.False(t, offline.IsOnline)
	assert.False(t, offline.LastSeen.IsZero())

	user, err := s.users.GetUser(ctx, "1")
	require.NoError(t, err)
	assert.False(t, user.IsOnline)
}

func TestSecondConnectionKeepsUserOnline(t *testing.T) {
	s := newTestServer(t)

	bob := s.connect(t, "bob-token", "2")
	bobBox := inbox(bob, models.EventUserStatus)
	first := s.connect(t, "alice-token", "1")
	var status models.UserStatusEvent
	receive(t, bobBox[models.EventUserStatus], &status)

	second := s.connect(t, "alice-token", "1")
	assertQuiet(t, bobBox[models.EventUserStatus])

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.hub.Connections("1") == 1 }, waitTimeout, 10*time.Millisecond)
	assertQuiet(t, bobBox[models.EventUserStatus])
	assert.True(t, s.presence.Get("1").IsOnline)

	require.NoError(t, second.Close())
	receive(t, bobBox[models.EventUserStatus], &status)
	assert.False(t, status.IsOnline)
}
