package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger/internal/media"
	"messenger/internal/middleware"
	"messenger/internal/mocks"
	"messenger/internal/models"
	"messenger/internal/presence"
	"messenger/internal/repositories"
)

type presenceStub map[string]presence.Presence

func (p presenceStub) Get(userID string) presence.Presence { return p[userID] }

func setupRouter(register func(r *gin.Engine)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "1")
		c.Next()
	})
	register(r)
	return r
}

func TestHealth(t *testing.T) {
	router := setupRouter(func(r *gin.Engine) { r.GET("/health", Health) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListUsersIncludesPreviewAndUnread(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	conversations := new(mocks.ConversationRepositoryMock)
	seen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	live := seen.Add(time.Hour)
	handler := NewUserHandler(users, conversations, presenceStub{"2": {IsOnline: true, LastSeen: live}}, nil)
	router := setupRouter(func(r *gin.Engine) { r.GET("/users", handler.ListUsers) })

	users.On("ListUsersExcept", mock.Anything, "1").Return([]models.User{
		{ID: "2", Username: "bob", LastSeen: seen},
		{ID: "3", Username: "carol", LastSeen: seen},
	}, nil).Once()
	conversations.On("ListSummaries", mock.Anything, "1").Return([]models.ConversationSummary{{
		ConversationID: "c1",
		PartnerID:      "2",
		UnreadCount:    3,
		LastMessage:    &models.Message{ID: "m1", SenderID: "2", MessageType: models.MessageTypeImage, CreatedAt: seen},
	}}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []userResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)

	assert.Equal(t, "bob", resp[0].Username)
	assert.True(t, resp[0].IsOnline)
	assert.True(t, resp[0].LastSeen.Equal(live))
	assert.Equal(t, 3, resp[0].UnreadCount)
	require.NotNil(t, resp[0].LastMessage)
	assert.Equal(t, "📷 Photo", resp[0].LastMessage.Text)

	assert.False(t, resp[1].IsOnline)
	assert.Nil(t, resp[1].LastMessage)
	assert.Zero(t, resp[1].UnreadCount)

	users.AssertExpectations(t)
	conversations.AssertExpectations(t)
}

func TestListUsersRepoError(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	handler := NewUserHandler(users, new(mocks.ConversationRepositoryMock), presenceStub{}, nil)
	router := setupRouter(func(r *gin.Engine) { r.GET("/users", handler.ListUsers) })

	users.On("ListUsersExcept", mock.Anything, "1").Return(([]models.User)(nil), assert.AnError).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	users.AssertExpectations(t)
}

func conversationRouter(h *ConversationHandler) *gin.Engine {
	return setupRouter(func(r *gin.Engine) {
		r.POST("/conversations/find-or-create", h.FindOrCreate)
		r.GET("/conversations/:id/messages", h.GetMessages)
	})
}

func TestFindOrCreateSuccess(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	router := conversationRouter(NewConversationHandler(conversations, nil, users, nil))

	users.On("GetUser", mock.Anything, "2").Return(models.User{ID: "2"}, nil).Once()
	conversations.On("FindOrCreate", mock.Anything, "1", "2").Return(models.Conversation{ID: "c1", User1ID: "1", User2ID: "2"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/find-or-create", bytes.NewBufferString(`{"otherUserId":"2"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"c1","participants":["1","2"]}`, rec.Body.String())
	conversations.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestFindOrCreateRejects(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	users.On("GetUser", mock.Anything, "9").Return(nil, repositories.ErrUserNotFound).Once()
	router := conversationRouter(NewConversationHandler(new(mocks.ConversationRepositoryMock), nil, users, nil))

	cases := map[string]struct {
		body   string
		status int
	}{
		"missing id": {`{}`, http.StatusBadRequest},
		"self":       {`{"otherUserId":"1"}`, http.StatusBadRequest},
		"unknown":    {`{"otherUserId":"9"}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/find-or-create", bytes.NewBufferString(tc.body)))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	users.AssertExpectations(t)
}

func TestGetMessages(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	router := conversationRouter(NewConversationHandler(conversations, messages, nil, nil))

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1", User1ID: "1", User2ID: "2"}, nil).Once()
	conversations.On("GetConversation", mock.Anything, "c2").Return(models.Conversation{ID: "c2", User1ID: "2", User2ID: "3"}, nil).Once()
	conversations.On("GetConversation", mock.Anything, "c3").Return(nil, repositories.ErrConversationNotFound).Once()
	messages.On("ListConversationMessages", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "2", SenderUsername: "bob", Text: "hi", MessageType: models.MessageTypeText, CreatedAt: created},
	}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var payloads []models.MessagePayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payloads))
	require.Len(t, payloads, 1)
	assert.Equal(t, "bob", payloads[0].SenderUsername)
	assert.False(t, payloads[0].Delivered)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c2/messages", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c3/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	conversations.AssertExpectations(t)
	messages.AssertExpectations(t)
}

func uploadRequest(t *testing.T, field, name, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + name + `"`}
		h["Content-Type"] = []string{contentType}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	handler := NewUploadHandler(media.NewStore(t.TempDir(), 16), nil)
	router := setupRouter(func(r *gin.Engine) { r.POST("/uploads", handler.Upload) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "notes.txt", "text/plain", []byte("hello")))
	require.Equal(t, http.StatusOK, rec.Code)
	var stored media.StoredFile
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stored))
	assert.Equal(t, models.MessageTypeDocument, stored.MessageType)
	assert.Equal(t, "notes.txt", stored.FileName)
	assert.Equal(t, int64(5), stored.FileSize)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "big.txt", "text/plain", bytes.Repeat([]byte("x"), 32)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "tool.exe", "application/x-msdownload", []byte("MZ")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "", "", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
