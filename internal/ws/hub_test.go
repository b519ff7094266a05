package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messenger/internal/models"
)

func testClient(userID string, buf int) *Client {
	return &Client{
		ID:     userID + "-conn",
		UserID: userID,
		egress: make(chan []byte, buf),
		done:   make(chan struct{}),
		logger: zap.NewNop(),
	}
}

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub(nil)
	a1, a2 := testClient("a", 1), testClient("a", 1)

	assert.Equal(t, 1, hub.Join(a1))
	assert.Equal(t, 2, hub.Join(a2))
	assert.Equal(t, 2, hub.Connections("a"))

	left, ok := hub.Leave(a1)
	assert.True(t, ok)
	assert.Equal(t, 1, left)

	left, ok = hub.Leave(a1)
	assert.False(t, ok)
	assert.Equal(t, 1, left)

	left, ok = hub.Leave(a2)
	assert.True(t, ok)
	assert.Equal(t, 0, left)
	assert.Empty(t, hub.rooms)
}

func TestHubEmitReachesEveryConnectionOfUser(t *testing.T) {
	hub := NewHub(nil)
	a1, a2, b := testClient("a", 4), testClient("a", 4), testClient("b", 4)
	hub.Join(a1)
	hub.Join(a2)
	hub.Join(b)

	hub.Emit("a", models.EventTypingStop, models.TypingStopEvent{ConversationID: "c1", UserID: "b"})

	for _, c := range []*Client{a1, a2} {
		require.Len(t, c.egress, 1)
		var frame models.Frame
		require.NoError(t, json.Unmarshal(<-c.egress, &frame))
		assert.Equal(t, models.EventTypingStop, frame.Event)
		assert.JSONEq(t, `{"conversationId":"c1","userId":"b"}`, string(frame.Data))
		assert.Zero(t, frame.Ack)
	}
	assert.Empty(t, b.egress)
}

func TestHubKicksClientWithFullQueue(t *testing.T) {
	hub := NewHub(nil)
	slow := testClient("a", 1)
	hub.Join(slow)

	hub.Emit("a", models.EventError, models.ErrorEvent{Message: "one"})
	hub.Emit("a", models.EventError, models.ErrorEvent{Message: "two"})

	select {
	case <-slow.Done():
	default:
		t.Fatal("expected slow client to be closed")
	}
	assert.False(t, slow.Send([]byte("x")))
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	c := testClient("a", 1)
	hub.Join(c)

	hub.Close()

	select {
	case <-c.Done():
	default:
		t.Fatal("expected client to be closed")
	}
}
