package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/models"
)

func fixedTimeline(start time.Time) (*Timeline, *time.Time) {
	clock := start
	tl := NewTimeline()
	tl.now = func() time.Time { return clock }
	return tl, &clock
}

func TestApplyNewReplacesTempByCorrelationID(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl, _ := fixedTimeline(base)

	temp := tl.AddOptimistic("c1", "u1", "hi", "corr-1")
	assert.True(t, IsTemp(temp.ID))

	tl.ApplyNew(models.MessagePayload{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hi edited", ClientMessageID: "corr-1", CreatedAt: base.Add(time.Millisecond)})

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestApplyNewFallsBackToSenderAndText(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl, _ := fixedTimeline(base)

	tl.AddOptimistic("c1", "u1", "hi", "corr-1")
	tl.AddOptimistic("c1", "u1", "hi", "corr-2")

	tl.ApplyNew(models.MessagePayload{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hi", CreatedAt: base})

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	ids := []string{msgs[0].ID, msgs[1].ID}
	assert.Contains(t, ids, "m1")
	assert.Contains(t, ids, TempPrefix+"corr-2", "only the first matching temp is replaced")
}

func TestApplyNewKeepsTempForOtherDeviceCorrelationID(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl, _ := fixedTimeline(base)

	temp := tl.AddOptimistic("c1", "u1", "hi", "corr-1")
	tl.ApplyNew(models.MessagePayload{ID: "m9", ConversationID: "c1", SenderID: "u1", Text: "hi", ClientMessageID: "other-device", CreatedAt: base.Add(time.Millisecond)})

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, temp.ID, msgs[0].ID)
	assert.Equal(t, "m9", msgs[1].ID)
}

func TestApplyNewAppendsUnknownAndSorts(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl, _ := fixedTimeline(base)

	tl.ApplyNew(models.MessagePayload{ID: "b", SenderID: "u2", Text: "later", CreatedAt: base.Add(time.Second)})
	tl.ApplyNew(models.MessagePayload{ID: "a", SenderID: "u2", Text: "earlier", CreatedAt: base})
	tl.ApplyNew(models.MessagePayload{ID: "c", SenderID: "u2", Text: "tie", CreatedAt: base})

	msgs := tl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestStatusNeverRegresses(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl, _ := fixedTimeline(base)
	msg := models.MessagePayload{ID: "m1", SenderID: "u1", Text: "hi", CreatedAt: base}

	tl.ApplyNew(msg)
	tl.ApplyRead([]string{"m1"})
	got, ok := tl.Get("m1")
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.True(t, got.Delivered, "read implies delivered")

	// a stale duplicate of message:new must not reset the status
	tl.ApplyNew(msg)
	got, _ = tl.Get("m1")
	assert.True(t, got.Read)
	assert.True(t, got.Delivered)
	require.NotNil(t, got.ReadAt)

	tl.ApplyDelivered("m1")
	tl.ApplyDelivered("missing")
	got, _ = tl.Get("m1")
	assert.True(t, got.Read)
}

func TestReject(t *testing.T) {
	tl := NewTimeline()
	temp := tl.AddOptimistic("c1", "u1", "hi", "corr-1")

	assert.False(t, tl.Reject("m1"))
	assert.True(t, tl.Reject(temp.ID))
	assert.False(t, tl.Reject(temp.ID))
	assert.Empty(t, tl.Messages())
}

func TestLoadKeepsPendingTemps(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl, clock := fixedTimeline(base)
	*clock = base.Add(time.Hour)
	tl.AddOptimistic("c1", "u1", "pending", "corr-1")

	tl.Load([]models.MessagePayload{
		{ID: "m2", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", CreatedAt: base},
	})

	msgs := tl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, TempPrefix+"corr-1", msgs[2].ID)
}
