package client

import (
	"sort"
	"strings"
	"sync"
	"time"

	"messenger/internal/models"
)

// TempPrefix marks ids of messages that exist only locally.
const TempPrefix = "temp-"

func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// Timeline is the local view of one conversation. Optimistic messages are
// shown immediately and replaced by the server copy when it arrives.
type Timeline struct {
	mu       sync.Mutex
	messages []models.MessagePayload
	now      func() time.Time
}

func NewTimeline() *Timeline {
	return &Timeline{now: func() time.Time { return time.Now().UTC() }}
}

// AddOptimistic appends a local message keyed by correlationID.
func (t *Timeline) AddOptimistic(conversationID, senderID, text, correlationID string) models.MessagePayload {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := models.MessagePayload{
		ID:              TempPrefix + correlationID,
		ConversationID:  conversationID,
		SenderID:        senderID,
		ClientMessageID: correlationID,
		Text:            text,
		MessageType:     models.MessageTypeText,
		CreatedAt:       t.now(),
	}
	t.messages = append(t.messages, msg)
	t.sortLocked()
	return msg
}

// ApplyNew merges a server message. A known id is merged in place; otherwise
// the matching optimistic entry is replaced, first by correlation id and then
// by sender and text; otherwise the message is appended.
func (t *Timeline) ApplyNew(msg models.MessagePayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexLocked(msg.ID); i >= 0 {
		t.messages[i] = merge(t.messages[i], msg)
		t.sortLocked()
		return
	}

	if msg.ClientMessageID != "" {
		for i, m := range t.messages {
			if IsTemp(m.ID) && m.ClientMessageID == msg.ClientMessageID {
				t.messages[i] = msg
				t.sortLocked()
				return
			}
		}
	}

	// Messages carrying a correlation id that matched nothing here were sent
	// from another device.
	if msg.ClientMessageID == "" {
		for i, m := range t.messages {
			if IsTemp(m.ID) && m.SenderID == msg.SenderID && m.Text == msg.Text {
				t.messages[i] = msg
				t.sortLocked()
				return
			}
		}
	}

	t.messages = append(t.messages, msg)
	t.sortLocked()
}

// ApplyDelivered marks a message delivered.
func (t *Timeline) ApplyDelivered(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexLocked(messageID); i >= 0 && !t.messages[i].Delivered {
		at := t.now()
		t.messages[i].Delivered = true
		t.messages[i].DeliveredAt = &at
	}
}

// ApplyRead marks messages read, and delivered when they were not yet.
func (t *Timeline) ApplyRead(messageIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at := t.now()
	for _, id := range messageIDs {
		i := t.indexLocked(id)
		if i < 0 {
			continue
		}
		m := &t.messages[i]
		if !m.Delivered {
			m.Delivered = true
			m.DeliveredAt = &at
		}
		if !m.Read {
			m.Read = true
			m.ReadAt = &at
		}
	}
}

// Reject removes an optimistic message whose send failed.
func (t *Timeline) Reject(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !IsTemp(tempID) {
		return false
	}
	i := t.indexLocked(tempID)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return true
}

// Load replaces the timeline with server history. Pending optimistic
// messages are kept.
func (t *Timeline) Load(history []models.MessagePayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make([]models.MessagePayload, 0, len(history)+len(t.messages))
	merged = append(merged, history...)
	for _, m := range t.messages {
		if IsTemp(m.ID) {
			merged = append(merged, m)
		}
	}
	t.messages = merged
	t.sortLocked()
}

// Messages returns a copy ordered by creation time.
func (t *Timeline) Messages() []models.MessagePayload {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.MessagePayload, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Get(id string) (models.MessagePayload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexLocked(id); i >= 0 {
		return t.messages[i], true
	}
	return models.MessagePayload{}, false
}

func (t *Timeline) indexLocked(id string) int {
	for i, m := range t.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) sortLocked() {
	sort.SliceStable(t.messages, func(i, j int) bool {
		a, b := t.messages[i], t.messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// merge combines two copies of the same message. Status flags never go back.
func merge(local, incoming models.MessagePayload) models.MessagePayload {
	out := incoming
	if local.Delivered && !out.Delivered {
		out.Delivered = true
		out.DeliveredAt = local.DeliveredAt
	}
	if local.Read && !out.Read {
		out.Read = true
		out.ReadAt = local.ReadAt
	}
	if out.Read && !out.Delivered {
		out.Delivered = true
		out.DeliveredAt = out.ReadAt
	}
	return out
}
