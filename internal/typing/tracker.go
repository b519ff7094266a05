package typing

import (
	"sort"
	"sync"
	"time"
)

// Entry is an active typing indicator.
type Entry struct {
	ConversationID string
	UserID         string
	Username       string
	UpdatedAt      time.Time
}

type key struct {
	conversationID string
	userID         string
}

// Tracker keeps (conversation, user) typing entries.
type Tracker struct {
	mu      sync.Mutex
	entries map[key]Entry
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[key]Entry), now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Start inserts or refreshes an entry. It reports true only when no entry
// existed before.
func (t *Tracker) Start(conversationID, userID, username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{conversationID, userID}
	_, existed := t.entries[k]
	t.entries[k] = Entry{ConversationID: conversationID, UserID: userID, Username: username, UpdatedAt: t.now()}
	return !existed
}

// Stop removes an entry and reports whether it existed.
func (t *Tracker) Stop(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{conversationID, userID}
	if _, ok := t.entries[k]; !ok {
		return false
	}
	delete(t.entries, k)
	return true
}

// PurgeUser removes every entry of userID and returns the affected
// conversation ids in sorted order.
func (t *Tracker) PurgeUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var convs []string
	for k := range t.entries {
		if k.userID == userID {
			convs = append(convs, k.conversationID)
			delete(t.entries, k)
		}
	}
	sort.Strings(convs)
	return convs
}

// Expire removes entries not refreshed within ttl and returns them.
func (t *Tracker) Expire(ttl time.Duration) []Entry {
	if ttl <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	var expired []Entry
	for k, e := range t.entries {
		if e.UpdatedAt.Before(cutoff) {
			expired = append(expired, e)
			delete(t.entries, k)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ConversationID != expired[j].ConversationID {
			return expired[i].ConversationID < expired[j].ConversationID
		}
		return expired[i].UserID < expired[j].UserID
	})
	return expired
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
