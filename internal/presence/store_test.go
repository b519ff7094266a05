package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStoreTransitions(t *testing.T) {
	s := NewStore()

	assert.False(t, s.Get("u1").IsOnline)
	assert.True(t, s.SetOnline("u1"), "first connection goes online")
	assert.False(t, s.SetOnline("u1"), "second connection is not a transition")
	assert.True(t, s.Get("u1").IsOnline)

	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.False(t, s.SetOffline("u1", seen))
	assert.True(t, s.Get("u1").IsOnline)

	assert.True(t, s.SetOffline("u1", seen))
	got := s.Get("u1")
	assert.False(t, got.IsOnline)
	assert.True(t, got.LastSeen.Equal(seen))
}

func TestStoreSetOfflineUnknownUser(t *testing.T) {
	s := NewStore()

	assert.False(t, s.SetOffline("ghost", time.Now()))
	assert.Equal(t, 0, s.OnlineCount())
}

func TestStoreConcurrentConnections(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	transitions := make(chan bool, 100)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transitions <- s.SetOnline("u1")
		}()
	}
	wg.Wait()
	close(transitions)

	count := 0
	for tr := range transitions {
		if tr {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, s.OnlineCount())
}
