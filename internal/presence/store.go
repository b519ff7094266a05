package presence

import (
	"sync"
	"time"
)

// Presence is the externally visible status of a user.
type Presence struct {
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type entry struct {
	connections int
	lastSeen    time.Time
}

// Store tracks live connections per user. A user is online while at least
// one connection is open.
type Store struct {
	mu    sync.Mutex
	users map[string]*entry
}

func NewStore() *Store {
	return &Store{users: make(map[string]*entry)}
}

// SetOnline registers a connection and reports whether the user just went
// from offline to online.
func (s *Store) SetOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok {
		e = &entry{}
		s.users[userID] = e
	}
	e.connections++
	return e.connections == 1
}

// SetOffline unregisters a connection and reports whether it was the last
// one. lastSeen is recorded only in that case.
func (s *Store) SetOffline(userID string, lastSeen time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok || e.connections == 0 {
		return false
	}
	e.connections--
	if e.connections > 0 {
		return false
	}
	e.lastSeen = lastSeen
	return true
}

func (s *Store) Get(userID string) Presence {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok {
		return Presence{}
	}
	return Presence{IsOnline: e.connections > 0, LastSeen: e.lastSeen}
}

// OnlineCount returns the number of users with at least one connection.
func (s *Store) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.users {
		if e.connections > 0 {
			n++
		}
	}
	return n
}
