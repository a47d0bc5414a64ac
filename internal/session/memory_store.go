package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-instance Presence used when Redis is not
// configured.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &MemoryStore{ttl: ttl, now: time.Now, sessions: make(map[string]map[string]time.Time)}
}

func (s *MemoryStore) Track(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.sessions[userID]
	if !ok {
		byUser = make(map[string]time.Time)
		s.sessions[userID] = byUser
	}
	byUser[sessionID] = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[userID], sessionID)
	if len(s.sessions[userID]) == 0 {
		delete(s.sessions, userID)
	}
	return nil
}

func (s *MemoryStore) Online(_ context.Context, userIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		for _, expiry := range s.sessions[userID] {
			if expiry.After(now) {
				out[userID] = true
				break
			}
		}
		if !out[userID] {
			out[userID] = false
		}
	}
	return out, nil
}
