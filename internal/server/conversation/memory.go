package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/timex"
)

// MemoryStore keeps conversations in process memory. Entries are stored
// encoded so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[int64][]byte
	timeout time.Duration
	now     timex.Clock
}

func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &MemoryStore{items: make(map[int64][]byte), timeout: idleTimeout, now: time.Now}
}

func (s *MemoryStore) Load(ctx context.Context, userID int64) (*Conversation, error) {
	s.mu.Lock()
	raw, ok := s.items[userID]
	s.mu.Unlock()
	if !ok {
		return NewConversation(userID), nil
	}

	c, err := Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	if s.now().Sub(c.LastActivity) > s.timeout {
		_ = s.Clear(ctx, userID)
		return NewConversation(userID), nil
	}
	return c, nil
}

func (s *MemoryStore) Save(ctx context.Context, c *Conversation) error {
	c.LastActivity = s.now()
	raw, err := Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[c.UserID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.items, userID)
	s.mu.Unlock()
	return nil
}
