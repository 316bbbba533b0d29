package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "conv"

// RedisStore keeps one JSON document per user. The idle timeout is the key
// TTL, refreshed on every save.
type RedisStore struct {
	client  red.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

func NewRedisStore(client red.UniversalClient, keyPrefix string, idleTimeout time.Duration) *RedisStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &RedisStore{client: client, prefix: prefix, timeout: idleTimeout, now: time.Now}
}

func (s *RedisStore) Load(ctx context.Context, userID int64) (*Conversation, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return NewConversation(userID), nil
		}
		return nil, fmt.Errorf("redis get conversation: %w", err)
	}
	return Unmarshal(raw)
}

func (s *RedisStore) Save(ctx context.Context, c *Conversation) error {
	c.LastActivity = s.now().UTC()
	raw, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(c.UserID), raw, s.timeout).Err(); err != nil {
		return fmt.Errorf("redis set conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + ":" + strconv.FormatInt(userID, 10)
}
