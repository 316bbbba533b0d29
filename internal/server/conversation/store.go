package conversation

import (
	"context"
	"time"
)

// DefaultIdleTimeout is how long a conversation survives without activity.
const DefaultIdleTimeout = time.Hour

// Store persists conversations per user. Load never fails for a missing or
// expired conversation; it returns a fresh idle one instead.
type Store interface {
	Load(ctx context.Context, userID int64) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Clear(ctx context.Context, userID int64) error
}
