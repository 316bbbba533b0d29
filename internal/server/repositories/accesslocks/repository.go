package accesslocks

import (
	"context"

	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, sessionID string, userID int64) (*models.AccessLock, error)
	GetForUpdate(ctx context.Context, sessionID string, userID int64) (*models.AccessLock, error)
	Upsert(ctx context.Context, lock *models.AccessLock) error
	Delete(ctx context.Context, sessionID string, userID int64) error
}
