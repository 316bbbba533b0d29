package uploads

import (
	"context"

	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, u *models.Upload) error
	GetByID(ctx context.Context, id string) (*models.Upload, error)
	Transition(ctx context.Context, id string, from, to models.UploadStatus) error
	MarkCompleted(ctx context.Context, id string, c models.UploadCompletion) error
	MarkFailed(ctx context.Context, id string, message string) error
	MarkForRetry(ctx context.Context, id string) error
	CountByName(ctx context.Context, sessionID, originalName, excludeID string) (int, error)
	CountByStatus(ctx context.Context, sessionID string) (map[models.UploadStatus]int, error)
	ListBySession(ctx context.Context, sessionID string, status ...models.UploadStatus) ([]*models.Upload, error)
}
