package sessions

import (
	"context"

	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	CountByPrefixAndDate(ctx context.Context, prefix, dateCode string) (int, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	ListActive(ctx context.Context) ([]*models.Session, error)
	ListPaged(ctx context.Context, page, pageSize int) (*models.SessionPage, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	IncrementStats(ctx context.Context, id string, deltaFiles int, deltaSizeMB float64) error
	Delete(ctx context.Context, id string) error
}
