package admins

import (
	"context"

	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.AdminCredential) error
	GetByUserID(ctx context.Context, userID int64) (*models.AdminCredential, error)
	List(ctx context.Context) ([]*models.AdminCredential, error)
}
