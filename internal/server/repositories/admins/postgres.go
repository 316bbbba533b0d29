package admins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/dbx"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create stores an admin credential. Returns common.ErrAlreadyExists when the
// user already has one.
func (r *PostgresRepository) Create(ctx context.Context, c *models.AdminCredential) error {
	query := `INSERT INTO admin_credentials (user_id, encrypted_master_key) VALUES ($1, $2) RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, c.UserID, c.EncryptedMasterKey).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, userID int64) (*models.AdminCredential, error) {
	query := `SELECT id, user_id, encrypted_master_key, created_at FROM admin_credentials WHERE user_id = $1`

	c := &models.AdminCredential{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.EncryptedMasterKey, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select admin: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.AdminCredential, error) {
	query := `SELECT id, user_id, encrypted_master_key, created_at FROM admin_credentials ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select admins: %w", err)
	}
	defer rows.Close()

	var result []*models.AdminCredential
	for rows.Next() {
		c := &models.AdminCredential{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.EncryptedMasterKey, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
