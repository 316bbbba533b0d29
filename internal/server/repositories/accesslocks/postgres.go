package accesslocks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/dbx"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

// PostgresRepository stores failed attempt counters keyed by
// (session_id, user_id).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectLock = `SELECT id, session_id, user_id, failed_attempts, locked_until, updated_at
	FROM access_locks WHERE session_id = $1 AND user_id = $2`

func (r *PostgresRepository) get(ctx context.Context, query, sessionID string, userID int64) (*models.AccessLock, error) {
	l := &models.AccessLock{}
	err := r.db.QueryRowContext(ctx, query, sessionID, userID).
		Scan(&l.ID, &l.SessionID, &l.UserID, &l.FailedAttempts, &l.LockedUntil, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select access lock: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) Get(ctx context.Context, sessionID string, userID int64) (*models.AccessLock, error) {
	return r.get(ctx, selectLock, sessionID, userID)
}

// GetForUpdate reads the row with a row lock; it must run inside a transaction.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, sessionID string, userID int64) (*models.AccessLock, error) {
	return r.get(ctx, selectLock+` FOR UPDATE`, sessionID, userID)
}

// Upsert writes the counter and lock deadline of the (session, user) pair.
func (r *PostgresRepository) Upsert(ctx context.Context, lock *models.AccessLock) error {
	query := `
		INSERT INTO access_locks (session_id, user_id, failed_attempts, locked_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = now()`

	if _, err := r.db.ExecContext(ctx, query, lock.SessionID, lock.UserID, lock.FailedAttempts, lock.LockedUntil); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete removes the pair's record. A missing record is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, sessionID string, userID int64) error {
	query := `DELETE FROM access_locks WHERE session_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, sessionID, userID); err != nil {
		return fmt.Errorf("failed to delete access lock: %w", err)
	}
	return nil
}
