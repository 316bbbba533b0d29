package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/dbx"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

var uploadColumns = []string{"id", "session_id", "original_name", "stored_path", "file_size_mb",
	"storage_object_id", "storage_url", "upload_status", "error_message", "uploaded_by", "created_at", "uploaded_at"}

// PostgresRepository stores upload records over a dbx.DBTX.
//
// Status changes are guarded in SQL by the expected current status, so a
// row that moved on concurrently is reported as common.ErrInvalidTransition.
type PostgresRepository struct {
	db      dbx.DBTX
	builder sq.StatementBuilderType
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*models.Upload, error) {
	u := &models.Upload{}
	err := row.Scan(&u.ID, &u.SessionID, &u.OriginalName, &u.StoredPath, &u.FileSizeMB,
		&u.StorageObjectID, &u.StorageURL, &u.Status, &u.ErrorMessage, &u.UploadedBy, &u.CreatedAt, &u.UploadedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts u in PENDING status unless another status is set.
func (r *PostgresRepository) Create(ctx context.Context, u *models.Upload) error {
	if u.Status == "" {
		u.Status = models.UploadPending
	}
	query := `
		INSERT INTO uploads (session_id, original_name, stored_path, upload_status, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, u.SessionID, u.OriginalName, u.StoredPath, u.Status, u.UploadedBy).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	query, args, err := r.builder.Select(uploadColumns...).From("uploads").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select upload sql: %w", err)
	}

	u, err := scanUpload(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select upload: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to models.UploadStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, common.ErrInvalidTransition)
	}
	query := `UPDATE uploads SET upload_status = $3 WHERE id = $1 AND upload_status = $2`
	return r.execGuarded(ctx, query, id, from, to)
}

// MarkCompleted records the storage outcome of an UPLOADING row.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, c models.UploadCompletion) error {
	query := `
		UPDATE uploads SET upload_status = 'COMPLETED', stored_path = $2, file_size_mb = $3,
			storage_object_id = $4, storage_url = $5, uploaded_at = $6, error_message = NULL
		WHERE id = $1 AND upload_status = 'UPLOADING'`
	return r.execGuarded(ctx, query, id, c.StoredPath, c.FileSizeMB, c.StorageObjectID, c.StorageURL, c.UploadedAt)
}

// MarkFailed moves any non-terminal row to FAILED with the given message.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, message string) error {
	query := `
		UPDATE uploads SET upload_status = 'FAILED', error_message = $2
		WHERE id = $1 AND upload_status IN ('PENDING', 'UPLOADING', 'RETRYING')`
	return r.execGuarded(ctx, query, id, message)
}

// MarkForRetry resets a FAILED row to RETRYING and clears its error.
func (r *PostgresRepository) MarkForRetry(ctx context.Context, id string) error {
	query := `UPDATE uploads SET upload_status = 'RETRYING', error_message = NULL WHERE id = $1 AND upload_status = 'FAILED'`
	return r.execGuarded(ctx, query, id)
}

// CountByName counts uploads in the session with the same original name,
// excluding excludeID.
func (r *PostgresRepository) CountByName(ctx context.Context, sessionID, originalName, excludeID string) (int, error) {
	query := `SELECT COUNT(*) FROM uploads WHERE session_id = $1 AND original_name = $2 AND id <> $3`

	var n int
	if err := r.db.QueryRowContext(ctx, query, sessionID, originalName, excludeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, sessionID string) (map[models.UploadStatus]int, error) {
	query := `SELECT upload_status, COUNT(*) FROM uploads WHERE session_id = $1 GROUP BY upload_status`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count uploads: %w", err)
	}
	defer rows.Close()

	result := make(map[models.UploadStatus]int)
	for rows.Next() {
		var status models.UploadStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		result[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListBySession returns the session's uploads, oldest first, optionally
// restricted to the given statuses.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string, status ...models.UploadStatus) ([]*models.Upload, error) {
	b := r.builder.Select(uploadColumns...).From("uploads").Where(sq.Eq{"session_id": sessionID})
	if len(status) > 0 {
		values := make([]string, 0, len(status))
		for _, s := range status {
			values = append(values, string(s))
		}
		b = b.Where(sq.Eq{"upload_status": values})
	}
	query, args, err := b.OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list uploads sql: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) execGuarded(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update upload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrInvalidTransition
	}
	return nil
}
