package sessions

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

const sessionColumns = `id, session_id, prefix, date_code, sequence_number, description,
	encrypted_access_key, status, total_files, total_size_mb, storage_folder_path, created_by, created_at`

// PostgresRepository stores sessions over a dbx.DBTX (*sql.DB or *sql.Tx).
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

func scanSession(row scanner, extra ...any) (*models.Session, error) {
	s := &models.Session{}
	dest := []any{&s.ID, &s.SessionID, &s.Prefix, &s.DateCode, &s.SequenceNumber, &s.Description,
		&s.EncryptedAccessKey, &s.Status, &s.TotalFiles, &s.TotalSizeMB, &s.StorageFolderPath,
		&s.CreatedBy, &s.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts s and fills its generated id and creation time.
// A clash on session_id or on the (prefix, date, sequence) triple yields
// common.ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (session_id, prefix, date_code, sequence_number, description,
			encrypted_access_key, status, storage_folder_path, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, total_files, total_size_mb, created_at`

	err := r.db.QueryRowContext(ctx, query,
		s.SessionID, s.Prefix, s.DateCode, s.SequenceNumber, s.Description,
		s.EncryptedAccessKey, s.Status, s.StorageFolderPath, s.CreatedBy,
	).Scan(&s.ID, &s.TotalFiles, &s.TotalSizeMB, &s.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", s.SessionID, common.ErrAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountByPrefixAndDate(ctx context.Context, prefix, dateCode string) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE prefix = $1 AND date_code = $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, prefix, dateCode).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ` + where + ` = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return r.getOne(ctx, "id", id)
}

func (r *PostgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	return r.getOne(ctx, "session_id", sessionID)
}

// ListActive returns ACTIVE sessions, newest first.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, models.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPaged returns one page of all sessions, newest first, each with its
// upload count. Pages are 1-based.
func (r *PostgresRepository) ListPaged(ctx context.Context, page, pageSize int) (*models.SessionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	query, args, err := r.builder.
		Select("s.id", "s.session_id", "s.prefix", "s.date_code", "s.sequence_number", "s.description",
			"s.encrypted_access_key", "s.status", "s.total_files", "s.total_size_mb",
			"s.storage_folder_path", "s.created_by", "s.created_at", "COUNT(u.id) AS upload_count").
		From("sessions s").
		LeftJoin("uploads u ON u.session_id = s.id").
		GroupBy("s.id").
		OrderBy("s.created_at DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	result := &models.SessionPage{
		Total:       total,
		TotalPages:  (total + pageSize - 1) / pageSize,
		CurrentPage: page,
	}
	for rows.Next() {
		var count int
		s, err := scanSession(rows, &count)
		if err != nil {
			return nil, err
		}
		result.Sessions = append(result.Sessions, &models.SessionSummary{Session: *s, UploadCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	query := `UPDATE sessions SET status = $2 WHERE id = $1`
	return r.execOne(ctx, "failed to update session status", query, id, status)
}

// IncrementStats adds to the aggregates in a single statement so concurrent
// completions do not lose updates.
func (r *PostgresRepository) IncrementStats(ctx context.Context, id string, deltaFiles int, deltaSizeMB float64) error {
	query := `UPDATE sessions SET total_files = total_files + $2, total_size_mb = total_size_mb + $3 WHERE id = $1`
	return r.execOne(ctx, "failed to update session stats", query, id, deltaFiles, deltaSizeMB)
}

// Delete removes the session; its uploads go with it through the foreign key.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "failed to delete session", `DELETE FROM sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, msg, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
