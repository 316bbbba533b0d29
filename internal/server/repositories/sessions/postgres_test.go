package sessions

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

var sessionCols = []string{"id", "session_id", "prefix", "date_code", "sequence_number", "description",
	"encrypted_access_key", "status", "total_files", "total_size_mb", "storage_folder_path", "created_by", "created_at"}

func sessionRow(now time.Time) []driver.Value {
	return []driver.Value{"uuid-1", "PROJ-0314-01", "PROJ", "0314", "01", "Site visit",
		"iv:tag:ct", "ACTIVE", 2, 3.5, "PROJ-0314-01-Site-visit", int64(42), now}
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+sessions\b.*RETURNING\s+id`).
		WithArgs("PROJ-0314-01", "PROJ", "0314", "01", "Site visit", "iv:tag:ct", models.SessionActive, "PROJ-0314-01-Site-visit", int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total_files", "total_size_mb", "created_at"}).AddRow("uuid-1", 0, 0.0, now))

	s := &models.Session{
		SessionID: "PROJ-0314-01", Prefix: "PROJ", DateCode: "0314", SequenceNumber: "01",
		Description: "Site visit", EncryptedAccessKey: "iv:tag:ct", Status: models.SessionActive,
		StorageFolderPath: "PROJ-0314-01-Site-visit", CreatedBy: 42,
	}
	require.NoError(t, repo.Create(context.Background(), s))
	assert.Equal(t, "uuid-1", s.ID)
	assert.Equal(t, now, s.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+sessions\b`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "sessions_sequence_key"})

	err := repo.Create(context.Background(), &models.Session{SessionID: "PROJ-0314-01"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+sessions\b`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.Session{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: db down")
	assert.NotErrorIs(t, err, common.ErrAlreadyExists)
}

func TestCountByPrefixAndDate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions WHERE prefix = \$1 AND date_code = \$2`).
		WithArgs("PROJ", "0314").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := repo.CountByPrefixAndDate(context.Background(), "PROJ", "0314")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetBySessionID(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT .* FROM sessions WHERE session_id = \$1`).
		WithArgs("PROJ-0314-01").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(sessionRow(now)...))

	s, err := repo.GetBySessionID(context.Background(), "PROJ-0314-01")
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", s.ID)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, 2, s.TotalFiles)
	assert.Equal(t, int64(42), s.CreatedBy)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListActive(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT .* FROM sessions WHERE status = \$1 ORDER BY created_at DESC`).
		WithArgs(models.SessionActive).
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(sessionRow(now)...).AddRow(sessionRow(now)...))

	list, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestListPaged(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(`(?s)SELECT .*COUNT\(u\.id\) AS upload_count FROM sessions s LEFT JOIN uploads u .*ORDER BY s\.created_at DESC LIMIT 5 OFFSET 5`).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, sessionCols...), "upload_count")).
			AddRow(append(sessionRow(now), 7)...))

	page, err := repo.ListPaged(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, 7, page.Sessions[0].UploadCount)
	assert.Equal(t, "PROJ-0314-01", page.Sessions[0].SessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE sessions SET status = \$2 WHERE id = \$1`).
		WithArgs("uuid-1", models.SessionClosed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), "uuid-1", models.SessionClosed))

	mock.ExpectExec(`UPDATE sessions SET status`).
		WithArgs("nope", models.SessionArchived).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdateStatus(context.Background(), "nope", models.SessionArchived), common.ErrorNotFound)
}

func TestIncrementStats(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE sessions SET total_files = total_files \+ \$2, total_size_mb = total_size_mb \+ \$3 WHERE id = \$1`).
		WithArgs("uuid-1", 1, 2.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementStats(context.Background(), "uuid-1", 1, 2.5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM sessions WHERE id = \$1`).
		WithArgs("uuid-1").
		WillReturnError(errors.New("boom"))

	err := repo.Delete(context.Background(), "uuid-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete session")
}
