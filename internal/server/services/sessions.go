package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/cryptox"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/admins"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/snapvault/internal/timex"
)

const (
	// maxAllocationAttempts bounds CreateSession retries after a sequence clash.
	maxAllocationAttempts = 5

	defaultPageSize = 10
	maxPageSize     = 100
)

// SessionFiles removes the storage objects of a session folder.
// *storage.Client implements it.
type SessionFiles interface {
	DeleteSessionFiles(ctx context.Context, folder string) (int, error)
}

// SessionIdentity is an allocated PREFIX-MMDD-NN code and its parts.
type SessionIdentity struct {
	SessionID      string
	Prefix         string
	DateCode       string
	SequenceNumber string
}

// SessionService owns session lifecycle and aggregates.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vault       *cryptox.Vault
	files       SessionFiles
	log         logging.Logger
	now         timex.Clock
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, vault *cryptox.Vault, files SessionFiles, log logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		vault:       vault,
		files:       files,
		log:         log.With("module", "sessions"),
		now:         time.Now,
	}
}

// AllocateSessionID computes the next free code for prefix today.
func (s *SessionService) AllocateSessionID(ctx context.Context, prefix string) (*SessionIdentity, error) {
	return s.allocate(ctx, prefix, 0)
}

// allocate skips skip sequence numbers past count+1, used after a clash.
func (s *SessionService) allocate(ctx context.Context, prefix string, skip int) (*SessionIdentity, error) {
	prefix, err := NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	dateCode := timex.DateCode(s.now())

	count, err := s.repomanager.Sessions(s.db).CountByPrefixAndDate(ctx, prefix, dateCode)
	if err != nil {
		return nil, fmt.Errorf("error counting sessions: %w", err)
	}

	seq := fmt.Sprintf("%02d", count+1+skip)
	return &SessionIdentity{
		SessionID:      prefix + "-" + dateCode + "-" + seq,
		Prefix:         prefix,
		DateCode:       dateCode,
		SequenceNumber: seq,
	}, nil
}

// CreateSession persists a new ACTIVE session and returns it together with
// the plaintext access key. The key is not retrievable later except through
// RevealAccessKey.
func (s *SessionService) CreateSession(ctx context.Context, creator int64, prefix, description string) (*models.Session, string, error) {
	description, err := NormalizeDescription(description)
	if err != nil {
		return nil, "", err
	}
	if _, err := NormalizePrefix(prefix); err != nil {
		return nil, "", err
	}

	key, err := cryptox.GenerateAccessKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate access key: %w", err)
	}
	encrypted, err := s.vault.Encrypt(key)
	if err != nil {
		return nil, "", fmt.Errorf("encrypt access key: %w", err)
	}

	repo := s.repomanager.Sessions(s.db)
	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		id, err := s.allocate(ctx, prefix, attempt)
		if err != nil {
			return nil, "", err
		}

		session := &models.Session{
			SessionID:          id.SessionID,
			Prefix:             id.Prefix,
			DateCode:           id.DateCode,
			SequenceNumber:     id.SequenceNumber,
			Description:        description,
			EncryptedAccessKey: encrypted,
			Status:             models.SessionActive,
			StorageFolderPath:  folderName(id.SessionID, description),
			CreatedBy:          creator,
		}
		err = repo.Create(ctx, session)
		if err == nil {
			s.log.Info(ctx, "session created", "session_id", session.SessionID, "created_by", creator)
			return session, key, nil
		}
		if !errors.Is(err, common.ErrAlreadyExists) {
			return nil, "", fmt.Errorf("error creating session: %w", err)
		}
		s.log.Warn(ctx, "session id taken, reallocating", "session_id", id.SessionID, "attempt", attempt+1)
	}

	return nil, "", fmt.Errorf("could not allocate a session id for %s: %w", prefix, common.ErrAlreadyExists)
}

func (s *SessionService) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return s.repomanager.Sessions(s.db).GetByID(ctx, id)
}

// GetBySessionID looks a session up by its external code, in any case.
func (s *SessionService) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	code, err := NormalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Sessions(s.db).GetBySessionID(ctx, code)
}

func (s *SessionService) ListActive(ctx context.Context) ([]*models.Session, error) {
	return s.repomanager.Sessions(s.db).ListActive(ctx)
}

// ListPaged returns sessions newest first. Out of range arguments are clamped.
func (s *SessionService) ListPaged(ctx context.Context, page, pageSize int) (*models.SessionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.repomanager.Sessions(s.db).ListPaged(ctx, page, pageSize)
}

func (s *SessionService) Close(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.SessionClosed)
}

func (s *SessionService) Archive(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.SessionArchived)
}

func (s *SessionService) setStatus(ctx context.Context, id string, status models.SessionStatus) error {
	if err := s.repomanager.Sessions(s.db).UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("error updating session status: %w", err)
	}
	s.log.Info(ctx, "session status changed", "id", id, "status", status)
	return nil
}

// Delete removes the session row; its uploads go with it. Storage objects
// are left alone, see DeleteSessionAndFiles.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.repomanager.Sessions(s.db).Delete(ctx, id); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}

// DeleteSessionAndFiles purges the session folder and then the session.
// A storage failure is logged and does not stop the database delete, so
// objects may be left behind. It returns the number of removed objects.
func (s *SessionService) DeleteSessionAndFiles(ctx context.Context, id string) (int, error) {
	session, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}

	removed := 0
	if s.files != nil {
		removed, err = s.files.DeleteSessionFiles(ctx, session.StorageFolderPath)
		if err != nil {
			s.log.Error(ctx, "storage purge failed, objects may be orphaned",
				"session_id", session.SessionID, "folder", session.StorageFolderPath, "removed", removed, "error", err)
		}
	}

	if err := s.Delete(ctx, id); err != nil {
		return removed, err
	}
	s.log.Info(ctx, "session purged", "session_id", session.SessionID, "removed_files", removed)
	return removed, nil
}

// RecordUploadOutcome adds to the session totals in one statement.
func (s *SessionService) RecordUploadOutcome(ctx context.Context, id string, deltaFiles int, deltaSizeMB float64) error {
	if err := s.repomanager.Sessions(s.db).IncrementStats(ctx, id, deltaFiles, deltaSizeMB); err != nil {
		return fmt.Errorf("error updating session totals: %w", err)
	}
	return nil
}

// GetStats combines the session totals with a count of its uploads by status.
func (s *SessionService) GetStats(ctx context.Context, id string) (*models.SessionStats, error) {
	session, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repomanager.Uploads(s.db).CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error counting uploads: %w", err)
	}

	stats := &models.SessionStats{
		TotalFiles:  session.TotalFiles,
		TotalSizeMB: session.TotalSizeMB,
	}
	for status, n := range counts {
		switch {
		case status == models.UploadCompleted:
			stats.SuccessCount += n
		case status == models.UploadFailed:
			stats.FailedCount += n
		case status.IsPending():
			stats.PendingCount += n
		}
	}
	return stats, nil
}

// RevealAccessKey decrypts a session key for an administrator who proves
// their master key.
func (s *SessionService) RevealAccessKey(ctx context.Context, adminUserID int64, masterKey, sessionID string) (string, error) {
	ok, err := verifyMasterKey(ctx, s.repomanager.Admins(s.db), s.vault, adminUserID, masterKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", common.ErrorUnauthorized
	}

	session, err := s.GetBySessionID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	key, err := s.vault.Decrypt(session.EncryptedAccessKey)
	if err != nil {
		s.log.Error(ctx, "stored access key is corrupt", "session_id", session.SessionID, "error", err)
		return "", err
	}
	s.log.Info(ctx, "access key revealed", "session_id", session.SessionID, "admin", adminUserID)
	return key, nil
}

// verifyMasterKey compares candidate with the admin's stored master key.
// An unknown admin is a plain mismatch.
func verifyMasterKey(ctx context.Context, repo admins.Repository, vault *cryptox.Vault, userID int64, candidate string) (bool, error) {
	admin, err := repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error loading admin: %w", err)
	}
	stored, err := vault.Decrypt(admin.EncryptedMasterKey)
	if err != nil {
		return false, fmt.Errorf("decrypt master key: %w", err)
	}
	return cryptox.SecureCompare(candidate, stored), nil
}
