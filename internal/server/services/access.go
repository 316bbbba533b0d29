package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/cryptox"
	"github.com/dmitrijs2005/snapvault/internal/dbx"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/server/metrics"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/snapvault/internal/timex"
)

// LockoutPolicy is how many wrong keys lock a user out of a session, and
// for how long.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: common.MaxFailedAttempts, Window: common.LockoutDuration}
}

// AuthRequest is one attempt to join a session.
type AuthRequest struct {
	SessionID string
	UserID    int64
	Key       string
	IsAdmin   bool
}

// AuthResult describes a join attempt. Lock is set whenever the lock state
// was consulted.
type AuthResult struct {
	Session      *models.Session
	Lock         *models.LockStatus
	ViaMasterKey bool
}

// AccessService guards sessions with access keys, admin master keys and a
// per (session, user) lockout.
type AccessService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vault       *cryptox.Vault
	policy      LockoutPolicy
	metrics     *metrics.Recorder
	log         logging.Logger
	now         timex.Clock
}

func NewAccessService(db *sql.DB, m repomanager.RepositoryManager, vault *cryptox.Vault, policy LockoutPolicy, rec *metrics.Recorder, log logging.Logger) *AccessService {
	def := DefaultLockoutPolicy()
	if policy.Threshold <= 0 {
		policy.Threshold = def.Threshold
	}
	if policy.Window <= 0 {
		policy.Window = def.Window
	}
	return &AccessService{
		db:          db,
		repomanager: m,
		vault:       vault,
		policy:      policy,
		metrics:     rec,
		log:         log.With("module", "access"),
		now:         time.Now,
	}
}

// ValidateAccessKey returns the session when candidate matches its key.
func (s *AccessService) ValidateAccessKey(ctx context.Context, sessionID, candidate string) (*models.Session, error) {
	code, err := NormalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.repomanager.Sessions(s.db).GetBySessionID(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, common.ErrSessionInactive
	}

	stored, err := s.vault.Decrypt(session.EncryptedAccessKey)
	if err != nil {
		s.log.Error(ctx, "stored access key is corrupt", "session_id", code, "error", err)
		return nil, fmt.Errorf("decrypt access key: %w", err)
	}
	if !cryptox.SecureCompare(candidate, stored) {
		return nil, common.ErrInvalidAccessKey
	}
	return session, nil
}

// ValidateMasterKey reports whether candidate is userID's master key.
func (s *AccessService) ValidateMasterKey(ctx context.Context, userID int64, candidate string) (bool, error) {
	ok, err := verifyMasterKey(ctx, s.repomanager.Admins(s.db), s.vault, userID, candidate)
	if err != nil {
		s.log.Error(ctx, "master key check failed", "user_id", userID, "error", err)
		return false, err
	}
	return ok, nil
}

// TrackFailedAttempt counts a wrong key. The counter row is read FOR UPDATE
// so concurrent attempts serialize. An expired lockout restarts the count.
func (s *AccessService) TrackFailedAttempt(ctx context.Context, sessionID string, userID int64) (*models.LockStatus, error) {
	var (
		status      *models.LockStatus
		lockedNow   bool
		alreadyHeld bool
	)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.AccessLocks(tx)
		now := s.now()

		lock, err := repo.GetForUpdate(ctx, sessionID, userID)
		if err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("error reading access lock: %w", err)
			}
			lock = &models.AccessLock{SessionID: sessionID, UserID: userID}
		}

		switch {
		case lock.LockedUntil != nil && lock.LockedUntil.After(now):
			alreadyHeld = true
			status = s.statusOf(lock, now)
			return nil
		case lock.LockedUntil != nil:
			lock.FailedAttempts = 1
			lock.LockedUntil = nil
		default:
			lock.FailedAttempts++
			if lock.FailedAttempts >= s.policy.Threshold {
				until := now.Add(s.policy.Window)
				lock.LockedUntil = &until
				lockedNow = true
			}
		}

		if err := repo.Upsert(ctx, lock); err != nil {
			return fmt.Errorf("error saving access lock: %w", err)
		}
		status = s.statusOf(lock, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case lockedNow:
		s.metrics.ObserveLockout()
		s.log.Warn(ctx, "user locked out of session", "session_id", sessionID, "user_id", userID,
			"minutes", status.RemainingMinutes)
	case !alreadyHeld:
		s.log.Info(ctx, "failed access attempt", "session_id", sessionID, "user_id", userID,
			"attempts", status.FailedAttempts)
	}
	return status, nil
}

// IsLocked reports whether the pair is inside a lockout window.
func (s *AccessService) IsLocked(ctx context.Context, sessionID string, userID int64) (*models.LockStatus, error) {
	lock, err := s.repomanager.AccessLocks(s.db).Get(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &models.LockStatus{RemainingAttempts: s.policy.Threshold}, nil
		}
		return nil, fmt.Errorf("error reading access lock: %w", err)
	}
	now := s.now()
	if lock.LockedUntil != nil && !lock.LockedUntil.After(now) {
		// expired; the next failure starts a new count
		return &models.LockStatus{FailedAttempts: lock.FailedAttempts, RemainingAttempts: s.policy.Threshold}, nil
	}
	return s.statusOf(lock, now), nil
}

func (s *AccessService) ClearFailedAttempts(ctx context.Context, sessionID string, userID int64) error {
	if err := s.repomanager.AccessLocks(s.db).Delete(ctx, sessionID, userID); err != nil {
		return fmt.Errorf("error clearing access lock: %w", err)
	}
	return nil
}

func (s *AccessService) statusOf(lock *models.AccessLock, now time.Time) *models.LockStatus {
	if lock.LockedUntil != nil && lock.LockedUntil.After(now) {
		return &models.LockStatus{
			Locked:           true,
			RemainingMinutes: timex.CeilMinutes(lock.LockedUntil.Sub(now)),
			FailedAttempts:   lock.FailedAttempts,
		}
	}
	remaining := s.policy.Threshold - lock.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	return &models.LockStatus{FailedAttempts: lock.FailedAttempts, RemainingAttempts: remaining}
}

// Authenticate runs the whole join flow. Admins may use their master key,
// which skips the lockout. Everyone else is checked against the lock, then
// the key; a wrong key is counted and a right one clears the counter.
func (s *AccessService) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	code, err := NormalizeSessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.repomanager.Sessions(s.db).GetBySessionID(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, common.ErrSessionInactive
	}

	if req.IsAdmin {
		ok, err := s.ValidateMasterKey(ctx, req.UserID, req.Key)
		if err == nil && ok {
			s.log.Info(ctx, "admin joined with master key", "session_id", code, "user_id", req.UserID)
			return &AuthResult{Session: session, ViaMasterKey: true}, nil
		}
	}

	lock, err := s.IsLocked(ctx, code, req.UserID)
	if err != nil {
		return nil, err
	}
	if lock.Locked {
		return &AuthResult{Lock: lock}, common.ErrLocked
	}

	if err := cryptox.ValidateAccessKeyFormat(req.Key); err != nil {
		return &AuthResult{Lock: lock}, err
	}

	session, err = s.ValidateAccessKey(ctx, code, req.Key)
	switch {
	case err == nil:
		if err := s.ClearFailedAttempts(ctx, code, req.UserID); err != nil {
			s.log.Warn(ctx, "could not clear failed attempts", "session_id", code, "error", err)
		}
		return &AuthResult{Session: session}, nil
	case errors.Is(err, common.ErrInvalidAccessKey):
		status, trackErr := s.TrackFailedAttempt(ctx, code, req.UserID)
		if trackErr != nil {
			return nil, trackErr
		}
		if status.Locked {
			return &AuthResult{Lock: status}, common.ErrLocked
		}
		return &AuthResult{Lock: status}, err
	default:
		return nil, err
	}
}

// SeedAdmin makes sure userID has a master key. The plaintext key is
// returned only when a new credential was created.
func (s *AccessService) SeedAdmin(ctx context.Context, userID int64) (string, bool, error) {
	repo := s.repomanager.Admins(s.db)

	_, err := repo.GetByUserID(ctx, userID)
	if err == nil {
		return "", false, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return "", false, fmt.Errorf("error loading admin: %w", err)
	}

	key, err := cryptox.GenerateMasterKey()
	if err != nil {
		return "", false, fmt.Errorf("generate master key: %w", err)
	}
	encrypted, err := s.vault.Encrypt(key)
	if err != nil {
		return "", false, fmt.Errorf("encrypt master key: %w", err)
	}

	if err := repo.Create(ctx, &models.AdminCredential{UserID: userID, EncryptedMasterKey: encrypted}); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("error creating admin: %w", err)
	}
	s.log.Info(ctx, "admin seeded", "user_id", userID)
	return key, true, nil
}
