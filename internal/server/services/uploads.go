package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/server/metrics"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/snapvault/internal/server/storage"
	"github.com/dmitrijs2005/snapvault/internal/server/telegram"
	"github.com/dmitrijs2005/snapvault/internal/timex"
)

// FileSource downloads a chat attachment. *telegram.FileSource implements it.
type FileSource interface {
	Fetch(ctx context.Context, fileRef string) (*telegram.RemoteFile, error)
}

// ObjectStore stores file content. *storage.Client implements it.
type ObjectStore interface {
	UploadFile(ctx context.Context, data []byte, path, mimeType string, onProgress func(percent int)) storage.UploadResult
}

// OutcomeRecorder adds completed uploads to the session totals.
type OutcomeRecorder interface {
	RecordUploadOutcome(ctx context.Context, id string, deltaFiles int, deltaSizeMB float64) error
}

type UploadRequest struct {
	Session      *models.Session
	FileRef      string
	OriginalName string
	UserID       int64
}

// UploadResult is the outcome of one upload. Failures are reported in
// Error; ProcessUpload never returns a Go error.
type UploadResult struct {
	Success      bool
	UploadID     string
	OriginalName string
	StoredPath   string
	ObjectURL    string
	SizeMB       float64
	Error        string
}

// UploadService moves a single attachment from the chat platform into
// object storage and keeps the Upload row in step.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	files       FileSource
	store       ObjectStore
	sessions    OutcomeRecorder
	metrics     *metrics.Recorder
	log         logging.Logger
	now         timex.Clock
}

func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, files FileSource, store ObjectStore,
	sessions OutcomeRecorder, rec *metrics.Recorder, log logging.Logger) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: m,
		files:       files,
		store:       store,
		sessions:    sessions,
		metrics:     rec,
		log:         log.With("module", "uploads"),
		now:         time.Now,
	}
}

// ProcessUpload runs PENDING -> UPLOADING -> COMPLETED|FAILED for one file.
func (s *UploadService) ProcessUpload(ctx context.Context, req UploadRequest, obs ProgressObserver) UploadResult {
	name := strings.TrimSpace(req.OriginalName)
	if name == "" {
		name = fmt.Sprintf("photo_%d.jpg", s.now().UnixMilli())
	}
	if req.Session == nil {
		return UploadResult{OriginalName: name, Error: common.ErrNoActiveSession.Error()}
	}

	upload := &models.Upload{
		SessionID:    req.Session.ID,
		OriginalName: name,
		UploadedBy:   req.UserID,
		Status:       models.UploadPending,
	}
	if err := s.repomanager.Uploads(s.db).Create(ctx, upload); err != nil {
		s.log.Error(ctx, "could not create upload record", "session_id", req.Session.SessionID, "error", err)
		return UploadResult{OriginalName: name, Error: err.Error()}
	}

	return s.run(ctx, upload, req.Session, req.FileRef, models.UploadPending, obs)
}

// RetryUpload puts a FAILED upload back through the pipeline. The chat file
// reference is not stored, so the caller supplies it again.
func (s *UploadService) RetryUpload(ctx context.Context, uploadID, fileRef string, obs ProgressObserver) UploadResult {
	repo := s.repomanager.Uploads(s.db)

	upload, err := repo.GetByID(ctx, uploadID)
	if err != nil {
		return UploadResult{UploadID: uploadID, Error: err.Error()}
	}
	if upload.Status == models.UploadFailed {
		if err := repo.MarkForRetry(ctx, uploadID); err != nil {
			return UploadResult{UploadID: uploadID, OriginalName: upload.OriginalName, Error: err.Error()}
		}
		upload.Status = models.UploadRetrying
	}
	if upload.Status != models.UploadRetrying {
		err := fmt.Errorf("%w: upload is %s", common.ErrInvalidTransition, upload.Status)
		return UploadResult{UploadID: uploadID, OriginalName: upload.OriginalName, Error: err.Error()}
	}

	session, err := s.repomanager.Sessions(s.db).GetByID(ctx, upload.SessionID)
	if err == nil && !session.IsActive() {
		err = common.ErrSessionInactive
	}
	if err != nil {
		return s.fail(ctx, upload, s.now(), 0, err, obs)
	}

	return s.run(ctx, upload, session, fileRef, models.UploadRetrying, obs)
}

func (s *UploadService) run(ctx context.Context, upload *models.Upload, session *models.Session, fileRef string,
	from models.UploadStatus, obs ProgressObserver) UploadResult {
	started := s.now()
	repo := s.repomanager.Uploads(s.db)

	if err := repo.Transition(ctx, upload.ID, from, models.UploadUploading); err != nil {
		return s.fail(ctx, upload, started, 0, err, obs)
	}
	s.emit(ctx, obs, upload.ID, PhaseDownloading, 0, "downloading from chat")

	file, err := s.files.Fetch(ctx, fileRef)
	if err != nil {
		return s.fail(ctx, upload, started, 0, fmt.Errorf("%w: download: %w", common.ErrTerminalUpload, err), obs)
	}
	size := int64(len(file.Data))
	if err := ValidateFile(file.MimeType, size); err != nil {
		return s.fail(ctx, upload, started, 0, err, obs)
	}
	s.emit(ctx, obs, upload.ID, PhaseUploading, 30, "uploading to storage")

	prior, err := repo.CountByName(ctx, session.ID, upload.OriginalName, upload.ID)
	if err != nil {
		return s.fail(ctx, upload, started, 0, err, obs)
	}
	path := storage.BuildSessionFilePath(session.StorageFolderPath, upload.OriginalName, prior+1)

	res := s.store.UploadFile(ctx, file.Data, path, file.MimeType, func(pct int) {
		s.emit(ctx, obs, upload.ID, PhaseUploading, 30+pct*60/100, fmt.Sprintf("uploading: %d%%", pct))
	})
	if !res.Success {
		return s.fail(ctx, upload, started, res.Attempts, fmt.Errorf("%w: %s", common.ErrTerminalUpload, res.Error), obs)
	}
	s.emit(ctx, obs, upload.ID, PhaseFinalizing, 90, "saving")

	sizeMB := float64(res.Size) / common.BytesPerMB
	completion := models.UploadCompletion{
		StoredPath:      res.Path,
		FileSizeMB:      sizeMB,
		StorageObjectID: res.ObjectID,
		StorageURL:      res.URL,
		UploadedAt:      s.now(),
	}
	bookkeeping := context.WithoutCancel(ctx)
	if err := repo.MarkCompleted(bookkeeping, upload.ID, completion); err != nil {
		s.log.Error(ctx, "stored object has no completed record", "upload_id", upload.ID, "path", res.Path, "error", err)
		return s.fail(ctx, upload, started, res.Attempts, err, obs)
	}
	if err := s.sessions.RecordUploadOutcome(bookkeeping, session.ID, 1, sizeMB); err != nil {
		s.log.Error(ctx, "session totals not updated", "session_id", session.SessionID, "error", err)
	}

	s.metrics.ObserveUpload(metrics.OutcomeCompleted, res.Size, res.Attempts, s.now().Sub(started))
	s.emit(ctx, obs, upload.ID, PhaseCompleted, 100, "upload complete")
	s.log.Info(ctx, "upload completed", "upload_id", upload.ID, "path", res.Path, "size_mb", sizeMB)

	return UploadResult{
		Success:      true,
		UploadID:     upload.ID,
		OriginalName: upload.OriginalName,
		StoredPath:   res.Path,
		ObjectURL:    res.URL,
		SizeMB:       sizeMB,
	}
}

// fail records cause on the upload row and builds the failure result.
// The row is written even if ctx is already cancelled.
func (s *UploadService) fail(ctx context.Context, upload *models.Upload, started time.Time, attempts int,
	cause error, obs ProgressObserver) UploadResult {
	msg := cause.Error()

	if err := s.repomanager.Uploads(s.db).MarkFailed(context.WithoutCancel(ctx), upload.ID, msg); err != nil &&
		!errors.Is(err, common.ErrInvalidTransition) {
		s.log.Error(ctx, "could not mark upload failed", "upload_id", upload.ID, "error", err)
	}

	s.metrics.ObserveUpload(metrics.OutcomeFailed, 0, attempts, s.now().Sub(started))
	s.emit(ctx, obs, upload.ID, PhaseFailed, 0, "upload failed: "+msg)
	s.log.Error(ctx, "upload failed", "upload_id", upload.ID, "name", upload.OriginalName, "error", cause)

	return UploadResult{UploadID: upload.ID, OriginalName: upload.OriginalName, Error: msg}
}

func (s *UploadService) emit(ctx context.Context, obs ProgressObserver, uploadID string, phase ProgressPhase, pct int, msg string) {
	if obs == nil {
		return
	}
	ev := ProgressEvent{UploadID: uploadID, Phase: phase, Percent: pct, Message: msg}
	safeNotify(ctx, s.log, func() error { return obs.OnProgress(ctx, ev) })
}

// MarkForRetry moves a FAILED upload to RETRYING.
func (s *UploadService) MarkForRetry(ctx context.Context, uploadID string) error {
	if err := s.repomanager.Uploads(s.db).MarkForRetry(ctx, uploadID); err != nil {
		return fmt.Errorf("error marking upload for retry: %w", err)
	}
	return nil
}

func (s *UploadService) FailedUploads(ctx context.Context, sessionID string) ([]*models.Upload, error) {
	return s.repomanager.Uploads(s.db).ListBySession(ctx, sessionID, models.UploadFailed)
}

// PendingCount counts uploads of the session that have not finished.
func (s *UploadService) PendingCount(ctx context.Context, sessionID string) (int, error) {
	counts, err := s.repomanager.Uploads(s.db).CountByStatus(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("error counting uploads: %w", err)
	}
	n := 0
	for status, c := range counts {
		if status.IsPending() {
			n += c
		}
	}
	return n, nil
}
