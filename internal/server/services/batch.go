package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/server/conversation"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
	"github.com/google/uuid"
)

const maxPendingShown = 3

// Uploader processes one file. *UploadService implements it.
type Uploader interface {
	ProcessUpload(ctx context.Context, req UploadRequest, obs ProgressObserver) UploadResult
}

// SessionLookup resolves a session by row id. *SessionService implements it.
type SessionLookup interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
}

// BatchSummary is the outcome of a batch run. Completed and Failed hold
// original file names in processing order.
type BatchSummary struct {
	RunID       string
	SessionID   string
	Description string
	Total       int
	Completed   []string
	Failed      []string
	TotalSizeMB float64
}

func (b *BatchSummary) HasErrors() bool { return len(b.Failed) > 0 }

// BatchCoordinator drives the collect -> describe -> upload flow on top of
// the stored conversation of each user.
type BatchCoordinator struct {
	store    conversation.Store
	uploads  Uploader
	sessions SessionLookup
	log      logging.Logger
}

func NewBatchCoordinator(store conversation.Store, uploads Uploader, sessions SessionLookup, log logging.Logger) *BatchCoordinator {
	return &BatchCoordinator{
		store:    store,
		uploads:  uploads,
		sessions: sessions,
		log:      log.With("module", "batch"),
	}
}

// Start enters batch mode. When a batch is already collecting it is left
// as is and its current size is returned with active set.
func (b *BatchCoordinator) Start(ctx context.Context, userID int64) (count int, active bool, err error) {
	c, err := b.store.Load(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if c.Active == nil {
		return 0, false, common.ErrNoActiveSession
	}
	if st, ok := c.State.(conversation.BatchCollecting); ok {
		return len(st.Items), true, nil
	}

	c.State = conversation.BatchCollecting{}
	if err := b.store.Save(ctx, c); err != nil {
		return 0, false, err
	}
	b.log.Info(ctx, "batch collecting", "user_id", userID, "session_id", c.Active.SessionID)
	return 0, false, nil
}

// Collect queues item and returns the new batch size.
func (b *BatchCoordinator) Collect(ctx context.Context, userID int64, item conversation.BatchItem) (int, error) {
	c, err := b.store.Load(ctx, userID)
	if err != nil {
		return 0, err
	}
	st, ok := c.State.(conversation.BatchCollecting)
	if !ok {
		return 0, common.ErrBatchNotActive
	}

	st.Items = append(st.Items, item)
	c.State = st
	if err := b.store.Save(ctx, c); err != nil {
		return 0, err
	}
	return len(st.Items), nil
}

// End stops collecting and waits for a description. An empty batch is
// dropped and reported as ErrEmptyBatch.
func (b *BatchCoordinator) End(ctx context.Context, userID int64) (int, error) {
	c, err := b.store.Load(ctx, userID)
	if err != nil {
		return 0, err
	}
	st, ok := c.State.(conversation.BatchCollecting)
	if !ok {
		return 0, common.ErrBatchNotActive
	}

	if len(st.Items) == 0 {
		c.Reset()
		if err := b.store.Save(ctx, c); err != nil {
			return 0, err
		}
		return 0, common.ErrEmptyBatch
	}

	c.State = conversation.BatchDescription{Items: st.Items}
	if err := b.store.Save(ctx, c); err != nil {
		return 0, err
	}
	return len(st.Items), nil
}

// Cancel discards the batch and returns how many items were dropped.
func (b *BatchCoordinator) Cancel(ctx context.Context, userID int64) (int, error) {
	c, err := b.store.Load(ctx, userID)
	if err != nil {
		return 0, err
	}

	var n int
	switch st := c.State.(type) {
	case conversation.BatchCollecting:
		n = len(st.Items)
	case conversation.BatchDescription:
		n = len(st.Items)
	default:
		return 0, common.ErrBatchNotActive
	}

	c.Reset()
	if err := b.store.Save(ctx, c); err != nil {
		return 0, err
	}
	b.log.Info(ctx, "batch cancelled", "user_id", userID, "discarded", n)
	return n, nil
}

// Finalize takes the shared description and uploads the batch. The
// conversation goes back to idle before the first upload starts, so a
// repeated description message cannot run the batch twice.
func (b *BatchCoordinator) Finalize(ctx context.Context, userID int64, description string, obs BatchObserver) (*BatchSummary, error) {
	c, err := b.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	st, ok := c.State.(conversation.BatchDescription)
	if !ok {
		return nil, common.ErrBatchNotActive
	}
	description, err = NormalizeDescription(description)
	if err != nil {
		return nil, err
	}
	if c.Active == nil {
		c.Reset()
		_ = b.store.Save(ctx, c)
		return nil, common.ErrNoActiveSession
	}

	session, err := b.sessions.GetByID(ctx, c.Active.ID)
	c.Reset()
	if saveErr := b.store.Save(ctx, c); saveErr != nil {
		return nil, saveErr
	}
	if err != nil {
		return nil, fmt.Errorf("batch session: %w", err)
	}

	summary := b.RunBatch(ctx, session, userID, st.Items, obs)
	summary.Description = description
	return summary, nil
}

// RunBatch uploads items one after another. A failed item is recorded and
// the run goes on with the next one.
func (b *BatchCoordinator) RunBatch(ctx context.Context, session *models.Session, userID int64,
	items []conversation.BatchItem, obs BatchObserver) *BatchSummary {
	summary := &BatchSummary{RunID: uuid.NewString(), SessionID: session.SessionID, Total: len(items)}
	log := b.log.With("batch_id", summary.RunID)
	log.Info(ctx, "batch started", "session_id", session.SessionID, "items", len(items))

	for i, item := range items {
		pending := make([]string, 0, maxPendingShown)
		for _, next := range items[i+1:] {
			if len(pending) == maxPendingShown {
				break
			}
			pending = append(pending, next.OriginalName)
		}
		b.report(ctx, obs, BatchProgress{
			Index:     i,
			Total:     len(items),
			Completed: len(summary.Completed),
			Failed:    len(summary.Failed),
			Current:   item.OriginalName,
			Pending:   pending,
		})

		res := b.uploads.ProcessUpload(ctx, UploadRequest{
			Session:      session,
			FileRef:      item.FileRef,
			OriginalName: item.OriginalName,
			UserID:       userID,
		}, nil)

		name := res.OriginalName
		if name == "" {
			name = item.OriginalName
		}
		if res.Success {
			summary.Completed = append(summary.Completed, name)
			summary.TotalSizeMB += res.SizeMB
		} else {
			summary.Failed = append(summary.Failed, name)
			log.Warn(ctx, "batch item failed", "index", i, "name", name, "error", res.Error)
		}
	}

	b.report(ctx, obs, BatchProgress{
		Index:     len(items),
		Total:     len(items),
		Completed: len(summary.Completed),
		Failed:    len(summary.Failed),
	})
	log.Info(ctx, "batch finished", "session_id", session.SessionID,
		"completed", len(summary.Completed), "failed", len(summary.Failed), "total", summary.Total)
	return summary
}

func (b *BatchCoordinator) report(ctx context.Context, obs BatchObserver, p BatchProgress) {
	if obs == nil {
		return
	}
	safeNotify(ctx, b.log, func() error { return obs.OnBatchProgress(ctx, p) })
}
