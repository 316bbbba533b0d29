package services

import (
	"context"

	"github.com/dmitrijs2005/snapvault/internal/logging"
)

type ProgressPhase string

const (
	PhaseDownloading ProgressPhase = "downloading"
	PhaseUploading   ProgressPhase = "uploading"
	PhaseFinalizing  ProgressPhase = "finalizing"
	PhaseCompleted   ProgressPhase = "completed"
	PhaseFailed      ProgressPhase = "failed"
)

// ProgressEvent is emitted at every step of a single upload. Percent runs
// 0-30 while downloading, 30-90 while storing and 90-100 while finalizing.
type ProgressEvent struct {
	UploadID string
	Phase    ProgressPhase
	Percent  int
	Message  string
}

// ProgressObserver receives upload progress. Errors and panics raised by an
// observer are logged and otherwise ignored.
type ProgressObserver interface {
	OnProgress(ctx context.Context, ev ProgressEvent) error
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(ctx context.Context, ev ProgressEvent) error

func (f ProgressFunc) OnProgress(ctx context.Context, ev ProgressEvent) error {
	return f(ctx, ev)
}

// BatchProgress is emitted before each batch item is processed and once
// more when the batch is done.
type BatchProgress struct {
	Index     int
	Total     int
	Completed int
	Failed    int
	Current   string
	// Pending holds at most the next three names still waiting.
	Pending []string
}

type BatchObserver interface {
	OnBatchProgress(ctx context.Context, p BatchProgress) error
}

type BatchProgressFunc func(ctx context.Context, p BatchProgress) error

func (f BatchProgressFunc) OnBatchProgress(ctx context.Context, p BatchProgress) error {
	return f(ctx, p)
}

// safeNotify calls fn and swallows whatever it returns or raises.
func safeNotify(ctx context.Context, log logging.Logger, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(ctx, "progress observer panicked", "panic", r)
		}
	}()
	if err := fn(); err != nil {
		log.Debug(ctx, "progress observer failed", "error", err)
	}
}
