package models

import "time"

type UploadStatus string

const (
	UploadPending   UploadStatus = "PENDING"
	UploadUploading UploadStatus = "UPLOADING"
	UploadCompleted UploadStatus = "COMPLETED"
	UploadFailed    UploadStatus = "FAILED"
	UploadRetrying  UploadStatus = "RETRYING"
)

var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadPending:   {UploadUploading, UploadFailed},
	UploadUploading: {UploadCompleted, UploadFailed},
	UploadFailed:    {UploadRetrying},
	UploadRetrying:  {UploadUploading, UploadFailed},
}

// CanTransition reports whether an upload in status s may move to next.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	for _, allowed := range uploadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsPending reports whether the upload has not reached a terminal status.
func (s UploadStatus) IsPending() bool {
	return s == UploadPending || s == UploadUploading || s == UploadRetrying
}

// Upload is a single file transfer attempt record within a session.
type Upload struct {
	ID              string       `db:"id"`
	SessionID       string       `db:"session_id"`
	OriginalName    string       `db:"original_name"`
	StoredPath      string       `db:"stored_path"`
	FileSizeMB      float64      `db:"file_size_mb"`
	StorageObjectID string       `db:"storage_object_id"`
	StorageURL      string       `db:"storage_url"`
	Status          UploadStatus `db:"upload_status"`
	ErrorMessage    *string      `db:"error_message"`
	UploadedBy      int64        `db:"uploaded_by"`
	CreatedAt       time.Time    `db:"created_at"`
	UploadedAt      *time.Time   `db:"uploaded_at"`
}

// UploadCompletion carries the storage outcome of a successful transfer.
type UploadCompletion struct {
	StoredPath      string
	FileSizeMB      float64
	StorageObjectID string
	StorageURL      string
	UploadedAt      time.Time
}
