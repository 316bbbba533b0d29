// Package models defines the records persisted by the server.
package models

import "time"

type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionClosed   SessionStatus = "CLOSED"
	SessionArchived SessionStatus = "ARCHIVED"
)

// Session is a named container for uploads, e.g. PROJ-0314-02.
type Session struct {
	ID                 string        `db:"id"`
	SessionID          string        `db:"session_id"`
	Prefix             string        `db:"prefix"`
	DateCode           string        `db:"date_code"`
	SequenceNumber     string        `db:"sequence_number"`
	Description        string        `db:"description"`
	EncryptedAccessKey string        `db:"encrypted_access_key"`
	Status             SessionStatus `db:"status"`
	TotalFiles         int           `db:"total_files"`
	TotalSizeMB        float64       `db:"total_size_mb"`
	StorageFolderPath  string        `db:"storage_folder_path"`
	CreatedBy          int64         `db:"created_by"`
	CreatedAt          time.Time     `db:"created_at"`
}

func (s *Session) IsActive() bool {
	return s != nil && s.Status == SessionActive
}

// SessionSummary is a Session row with its upload count, used for listings.
type SessionSummary struct {
	Session
	UploadCount int
}

type SessionPage struct {
	Sessions    []*SessionSummary
	Total       int
	TotalPages  int
	CurrentPage int
}

type SessionStats struct {
	TotalFiles   int
	TotalSizeMB  float64
	SuccessCount int
	FailedCount  int
	PendingCount int
}
