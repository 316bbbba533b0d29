// Package storage uploads, lists and deletes session files in an object
// storage bucket. Client adds authorization caching, retries and parallel
// deletion on top of a backend Provider.
package storage

import (
	"context"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/netx"
)

// UploadTarget is a one-shot destination for a single object write.
type UploadTarget struct {
	URL     string
	Path    string
	Headers map[string]string
	Expires time.Time
}

// StoredObject identifies an object after a successful write.
type StoredObject struct {
	ObjectID string
	Path     string
	Size     int64
}

type FileInfo struct {
	ObjectID    string
	Path        string
	Size        int64
	ContentType string
	UploadedAt  time.Time
}

// FilePage is one page of a listing. An empty NextCursor means the listing
// is complete.
type FilePage struct {
	Files      []FileInfo
	NextCursor string
}

// Provider is an object storage backend.
type Provider interface {
	// Authorize (re)establishes credentials and reports how long they stay valid.
	Authorize(ctx context.Context) (time.Duration, error)
	GetBucket(ctx context.Context, name string) (string, error)
	GetUploadURL(ctx context.Context, bucketID, path, sha1Hex, mimeType string) (*UploadTarget, error)
	UploadFile(ctx context.Context, target *UploadTarget, data []byte, onProgress netx.ProgressFunc) (*StoredObject, error)
	ListFileNames(ctx context.Context, bucketID, prefix, cursor string, pageSize int) (*FilePage, error)
	DeleteFileVersion(ctx context.Context, bucketID, objectID, path string) error
	GetFileInfo(ctx context.Context, bucketID, path string) (*FileInfo, error)
	FileURL(path string) string
}
