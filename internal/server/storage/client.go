package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/timex"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

type ClientConfig struct {
	BucketName     string
	StaticBucketID string
	// RefreshMargin is subtracted from the provider's validity so the
	// authorization is renewed before it actually expires.
	RefreshMargin     time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	ListPageSize      int
	DeleteParallelism int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RefreshMargin:     time.Hour,
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		ListPageSize:      100,
		DeleteParallelism: 8,
	}
}

// UploadResult is the outcome of Client.UploadFile. Failures are reported in
// Error, never as a Go error.
type UploadResult struct {
	Success  bool
	ObjectID string
	Path     string
	URL      string
	Size     int64
	Attempts int
	Error    string
}

// Client is safe for concurrent use. The authorization and bucket id are
// cached per instance.
type Client struct {
	provider Provider
	cfg      ClientConfig
	log      logging.Logger
	now      timex.Clock

	mu         sync.Mutex
	validUntil time.Time
	bucketID   string
}

func NewClient(provider Provider, cfg ClientConfig, log logging.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = def.ListPageSize
	}
	if cfg.DeleteParallelism <= 0 {
		cfg.DeleteParallelism = def.DeleteParallelism
	}
	if cfg.RefreshMargin < 0 {
		cfg.RefreshMargin = 0
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		log:      log.With("module", "storage"),
		now:      time.Now,
	}
}

// EnsureAuthorized authorizes with the provider unless a cached
// authorization is still inside its validity window.
func (c *Client) EnsureAuthorized(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureAuthorizedLocked(ctx)
}

func (c *Client) ensureAuthorizedLocked(ctx context.Context) error {
	now := c.now()
	if !c.validUntil.IsZero() && now.Before(c.validUntil) {
		return nil
	}

	validity, err := c.provider.Authorize(ctx)
	if err != nil {
		c.validUntil = time.Time{}
		return fmt.Errorf("%w: authorize: %v", common.ErrTransientProvider, err)
	}
	c.validUntil = now.Add(validity - c.cfg.RefreshMargin)
	c.log.Debug(ctx, "storage authorized", "valid_until", c.validUntil)
	return nil
}

// BucketID resolves the bucket by name once and caches it. When the lookup
// fails the configured static id is used.
func (c *Client) BucketID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bucketID != "" {
		return c.bucketID, nil
	}
	if err := c.ensureAuthorizedLocked(ctx); err != nil {
		return "", err
	}

	id, err := c.provider.GetBucket(ctx, c.cfg.BucketName)
	if err != nil || id == "" {
		if c.cfg.StaticBucketID == "" {
			if err == nil {
				err = common.ErrorNotFound
			}
			return "", fmt.Errorf("bucket %q: %w", c.cfg.BucketName, err)
		}
		c.log.Warn(ctx, "bucket lookup failed, using configured id", "bucket", c.cfg.BucketName, "error", err)
		id = c.cfg.StaticBucketID
	}
	c.bucketID = id
	return id, nil
}

// UploadFile writes data to path. The content hash is computed once; every
// attempt asks for a fresh upload URL. onProgress receives 0-100.
func (c *Client) UploadFile(ctx context.Context, data []byte, path, mimeType string, onProgress func(percent int)) UploadResult {
	sum := sha1.Sum(data)
	hash := hex.EncodeToString(sum[:])

	var attempts int
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), retry.NewExponential(c.cfg.BackoffBase))

	var obj *StoredObject
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		o, err := c.uploadOnce(ctx, data, path, hash, mimeType, onProgress)
		if err != nil {
			c.log.Warn(ctx, "upload attempt failed", "path", path, "attempt", attempts, "error", err)
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		obj = o
		return nil
	})
	if err != nil {
		c.log.Error(ctx, "upload failed", "path", path, "attempts", attempts, "error", err)
		return UploadResult{Path: path, Attempts: attempts, Error: err.Error()}
	}

	if obj.Path == "" {
		obj.Path = path
	}
	if obj.Size == 0 {
		obj.Size = int64(len(data))
	}
	return UploadResult{
		Success:  true,
		ObjectID: obj.ObjectID,
		Path:     obj.Path,
		URL:      c.provider.FileURL(obj.Path),
		Size:     obj.Size,
		Attempts: attempts,
	}
}

func (c *Client) uploadOnce(ctx context.Context, data []byte, path, hash, mimeType string, onProgress func(int)) (*StoredObject, error) {
	if err := c.EnsureAuthorized(ctx); err != nil {
		return nil, err
	}
	bucketID, err := c.BucketID(ctx)
	if err != nil {
		return nil, err
	}

	target, err := c.provider.GetUploadURL(ctx, bucketID, path, hash, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: upload url: %v", common.ErrTransientProvider, err)
	}

	var progress func(sent, total int64)
	if onProgress != nil {
		progress = func(sent, total int64) {
			if total > 0 {
				onProgress(int(sent * 100 / total))
			}
		}
	}

	obj, err := c.provider.UploadFile(ctx, target, data, progress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransientProvider, err)
	}
	return obj, nil
}

// ListSessionFiles lists up to max files under the folder. max <= 0 lists all.
func (c *Client) ListSessionFiles(ctx context.Context, folder string, max int) ([]FileInfo, error) {
	var out []FileInfo
	err := c.walk(ctx, folderPrefix(folder), func(_ string, page *FilePage) (bool, error) {
		out = append(out, page.Files...)
		if max > 0 && len(out) >= max {
			out = out[:max]
			return false, nil
		}
		return true, nil
	})
	return out, err
}

// DeleteSessionFiles removes every object under the folder and returns how
// many were removed. Individual delete failures are logged and skipped.
func (c *Client) DeleteSessionFiles(ctx context.Context, folder string) (int, error) {
	var deleted atomic.Int64

	err := c.walk(ctx, folderPrefix(folder), func(bucketID string, page *FilePage) (bool, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.DeleteParallelism)
		for _, f := range page.Files {
			g.Go(func() error {
				if err := c.provider.DeleteFileVersion(gctx, bucketID, f.ObjectID, f.Path); err != nil {
					c.log.Warn(ctx, "delete failed", "path", f.Path, "error", err)
					return nil
				}
				deleted.Add(1)
				return nil
			})
		}
		return true, g.Wait()
	})

	n := int(deleted.Load())
	if err != nil {
		return n, err
	}
	c.log.Info(ctx, "session files deleted", "folder", folder, "count", n)
	return n, nil
}

// walk pages through the listing of the resolved bucket. fn receives the
// bucket id so follow-up calls address the same bucket.
func (c *Client) walk(ctx context.Context, prefix string, fn func(bucketID string, page *FilePage) (bool, error)) error {
	if err := c.EnsureAuthorized(ctx); err != nil {
		return err
	}
	bucketID, err := c.BucketID(ctx)
	if err != nil {
		return err
	}

	cursor := ""
	for {
		page, err := c.provider.ListFileNames(ctx, bucketID, prefix, cursor, c.cfg.ListPageSize)
		if err != nil {
			return fmt.Errorf("%w: list: %v", common.ErrTransientProvider, err)
		}
		more, err := fn(bucketID, page)
		if err != nil {
			return err
		}
		if !more || page.NextCursor == "" || page.NextCursor == cursor {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) GetFileInfo(ctx context.Context, path string) (*FileInfo, error) {
	if err := c.EnsureAuthorized(ctx); err != nil {
		return nil, err
	}
	bucketID, err := c.BucketID(ctx)
	if err != nil {
		return nil, err
	}
	info, err := c.provider.GetFileInfo(ctx, bucketID, path)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: file info: %v", common.ErrTransientProvider, err)
	}
	return info, nil
}

func (c *Client) FileURL(path string) string {
	return c.provider.FileURL(path)
}

func folderPrefix(folder string) string {
	return strings.TrimSuffix(SanitizeFolder(folder), "/") + "/"
}
