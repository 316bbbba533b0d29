package storage

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/netx"
)

type AzureConfig struct {
	Account   string
	Key       string
	Container string
	// ServiceURL defaults to https://<account>.blob.core.windows.net/.
	ServiceURL string
	Validity   time.Duration
	URLExpires time.Duration
}

// Seams over the blob service calls that need a live account.
var (
	azContainerProperties = func(ctx context.Context, c *container.Client) error {
		_, err := c.GetProperties(ctx, nil)
		return err
	}
	azListPage = func(ctx context.Context, c *container.Client, opts *container.ListBlobsFlatOptions) (container.ListBlobsFlatResponse, error) {
		return c.NewListBlobsFlatPager(opts).NextPage(ctx)
	}
	azDeleteBlob = func(ctx context.Context, b *blob.Client) error {
		_, err := b.Delete(ctx, nil)
		return err
	}
	azBlobProperties = func(ctx context.Context, b *blob.Client) (blob.GetPropertiesResponse, error) {
		return b.GetProperties(ctx, nil)
	}
)

// AzureProvider stores objects as block blobs in one container. Uploads go
// through a short lived SAS URL. The container used for a call is the
// bucket id the Client resolved, so listing and deleting always agree.
type AzureProvider struct {
	cfg  AzureConfig
	http *http.Client

	mu        sync.RWMutex
	service   *service.Client
	container *container.Client
}

func NewAzureProvider(cfg AzureConfig, httpClient *http.Client) *AzureProvider {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 24 * time.Hour
	}
	if cfg.URLExpires <= 0 {
		cfg.URLExpires = 15 * time.Minute
	}
	return &AzureProvider{cfg: cfg, http: httpClient}
}

func (p *AzureProvider) Authorize(ctx context.Context) (time.Duration, error) {
	cred, err := azblob.NewSharedKeyCredential(p.cfg.Account, p.cfg.Key)
	if err != nil {
		return 0, fmt.Errorf("build shared key credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(p.cfg.ServiceURL, cred, nil)
	if err != nil {
		return 0, fmt.Errorf("create blob client: %w", err)
	}
	svc := client.ServiceClient()

	p.mu.Lock()
	p.service, p.container = svc, svc.NewContainerClient(p.cfg.Container)
	p.mu.Unlock()
	return p.cfg.Validity, nil
}

// containerFor returns the client for bucketID, the configured container
// when bucketID is empty or equal to it.
func (p *AzureProvider) containerFor(bucketID string) *container.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if bucketID == "" || bucketID == p.cfg.Container || p.service == nil {
		return p.container
	}
	return p.service.NewContainerClient(bucketID)
}

// GetBucket verifies the container exists; its name is the id.
func (p *AzureProvider) GetBucket(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = p.cfg.Container
	}
	if err := azContainerProperties(ctx, p.containerFor(name)); err != nil {
		return "", err
	}
	return name, nil
}

func (p *AzureProvider) GetUploadURL(ctx context.Context, bucketID, path, sha1Hex, mimeType string) (*UploadTarget, error) {
	expires := time.Now().Add(p.cfg.URLExpires)
	u, err := p.containerFor(bucketID).NewBlockBlobClient(path).GetSASURL(sas.BlobPermissions{Create: true, Write: true}, expires, nil)
	if err != nil {
		return nil, err
	}
	return &UploadTarget{
		URL:  u,
		Path: path,
		Headers: map[string]string{
			"x-ms-blob-type":         "BlockBlob",
			"x-ms-blob-content-type": mimeType,
			"x-ms-meta-sha1":         sha1Hex,
		},
		Expires: expires,
	}, nil
}

// UploadFile sends Content-MD5 along with the body; the service rejects the
// write when the content does not match it.
func (p *AzureProvider) UploadFile(ctx context.Context, target *UploadTarget, data []byte, onProgress netx.ProgressFunc) (*StoredObject, error) {
	sum := md5.Sum(data)
	headers := make(map[string]string, len(target.Headers)+1)
	for k, v := range target.Headers {
		headers[k] = v
	}
	headers["Content-MD5"] = base64.StdEncoding.EncodeToString(sum[:])

	h, err := netx.PutPresigned(ctx, p.http, target.URL, data, headers, onProgress)
	if err != nil {
		return nil, err
	}
	id := h.Get("x-ms-version-id")
	if id == "" {
		id = target.Path
	}
	return &StoredObject{ObjectID: id, Path: target.Path, Size: int64(len(data))}, nil
}

// ListFileNames pages with the service marker as cursor.
func (p *AzureProvider) ListFileNames(ctx context.Context, bucketID, prefix, cursor string, pageSize int) (*FilePage, error) {
	opts := &container.ListBlobsFlatOptions{
		Prefix:     to.Ptr(prefix),
		MaxResults: to.Ptr(int32(pageSize)),
	}
	if cursor != "" {
		opts.Marker = to.Ptr(cursor)
	}

	resp, err := azListPage(ctx, p.containerFor(bucketID), opts)
	if err != nil {
		return nil, err
	}

	page := &FilePage{}
	if resp.Segment != nil {
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := FileInfo{ObjectID: *item.Name, Path: *item.Name}
			if item.VersionID != nil {
				info.ObjectID = *item.VersionID
			}
			if props := item.Properties; props != nil {
				info.Size = derefInt64(props.ContentLength)
				if props.ContentType != nil {
					info.ContentType = *props.ContentType
				}
				if props.LastModified != nil {
					info.UploadedAt = *props.LastModified
				}
			}
			page.Files = append(page.Files, info)
		}
	}
	if resp.NextMarker != nil {
		page.NextCursor = *resp.NextMarker
	}
	return page, nil
}

func (p *AzureProvider) DeleteFileVersion(ctx context.Context, bucketID, objectID, path string) error {
	b := p.containerFor(bucketID).NewBlobClient(path)
	if objectID != "" && objectID != path {
		vb, err := b.WithVersionID(objectID)
		if err != nil {
			return err
		}
		b = vb
	}
	return azDeleteBlob(ctx, b)
}

func (p *AzureProvider) GetFileInfo(ctx context.Context, bucketID, path string) (*FileInfo, error) {
	resp, err := azBlobProperties(ctx, p.containerFor(bucketID).NewBlobClient(path))
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}

	info := &FileInfo{ObjectID: path, Path: path, Size: derefInt64(resp.ContentLength)}
	if resp.VersionID != nil {
		info.ObjectID = *resp.VersionID
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		info.UploadedAt = *resp.LastModified
	}
	return info, nil
}

func (p *AzureProvider) FileURL(path string) string {
	return strings.TrimSuffix(p.cfg.ServiceURL, "/") + "/" + p.cfg.Container + "/" + path
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
