package storage

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/netx"
)

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicBaseURL prefixes object paths in FileURL. Defaults to
	// "<endpoint>/<bucket>".
	PublicBaseURL string
	// Validity is how long an authorization is treated as fresh.
	Validity   time.Duration
	URLExpires time.Duration
}

type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3Clients = func(cfg aws.Config, optFns ...func(*s3.Options)) (s3API, s3Presigner) {
		c := s3.NewFromConfig(cfg, optFns...)
		return c, s3.NewPresignClient(c)
	}
)

// S3Provider talks to any S3 compatible endpoint, Backblaze B2 included.
// Authorize may swap the SDK clients while requests are in flight, so they
// are read through clients().
type S3Provider struct {
	cfg  S3Config
	http *http.Client

	mu        sync.RWMutex
	api       s3API
	presigner s3Presigner
}

func NewS3Provider(cfg S3Config, httpClient *http.Client) *S3Provider {
	if cfg.Validity <= 0 {
		cfg.Validity = 24 * time.Hour
	}
	if cfg.URLExpires <= 0 {
		cfg.URLExpires = 15 * time.Minute
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3Provider{cfg: cfg, http: httpClient}
}

// Authorize builds the SDK clients from static credentials.
func (p *S3Provider) Authorize(ctx context.Context) (time.Duration, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(p.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(p.cfg.AccessKey, p.cfg.SecretKey, "")),
	)
	if err != nil {
		return 0, err
	}

	api, presigner := newS3Clients(awsCfg, func(o *s3.Options) {
		if p.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.cfg.Endpoint)
			o.UsePathStyle = true
		}
		if p.http != nil {
			o.HTTPClient = p.http
		}
	})

	p.mu.Lock()
	p.api, p.presigner = api, presigner
	p.mu.Unlock()
	return p.cfg.Validity, nil
}

func (p *S3Provider) clients() (s3API, s3Presigner) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.api, p.presigner
}

// GetBucket checks the bucket is reachable. S3 addresses buckets by name, so
// the name is also the id.
func (p *S3Provider) GetBucket(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = p.cfg.Bucket
	}
	api, _ := p.clients()
	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); err != nil {
		return "", err
	}
	return name, nil
}

// GetUploadURL presigns a PUT bound to the content type and SHA-1 checksum.
func (p *S3Provider) GetUploadURL(ctx context.Context, bucketID, path, sha1Hex, mimeType string) (*UploadTarget, error) {
	raw, err := hex.DecodeString(sha1Hex)
	if err != nil {
		return nil, fmt.Errorf("bad sha1: %w", err)
	}

	_, presigner := p.clients()
	req, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(bucketID),
		Key:          aws.String(path),
		ContentType:  aws.String(mimeType),
		ChecksumSHA1: aws.String(base64.StdEncoding.EncodeToString(raw)),
	}, s3.WithPresignExpires(p.cfg.URLExpires))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if strings.EqualFold(k, "Host") || len(v) == 0 {
			continue
		}
		headers[k] = v[0]
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = mimeType
	}

	return &UploadTarget{
		URL:     req.URL,
		Path:    path,
		Headers: headers,
		Expires: time.Now().Add(p.cfg.URLExpires),
	}, nil
}

func (p *S3Provider) UploadFile(ctx context.Context, target *UploadTarget, data []byte, onProgress netx.ProgressFunc) (*StoredObject, error) {
	h, err := netx.PutPresigned(ctx, p.http, target.URL, data, target.Headers, onProgress)
	if err != nil {
		return nil, err
	}

	id := h.Get("x-amz-version-id")
	if id == "" {
		id = target.Path
	}
	return &StoredObject{ObjectID: id, Path: target.Path, Size: int64(len(data))}, nil
}

// ListFileNames pages with the continuation token as cursor.
func (p *S3Provider) ListFileNames(ctx context.Context, bucketID, prefix, cursor string, pageSize int) (*FilePage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucketID),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}

	api, _ := p.clients()
	out, err := api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, err
	}

	page := &FilePage{}
	for _, obj := range out.Contents {
		page.Files = append(page.Files, FileInfo{
			ObjectID:   aws.ToString(obj.Key),
			Path:       aws.ToString(obj.Key),
			Size:       aws.ToInt64(obj.Size),
			UploadedAt: aws.ToTime(obj.LastModified),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextCursor = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// DeleteFileVersion deletes a specific version when objectID is a version id,
// otherwise the current object at path.
func (p *S3Provider) DeleteFileVersion(ctx context.Context, bucketID, objectID, path string) error {
	if bucketID == "" {
		bucketID = p.cfg.Bucket
	}
	in := &s3.DeleteObjectInput{Bucket: aws.String(bucketID), Key: aws.String(path)}
	if objectID != "" && objectID != path {
		in.VersionId = aws.String(objectID)
	}
	api, _ := p.clients()
	_, err := api.DeleteObject(ctx, in)
	return err
}

func (p *S3Provider) GetFileInfo(ctx context.Context, bucketID, path string) (*FileInfo, error) {
	api, _ := p.clients()
	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucketID), Key: aws.String(path)})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}

	id := aws.ToString(out.VersionId)
	if id == "" {
		id = path
	}
	return &FileInfo{
		ObjectID:    id,
		Path:        path,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		UploadedAt:  aws.ToTime(out.LastModified),
	}, nil
}

func (p *S3Provider) FileURL(path string) string {
	return strings.TrimSuffix(p.cfg.PublicBaseURL, "/") + "/" + path
}
