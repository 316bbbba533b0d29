// Package telegram fetches chat attachments from the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FileResolver turns a file id into a downloadable file path.
// *tgbotapi.BotAPI implements it.
type FileResolver interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// RemoteFile is a downloaded attachment.
type RemoteFile struct {
	Data     []byte
	Size     int64
	MimeType string
	Path     string
}

type Config struct {
	Token string
	// FileEndpoint is a format string taking the token and the file path.
	FileEndpoint string
	// MaxDownloadBytes caps how much of a single file is read into memory.
	MaxDownloadBytes int64
}

type FileSource struct {
	resolver FileResolver
	cfg      Config
	http     *http.Client
	log      logging.Logger
}

// NewBot connects to the Bot API. It performs a getMe call.
func NewBot(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
}

func NewFileSource(resolver FileResolver, cfg Config, httpClient *http.Client, log logging.Logger) *FileSource {
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 2 * common.MaxFileSizeBytes
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &FileSource{
		resolver: resolver,
		cfg:      cfg,
		http:     httpClient,
		log:      log.With("module", "telegram"),
	}
}

// Fetch resolves fileRef and downloads its content.
func (s *FileSource) Fetch(ctx context.Context, fileRef string) (*RemoteFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := s.resolver.GetFile(tgbotapi.FileConfig{FileID: fileRef})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("get file: empty file path")
	}

	url := fmt.Sprintf(s.cfg.FileEndpoint, s.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxDownloadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", common.ErrValidation, s.cfg.MaxDownloadBytes)
	}

	s.log.Debug(ctx, "file downloaded", "path", file.FilePath, "size", len(data))

	return &RemoteFile{
		Data:     data,
		Size:     int64(len(data)),
		MimeType: MimeTypeFromPath(file.FilePath),
		Path:     file.FilePath,
	}, nil
}

// MimeTypeFromPath infers the image type from the extension; anything
// unrecognised is treated as JPEG.
func MimeTypeFromPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
