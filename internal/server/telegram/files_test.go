package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	file tgbotapi.File
	err  error
	got  tgbotapi.FileConfig
}

func (f *fakeResolver) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	f.got = cfg
	return f.file, f.err
}

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/botTOKEN/photos/file_1.png" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFetch_Success(t *testing.T) {
	ts := newServer(t, http.StatusOK, "png-bytes")
	res := &fakeResolver{file: tgbotapi.File{FileID: "AgAD", FilePath: "photos/file_1.png"}}
	src := NewFileSource(res, Config{Token: "TOKEN", FileEndpoint: ts.URL + "/file/bot%s/%s"}, ts.Client(), logging.Discard())

	f, err := src.Fetch(context.Background(), "AgAD")
	require.NoError(t, err)
	assert.Equal(t, "AgAD", res.got.FileID)
	assert.Equal(t, []byte("png-bytes"), f.Data)
	assert.Equal(t, int64(9), f.Size)
	assert.Equal(t, "image/png", f.MimeType)
	assert.Equal(t, "photos/file_1.png", f.Path)
}

func TestFetch_ResolveError(t *testing.T) {
	src := NewFileSource(&fakeResolver{err: errors.New("file is too big")}, Config{Token: "T"}, nil, logging.Discard())

	_, err := src.Fetch(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file is too big")
}

func TestFetch_HTTPError(t *testing.T) {
	ts := newServer(t, http.StatusBadGateway, "")
	res := &fakeResolver{file: tgbotapi.File{FilePath: "photos/file_1.png"}}
	src := NewFileSource(res, Config{Token: "TOKEN", FileEndpoint: ts.URL + "/file/bot%s/%s"}, ts.Client(), logging.Discard())

	_, err := src.Fetch(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetch_TooLarge(t *testing.T) {
	ts := newServer(t, http.StatusOK, strings.Repeat("a", 11))
	res := &fakeResolver{file: tgbotapi.File{FilePath: "photos/file_1.png"}}
	src := NewFileSource(res, Config{Token: "TOKEN", FileEndpoint: ts.URL + "/file/bot%s/%s", MaxDownloadBytes: 10}, ts.Client(), logging.Discard())

	_, err := src.Fetch(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestFetch_CanceledContext(t *testing.T) {
	res := &fakeResolver{}
	src := NewFileSource(res, Config{}, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Fetch(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.got.FileID, "resolver must not be called")
}

func TestMimeTypeFromPath(t *testing.T) {
	assert.Equal(t, "image/png", MimeTypeFromPath("a/b.PNG"))
	assert.Equal(t, "image/gif", MimeTypeFromPath("b.gif"))
	assert.Equal(t, "image/webp", MimeTypeFromPath("b.webp"))
	assert.Equal(t, "image/jpeg", MimeTypeFromPath("b.jpg"))
	assert.Equal(t, "image/jpeg", MimeTypeFromPath("noext"))
}
