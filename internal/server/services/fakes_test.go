package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/cryptox"
	"github.com/dmitrijs2005/snapvault/internal/dbx"
	"github.com/dmitrijs2005/snapvault/internal/netx"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/accesslocks"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/admins"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/uploads"
	"github.com/dmitrijs2005/snapvault/internal/server/storage"
	"github.com/dmitrijs2005/snapvault/internal/server/telegram"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// expectTx registers n begin/commit pairs.
func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func newTestVault(t *testing.T) *cryptox.Vault {
	t.Helper()
	v, err := cryptox.NewVault(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return v
}

// counterValue sums the samples of the named counter family in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue metric
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- in-memory repositories ---

type memStore struct {
	mu       sync.Mutex
	nextID   int
	sessions map[string]*models.Session
	uploads  map[string]*models.Upload
	history  map[string][]models.UploadStatus
	locks    map[string]*models.AccessLock
	admins   map[int64]*models.AdminCredential

	// failures maps "Repo.Method" to an error returned by that call.
	failures map[string]error
	calls    map[string]int
	lastPage [2]int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[string]*models.Session{},
		uploads:  map[string]*models.Upload{},
		history:  map[string][]models.UploadStatus{},
		locks:    map[string]*models.AccessLock{},
		admins:   map[int64]*models.AdminCredential{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// call records the invocation and returns the injected failure, if any.
// The caller must hold mu.
func (m *memStore) call(name string) error {
	m.calls[name]++
	return m.failures[name]
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) addSession(s models.Session) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.id("s")
	}
	if s.Status == "" {
		s.Status = models.SessionActive
	}
	m.sessions[s.ID] = &s
	return &s
}

func (m *memStore) session(id string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[id]
}

func (m *memStore) upload(id string) models.Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.uploads[id]
}

func (m *memStore) statusTrail(id string) []models.UploadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UploadStatus(nil), m.history[id]...)
}

type fakeManager struct{ st *memStore }

func (f *fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeManager) Sessions(dbx.DBTX) sessions.Repository { return &fakeSessions{f.st} }
func (f *fakeManager) Uploads(dbx.DBTX) uploads.Repository { return &fakeUploads{f.st} }
func (f *fakeManager) AccessLocks(dbx.DBTX) accesslocks.Repository { return &fakeLocks{f.st} }
func (f *fakeManager) Admins(dbx.DBTX) admins.Repository { return &fakeAdmins{f.st} }

type fakeSessions struct{ st *memStore }

func (r *fakeSessions) Create(ctx context.Context, s *models.Session) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.call("Sessions.Create"); err != nil {
		return err
	}
	for _, e := range r.st.sessions {
		if e.SessionID == s.SessionID ||
			(e.Prefix == s.Prefix && e.DateCode == s.DateCode && e.SequenceNumber == s.SequenceNumber) {
			return fmt.Errorf("session %s: %w", s.SessionID, common.ErrAlreadyExists)
		}
	}
	s.ID = r.st.id("s")
	s.CreatedAt = time.Now()
	cp := *s
	r.st.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSessions) CountByPrefixAndDate(ctx context.Context, prefix, dateCode string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.call("Sessions.CountByPrefixAndDate"); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range r.st.sessions {
		if e.Prefix == prefix && e.DateCode == dateCode {
			n++
		}
	}
	return n, nil
}

func (r *fakeSessions) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessions) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, s := range r.st.sessions {
		if s.SessionID == sessionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeSessions) ListActive(ctx context.Context) ([]*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Session
	for _, s := range r.st.sessions {
		if s.Status == models.SessionActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeSessions) ListPaged(ctx context.Context, page, pageSize int) (*models.SessionPage, error) {
	r.st.mu.Lock()
	r.st.lastPage = [2]int{page, pageSize}
	total := len(r.st.sessions)
	r.st.mu.Unlock()
	return &models.SessionPage{Total: total, CurrentPage: page, TotalPages: (total + pageSize - 1) / pageSize}, nil
}

func (r *fakeSessions) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok {
		return common.ErrorNotFound
	}
	s.Status = status
	return nil
}

func (r *fakeSessions) IncrementStats(ctx context.Context, id string, deltaFiles int, deltaSizeMB float64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.call("Sessions.IncrementStats"); err != nil {
		return err
	}
	s, ok := r.st.sessions[id]
	if !ok {
		return common.ErrorNotFound
	}
	s.TotalFiles += deltaFiles
	s.TotalSizeMB += deltaSizeMB
	return nil
}

func (r *fakeSessions) Delete(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.sessions[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.st.sessions, id)
	for uid, u := range r.st.uploads {
		if u.SessionID == id {
			delete(r.st.uploads, uid)
		}
	}
	return nil
}

type fakeUploads struct{ st *memStore }

func (r *fakeUploads) Create(ctx context.Context, u *models.Upload) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.call("Uploads.Create"); err != nil {
		return err
	}
	if u.Status == "" {
		u.Status = models.UploadPending
	}
	u.ID = r.st.id("u")
	u.CreatedAt = time.Now()
	cp := *u
	r.st.uploads[u.ID] = &cp
	r.st.history[u.ID] = []models.UploadStatus{u.Status}
	return nil
}

func (r *fakeUploads) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.uploads[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

// set moves u to status when its current status is one of from.
// The caller must hold mu.
func (r *fakeUploads) set(id string, to models.UploadStatus, from ...models.UploadStatus) (*models.Upload, error) {
	u, ok := r.st.uploads[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	for _, f := range from {
		if u.Status == f {
			u.Status = to
			r.st.history[id] = append(r.st.history[id], to)
			return u, nil
		}
	}
	return nil, common.ErrInvalidTransition
}

func (r *fakeUploads) Transition(ctx context.Context, id string, from, to models.UploadStatus) error {
	if !from.CanTransition(to) {
		return common.ErrInvalidTransition
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	_, err := r.set(id, to, from)
	return err
}

func (r *fakeUploads) MarkCompleted(ctx context.Context, id string, c models.UploadCompletion) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, err := r.set(id, models.UploadCompleted, models.UploadUploading)
	if err != nil {
		return err
	}
	u.StoredPath = c.StoredPath
	u.FileSizeMB = c.FileSizeMB
	u.StorageObjectID = c.StorageObjectID
	u.StorageURL = c.StorageURL
	at := c.UploadedAt
	u.UploadedAt = &at
	return nil
}

func (r *fakeUploads) MarkFailed(ctx context.Context, id string, message string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, err := r.set(id, models.UploadFailed, models.UploadPending, models.UploadUploading, models.UploadRetrying)
	if err != nil {
		return err
	}
	u.ErrorMessage = &message
	return nil
}

func (r *fakeUploads) MarkForRetry(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, err := r.set(id, models.UploadRetrying, models.UploadFailed)
	if err != nil {
		return err
	}
	u.ErrorMessage = nil
	return nil
}

func (r *fakeUploads) CountByName(ctx context.Context, sessionID, originalName, excludeID string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n := 0
	for _, u := range r.st.uploads {
		if u.SessionID == sessionID && u.OriginalName == originalName && u.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (r *fakeUploads) CountByStatus(ctx context.Context, sessionID string) (map[models.UploadStatus]int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := map[models.UploadStatus]int{}
	for _, u := range r.st.uploads {
		if u.SessionID == sessionID {
			out[u.Status]++
		}
	}
	return out, nil
}

func (r *fakeUploads) ListBySession(ctx context.Context, sessionID string, status ...models.UploadStatus) ([]*models.Upload, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Upload
	for _, u := range r.st.uploads {
		if u.SessionID != sessionID {
			continue
		}
		if len(status) > 0 && !containsStatus(status, u.Status) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsStatus(list []models.UploadStatus, s models.UploadStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeLocks struct{ st *memStore }

func lockKey(sessionID string, userID int64) string {
	return fmt.Sprintf("%s|%d", sessionID, userID)
}

func (r *fakeLocks) Get(ctx context.Context, sessionID string, userID int64) (*models.AccessLock, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	l, ok := r.st.locks[lockKey(sessionID, userID)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeLocks) GetForUpdate(ctx context.Context, sessionID string, userID int64) (*models.AccessLock, error) {
	return r.Get(ctx, sessionID, userID)
}

func (r *fakeLocks) Upsert(ctx context.Context, lock *models.AccessLock) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *lock
	r.st.locks[lockKey(lock.SessionID, lock.UserID)] = &cp
	return nil
}

func (r *fakeLocks) Delete(ctx context.Context, sessionID string, userID int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.locks, lockKey(sessionID, userID))
	return nil
}

type fakeAdmins struct{ st *memStore }

func (r *fakeAdmins) Create(ctx context.Context, c *models.AdminCredential) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.admins[c.UserID]; ok {
		return common.ErrAlreadyExists
	}
	c.ID = r.st.id("a")
	cp := *c
	r.st.admins[c.UserID] = &cp
	return nil
}

func (r *fakeAdmins) GetByUserID(ctx context.Context, userID int64) (*models.AdminCredential, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	a, ok := r.st.admins[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAdmins) List(ctx context.Context) ([]*models.AdminCredential, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.AdminCredential
	for _, a := range r.st.admins {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// --- collaborators of the upload pipeline ---

type fakeFiles struct {
	mu    sync.Mutex
	files map[string]*fetchResult
	calls int
}

type fetchResult struct {
	data []byte
	mime string
	err  error
}

func (f *fakeFiles) add(ref string, data []byte, mime string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = map[string]*fetchResult{}
	}
	f.files[ref] = &fetchResult{data: data, mime: mime}
}

func (f *fakeFiles) fail(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = map[string]*fetchResult{}
	}
	f.files[ref] = &fetchResult{err: err}
}

func (f *fakeFiles) Fetch(ctx context.Context, fileRef string) (*telegram.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, ok := f.files[fileRef]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileRef, common.ErrorNotFound)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &telegram.RemoteFile{Data: r.data, Size: int64(len(r.data)), MimeType: r.mime, Path: "photos/" + fileRef}, nil
}

// memProvider is an in-memory storage.Provider. Writes to a path containing
// one of the failing substrings always error.
type memProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
	failing []string
	uploads int
}

func newMemProvider(failing ...string) *memProvider {
	return &memProvider{objects: map[string][]byte{}, failing: failing}
}

func (p *memProvider) Authorize(ctx context.Context) (time.Duration, error) {
	return 24 * time.Hour, nil
}

func (p *memProvider) GetBucket(ctx context.Context, name string) (string, error) {
	return "bucket-1", nil
}

func (p *memProvider) GetUploadURL(ctx context.Context, bucketID, path, sha1Hex, mimeType string) (*storage.UploadTarget, error) {
	return &storage.UploadTarget{URL: "https://upload.test/" + path, Path: path}, nil
}

func (p *memProvider) UploadFile(ctx context.Context, target *storage.UploadTarget, data []byte, onProgress netx.ProgressFunc) (*storage.StoredObject, error) {
	p.mu.Lock()
	p.uploads++
	for _, f := range p.failing {
		if strings.Contains(target.Path, f) {
			p.mu.Unlock()
			return nil, fmt.Errorf("503 service unavailable")
		}
	}
	p.objects[target.Path] = data
	n := len(p.objects)
	p.mu.Unlock()

	if onProgress != nil {
		total := int64(len(data))
		onProgress(total/2, total)
		onProgress(total, total)
	}
	return &storage.StoredObject{ObjectID: fmt.Sprintf("obj-%d", n), Path: target.Path, Size: int64(len(data))}, nil
}

func (p *memProvider) ListFileNames(ctx context.Context, bucketID, prefix, cursor string, pageSize int) (*storage.FilePage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page := &storage.FilePage{}
	for path, data := range p.objects {
		if strings.HasPrefix(path, prefix) {
			page.Files = append(page.Files, storage.FileInfo{ObjectID: path, Path: path, Size: int64(len(data))})
		}
	}
	return page, nil
}

func (p *memProvider) DeleteFileVersion(ctx context.Context, bucketID, objectID, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, path)
	return nil
}

func (p *memProvider) GetFileInfo(ctx context.Context, bucketID, path string) (*storage.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[path]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &storage.FileInfo{ObjectID: path, Path: path, Size: int64(len(data))}, nil
}

func (p *memProvider) FileURL(path string) string {
	return "https://cdn.test/" + path
}

func (p *memProvider) stored() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.objects))
	for k := range p.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeSessionFiles struct {
	removed int
	err     error
	folders []string
}

func (f *fakeSessionFiles) DeleteSessionFiles(ctx context.Context, folder string) (int, error) {
	f.folders = append(f.folders, folder)
	return f.removed, f.err
}

func jpeg(size int) []byte {
	return bytes.Repeat([]byte{0xff}, size)
}
