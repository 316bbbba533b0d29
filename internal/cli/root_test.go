package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type fakeSessions struct {
	byCode  map[string]*models.Session
	status  map[string]models.SessionStatus
	purged  []string
	created []string
	master  string
	key     string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		byCode: map[string]*models.Session{
			"PRJ-0314-01": {ID: "row-1", SessionID: "PRJ-0314-01", Status: models.SessionActive, Description: "Roof", TotalFiles: 3, TotalSizeMB: 1.5},
		},
		status: map[string]models.SessionStatus{},
		master: "MASTERKEY123",
		key:    "ABC:DEF:GHI",
	}
}

func (f *fakeSessions) CreateSession(ctx context.Context, creator int64, prefix, description string) (*models.Session, string, error) {
	if prefix == "X" {
		return nil, "", common.ErrValidation
	}
	code := strings.ToUpper(prefix) + "-0314-01"
	f.created = append(f.created, code)
	return &models.Session{SessionID: code, StorageFolderPath: code + "-" + description}, f.key, nil
}

func (f *fakeSessions) ListPaged(ctx context.Context, page, pageSize int) (*models.SessionPage, error) {
	var list []*models.SessionSummary
	for _, s := range f.byCode {
		list = append(list, &models.SessionSummary{Session: *s, UploadCount: 4})
	}
	return &models.SessionPage{Sessions: list, Total: len(list), TotalPages: 1, CurrentPage: page}, nil
}

func (f *fakeSessions) GetBySessionID(ctx context.Context, code string) (*models.Session, error) {
	s, ok := f.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return s, nil
}

func (f *fakeSessions) Close(ctx context.Context, id string) error {
	f.status[id] = models.SessionClosed
	return nil
}

func (f *fakeSessions) Archive(ctx context.Context, id string) error {
	f.status[id] = models.SessionArchived
	return nil
}

func (f *fakeSessions) GetStats(ctx context.Context, id string) (*models.SessionStats, error) {
	return &models.SessionStats{TotalFiles: 3, TotalSizeMB: 1.5, SuccessCount: 3, FailedCount: 1, PendingCount: 2}, nil
}

func (f *fakeSessions) DeleteSessionAndFiles(ctx context.Context, id string) (int, error) {
	f.purged = append(f.purged, id)
	return 7, nil
}

func (f *fakeSessions) RevealAccessKey(ctx context.Context, admin int64, master, code string) (string, error) {
	if admin != 1 || master != f.master {
		return "", common.ErrorUnauthorized
	}
	return f.key, nil
}

type fakeSeeder struct{ existing map[int64]bool }

func (f *fakeSeeder) SeedAdmin(ctx context.Context, id int64) (string, bool, error) {
	if f.existing[id] {
		return "", false, nil
	}
	f.existing[id] = true
	return "NEWMASTERKEY", true, nil
}

type harness struct {
	sessions *fakeSessions
	seeder   *fakeSeeder
	closed   int
	adminIDs []int64
}

func newHarness() *harness {
	return &harness{sessions: newFakeSessions(), seeder: &fakeSeeder{existing: map[int64]bool{}}}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(ctx context.Context, path string) (*Backend, error) {
		return &Backend{
			Sessions: h.sessions,
			Admins:   h.seeder,
			AdminIDs: h.adminIDs,
			Close:    func() error { h.closed++; return nil },
		}, nil
	})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionCreate(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "", "session", "create", "--prefix", "prj", "--description", "Roof", "--created-by", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "session:    PRJ-0314-01")
	assert.Contains(t, out, "access key: ABC:DEF:GHI")
	assert.Equal(t, 1, h.closed)

	_, err = h.run(t, "", "session", "create", "--prefix", "X", "--description", "d")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = h.run(t, "", "session", "create", "--prefix", "PRJ")
	require.Error(t, err)
}

func TestSessionList(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "", "session", "list", "--page", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "PRJ-0314-01")
	assert.Contains(t, out, "1.50")
	assert.Contains(t, out, "page 2 of 1, 1 sessions")
}

func TestSessionCloseAndArchive(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "", "session", "close", "prj-0314-01")
	require.NoError(t, err)
	assert.Contains(t, out, "PRJ-0314-01: close done")
	assert.Equal(t, models.SessionClosed, h.sessions.status["row-1"])

	_, err = h.run(t, "", "session", "archive", "PRJ-0314-01")
	require.NoError(t, err)
	assert.Equal(t, models.SessionArchived, h.sessions.status["row-1"])

	_, err = h.run(t, "", "session", "close", "PRJ-0314-09")
	require.ErrorContains(t, err, "not found")

	_, err = h.run(t, "", "session", "close")
	require.Error(t, err)
}

func TestSessionStats(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "", "session", "stats", "PRJ-0314-01")
	require.NoError(t, err)
	for _, want := range []string{"completed: 3", "failed:    1", "pending:   2", "size:      1.50 MB"} {
		assert.Contains(t, out, want)
	}
}

func TestSessionReveal(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "MASTERKEY123\n", "session", "reveal", "PRJ-0314-01", "--admin", "1")
	require.NoError(t, err)
	assert.Equal(t, "ABC:DEF:GHI\n", out)

	_, err = h.run(t, "WRONG\n", "session", "reveal", "PRJ-0314-01", "--admin", "1")
	require.EqualError(t, err, "master key rejected")

	_, err = h.run(t, "", "session", "reveal", "PRJ-0314-01")
	require.Error(t, err)
}

func TestSessionPurge(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "nope\n", "session", "purge", "PRJ-0314-01")
	require.EqualError(t, err, "purge cancelled")
	assert.Empty(t, h.sessions.purged)

	out, err := h.run(t, "PRJ-0314-01\n", "session", "purge", "PRJ-0314-01")
	require.NoError(t, err)
	assert.Contains(t, out, "PRJ-0314-01 purged, 7 files removed")

	_, err = h.run(t, "", "session", "purge", "PRJ-0314-01", "--yes")
	require.NoError(t, err)
	assert.Equal(t, []string{"row-1", "row-1"}, h.sessions.purged)
}

func TestAdminSeed(t *testing.T) {
	h := newHarness()
	h.seeder.existing[2] = true

	out, err := h.run(t, "", "admin", "seed", "--user", "1", "--user", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "1\tcreated\tNEWMASTERKEY")
	assert.Contains(t, out, "2\texists")

	_, err = h.run(t, "", "admin", "seed")
	require.ErrorContains(t, err, "TELEGRAM_ADMIN_IDS")

	h.adminIDs = []int64{3}
	out, err = h.run(t, "", "admin", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "3\tcreated")
}

func TestOpenerError(t *testing.T) {
	root := NewRootCommand(func(ctx context.Context, path string) (*Backend, error) {
		assert.Equal(t, "conf.json", path)
		return nil, errors.New("db unreachable")
	})
	root.SetArgs([]string{"-c", "conf.json", "session", "list"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.EqualError(t, err, "db unreachable")
}

func TestReadLine(t *testing.T) {
	got, err := readLine(strings.NewReader("  value  \nrest"))
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	got, err = readLine(strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", got)

	_, err = readLine(strings.NewReader(""))
	require.Error(t, err)
}
