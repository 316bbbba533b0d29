// Package cli implements vaultctl, the administrator command line for
// snapvault sessions.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/server"
	"github.com/dmitrijs2005/snapvault/internal/server/config"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

// SessionAdmin is the session registry as seen by the CLI.
// *services.SessionService implements it.
type SessionAdmin interface {
	CreateSession(ctx context.Context, creator int64, prefix, description string) (*models.Session, string, error)
	ListPaged(ctx context.Context, page, pageSize int) (*models.SessionPage, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	Close(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) error
	GetStats(ctx context.Context, id string) (*models.SessionStats, error)
	DeleteSessionAndFiles(ctx context.Context, id string) (int, error)
	RevealAccessKey(ctx context.Context, adminUserID int64, masterKey, sessionID string) (string, error)
}

// AdminSeeder is implemented by *services.AccessService.
type AdminSeeder interface {
	SeedAdmin(ctx context.Context, userID int64) (string, bool, error)
}

type Backend struct {
	Sessions SessionAdmin
	Admins   AdminSeeder
	AdminIDs []int64
	Close    func() error
}

// Opener connects to the backend described by the config file at path.
// An empty path means environment only.
type Opener func(ctx context.Context, path string) (*Backend, error)

// OpenBackend loads the server configuration, migrates the database and
// builds the services. Logs go to stderr so stdout stays scriptable.
func OpenBackend(ctx context.Context, path string) (*Backend, error) {
	var args []string
	if path != "" {
		args = []string{"-c", path}
	}
	cfg, err := config.Load(args)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogBackend, cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	deps, err := server.NewDeps(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Sessions: deps.Sessions,
		Admins:   deps.Access,
		AdminIDs: cfg.TelegramAdminIDs,
		Close:    deps.Close,
	}, nil
}
