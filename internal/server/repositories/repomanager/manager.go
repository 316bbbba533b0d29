package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/snapvault/internal/dbx"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/accesslocks"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/admins"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/uploads"
)

// RepositoryManager vends repositories bound to a *sql.DB or a *sql.Tx, so
// services can run several of them inside one dbx.WithTx call.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Sessions(db dbx.DBTX) sessions.Repository
	Uploads(db dbx.DBTX) uploads.Repository
	AccessLocks(db dbx.DBTX) accesslocks.Repository
	Admins(db dbx.DBTX) admins.Repository
}
