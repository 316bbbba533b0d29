// Package server wires configuration, storage, the database and services
// together and runs the snapvault process until it is told to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	red "github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/cryptox"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/server/config"
	"github.com/dmitrijs2005/snapvault/internal/server/conversation"
	"github.com/dmitrijs2005/snapvault/internal/server/httpserver"
	"github.com/dmitrijs2005/snapvault/internal/server/metrics"
	"github.com/dmitrijs2005/snapvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/snapvault/internal/server/services"
	"github.com/dmitrijs2005/snapvault/internal/server/storage"
	"github.com/dmitrijs2005/snapvault/internal/server/telegram"
)

// Seams for tests.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepoManager = repomanager.NewPostgresRepositoryManager
)

// Deps are the components shared by the server and the admin CLI.
type Deps struct {
	Config   *config.Config
	Logger   logging.Logger
	DB       *sql.DB
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder
	Repos    repomanager.RepositoryManager
	Vault    *cryptox.Vault
	HTTP     *http.Client
	Storage  *storage.Client
	Sessions *services.SessionService
	Access   *services.AccessService
}

// NewDeps validates cfg, opens and migrates the database and builds the
// storage client and the session and access services.
func NewDeps(ctx context.Context, cfg *config.Config, log logging.Logger) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	key, err := vaultKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	vault, err := cryptox.NewVault(key)
	common.WipeByteArray(key)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	db, err := openDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	repos := newRepoManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(metrics.Options{Registerer: reg})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	provider, err := newProvider(cfg, httpClient)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store := storage.NewClient(provider, storage.ClientConfig{
		BucketName:        cfg.StorageBucket,
		StaticBucketID:    cfg.StorageBucketID,
		RefreshMargin:     cfg.AuthRefreshMargin,
		MaxAttempts:       cfg.UploadMaxAttempts,
		BackoffBase:       cfg.UploadBackoffBase,
		DeleteParallelism: cfg.DeleteParallelism,
	}, log)

	policy := services.LockoutPolicy{Threshold: cfg.LockoutThreshold, Window: cfg.LockoutDuration}

	return &Deps{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Registry: reg,
		Metrics:  rec,
		Repos:    repos,
		Vault:    vault,
		HTTP:     httpClient,
		Storage:  store,
		Sessions: services.NewSessionService(db, repos, vault, store, log),
		Access:   services.NewAccessService(db, repos, vault, policy, rec, log),
	}, nil
}

// vaultKey decodes ENCRYPTION_KEY, or derives the key from the passphrase
// and salt when no key is configured.
func vaultKey(cfg *config.Config) ([]byte, error) {
	if cfg.EncryptionKey != "" {
		return cryptox.ParseKey(cfg.EncryptionKey)
	}
	if cfg.EncryptionPassphrase == "" {
		return nil, errors.New("no key material configured")
	}
	return cryptox.DeriveKey([]byte(cfg.EncryptionPassphrase), []byte(cfg.EncryptionSalt)), nil
}

func (d *Deps) Close() error {
	return d.DB.Close()
}

// newProvider picks the object storage backend named in cfg.
func newProvider(cfg *config.Config, httpClient *http.Client) (storage.Provider, error) {
	switch strings.ToLower(cfg.StorageProvider) {
	case config.ProviderS3:
		return storage.NewS3Provider(storage.S3Config{
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKeyID,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.StorageBucket,
			PublicBaseURL: cfg.StoragePublicURL,
			Validity:      cfg.AuthValidity,
			URLExpires:    cfg.UploadURLExpiry,
		}, httpClient), nil
	case config.ProviderAzure:
		return storage.NewAzureProvider(storage.AzureConfig{
			Account:    cfg.AzureAccount,
			Key:        cfg.AzureKey,
			Container:  cfg.StorageBucket,
			ServiceURL: cfg.AzureServiceURL,
			Validity:   cfg.AuthValidity,
			URLExpires: cfg.UploadURLExpiry,
		}, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
	}
}

// newConversationStore keeps conversations in Redis when an address is
// configured and in process memory otherwise.
func newConversationStore(ctx context.Context, cfg *config.Config) (conversation.Store, io.Closer, error) {
	if cfg.RedisAddr == "" {
		return conversation.NewMemoryStore(cfg.ConversationIdleTimeout), nil, nil
	}
	client := red.NewClient(&red.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return conversation.NewRedisStore(client, "snapvault:conv", cfg.ConversationIdleTimeout), client, nil
}

// App is the long running snapvault server.
type App struct {
	*Deps

	Uploads       *services.UploadService
	Batches       *services.BatchCoordinator
	Conversations conversation.Store

	closers []io.Closer
	out     io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.LogBackend, cfg.LogLevel, os.Stdout)
	if err != nil {
		return nil, err
	}
	if cfg.TelegramBotToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	deps, err := NewDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	bot, err := telegram.NewBot(cfg.TelegramBotToken, deps.HTTP)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("telegram init error: %w", err)
	}
	files := telegram.NewFileSource(bot, telegram.Config{Token: cfg.TelegramBotToken}, deps.HTTP, logger)

	convs, closer, err := newConversationStore(ctx, cfg)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	uploads := services.NewUploadService(deps.DB, deps.Repos, files, deps.Storage, deps.Sessions, deps.Metrics, logger)

	app := &App{
		Deps:          deps,
		Uploads:       uploads,
		Batches:       services.NewBatchCoordinator(convs, uploads, deps.Sessions, logger),
		Conversations: convs,
		out:           os.Stdout,
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

// SeedAdmins makes sure every configured admin has a master key. A newly
// created key is written to the console once and never logged.
func (app *App) SeedAdmins(ctx context.Context) error {
	for _, id := range app.Config.TelegramAdminIDs {
		key, created, err := app.Access.SeedAdmin(ctx, id)
		if err != nil {
			return fmt.Errorf("seed admin %d: %w", id, err)
		}
		if created {
			fmt.Fprintf(app.out, "master key for admin %d: %s\n", id, key)
		}
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startOpsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpserver.NewServer(app.Config.OpsAddr, app.DB, app.Registry, app.Logger)
	if err := s.Run(ctx); err != nil {
		app.Logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run seeds admins, serves the ops endpoints and blocks until SIGINT,
// SIGTERM or ctx cancellation.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.Logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if err := app.SeedAdmins(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startOpsServer(ctx, cancelFunc)
	}()
	wg.Wait()

	app.Logger.Info(context.WithoutCancel(ctx), "Stopping app...")
	return app.Close()
}

func (app *App) Close() error {
	errs := []error{app.Deps.Close()}
	for _, c := range app.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
