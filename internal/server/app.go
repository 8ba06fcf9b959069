// Package server initializes and runs the cloudstore application: it
// validates the storage settings, opens the metadata store, selects the
// blob backend and serves the HTTP endpoints until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/auth"
	"github.com/dmitrijs2005/cloudstore/internal/server/backend"
	"github.com/dmitrijs2005/cloudstore/internal/server/config"
	"github.com/dmitrijs2005/cloudstore/internal/server/httpapi"
	"github.com/dmitrijs2005/cloudstore/internal/server/permissions"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/files"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/cloudstore/internal/server/services"
)

// MemoryDSN selects the in-process metadata store instead of PostgreSQL.
const MemoryDSN = "memory"

const hostTimeout = 5 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	store, db, err := openStore(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	signer, err := auth.NewLinkSigner(c.SecretKey)
	if err != nil {
		return nil, err
	}

	b, err := backend.New(ctx, c, signer, logger)
	if err != nil {
		return nil, fmt.Errorf("backend init error: %w", err)
	}

	var host permissions.Host = permissions.AllowOwnerOnly{}
	if c.HostPermissionURL != "" {
		host = permissions.NewHTTPHost(c.HostPermissionURL, &http.Client{Timeout: hostTimeout}, c.PermissionCacheSize, c.PermissionCacheTTL)
	}
	checker := permissions.NewChecker(host)

	fs := services.NewFileService(store, b, checker, c, logger)
	broker := services.NewAccessBroker(store, b, checker, c, logger)

	var verifier httpapi.LinkVerifier
	if c.UseLocal {
		verifier = signer
	}
	h := httpapi.NewHandler(fs, broker, b, verifier, c.SecretKey, logger)

	return &App{config: c, logger: logger, db: db, handler: h.Routes()}, nil
}

func openStore(ctx context.Context, dsn string) (files.Store, *sql.DB, error) {
	if dsn == MemoryDSN {
		return files.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return rm.FileStore(db), db, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.handler, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "closing database", "error", err)
		}
	}
	app.logger.Info(ctx, "App stopped")
}
