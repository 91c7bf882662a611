package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	httpapi "github.com/aussiebroadwan/gatekeep/internal/gatekeep/http"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/obs"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application is the engine with every dependency wired.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         *sqlite.Store
	keyManager *jwtx.KeyManager
	sealer     jwtx.KeySealer
	registry   *prometheus.Registry
	metrics    *obs.Metrics
	audit      audit.Emitter

	// Services
	blacklist           *service.Blacklist
	tokenService        *service.TokenService
	sessionService      *service.SessionService
	rbacService         *service.RBACService
	policyService       *service.PolicyService
	authorizer          *service.Authorizer
	authnService        *service.AuthnService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService
	keyRotationService  *service.KeyRotationService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application. The store is migrated, signing keys loaded,
// the blacklist warmed and the seed file applied before it returns.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gatekeep",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
	}
	ctx := slogx.WithContext(context.Background(), app.logger)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	keyManager, sealer, err := InitKeys(ctx, app.cfg, app.db, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager, app.sealer = keyManager, sealer

	app.initObservability()
	app.initServices()

	// A cold blacklist fails token validation closed until the first
	// successful resync, unless fail-open is configured
	if err := app.blacklist.Warm(ctx); err != nil {
		app.logger.Error("starting with a degraded blacklist", "error", err)
	}

	if err := app.seed(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTP()
	return app, nil
}

// Handler is the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("gatekeep starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gatekeep...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("gatekeep stopped")
	return nil
}

// Close releases the store. Shutdown calls it; tests that never Run call it
// directly.
func (app *Application) Close() error {
	return app.db.Close()
}

// initDatabase opens the store and applies migrations
func (app *Application) initDatabase() error {
	dsn := app.cfg.DatabaseFile
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	}

	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initObservability() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = obs.NewMetrics(app.registry)

	app.audit = obs.AuditCounter{
		Metrics: app.metrics,
		Next:    audit.NewFanout(app.logger, audit.LogEmitter{Logger: app.logger.With("channel", "audit")}),
	}
}

// initServices wires the engine. Nothing here reaches a global.
func (app *Application) initServices() {
	app.blacklist = service.NewBlacklist(app.db, app.cfg.BlacklistFailOpen, app.logger)

	app.rbacService = &service.RBACService{
		Store:    app.db,
		Audit:    app.audit,
		CacheTTL: app.cfg.CacheTTL,
	}
	app.policyService = &service.PolicyService{
		Store:    app.db,
		Audit:    app.audit,
		CacheTTL: app.cfg.CacheTTL,
	}
	app.sessionService = &service.SessionService{
		Store:         app.db,
		Risk:          service.NewRiskScorer(app.cfg.VelocityPerSecond, app.cfg.VelocityBurst),
		Audit:         app.audit,
		Metrics:       app.metrics,
		TTL:           app.cfg.SessionTTL,
		MaxSessions:   app.cfg.SessionLimit,
		FlagThreshold: app.cfg.RiskFlagThreshold,
		KillThreshold: app.cfg.RiskKillThreshold,
	}
	app.tokenService = &service.TokenService{
		KeyManager:  app.keyManager,
		Store:       app.db,
		Revocations: app.blacklist,
		Sessions:    app.sessionService,
		Audit:       app.audit,
		Metrics:     app.metrics,
		Issuer:      app.cfg.Issuer,
		Audience:    app.cfg.Audience,
		AccessTTL:   app.cfg.AccessTTL,
		RefreshTTL:  app.cfg.RefreshTTL,
	}
	app.authnService = &service.AuthnService{
		Store:         app.db,
		Tokens:        app.tokenService,
		Sessions:      app.sessionService,
		RBAC:          app.rbacService,
		Audit:         app.audit,
		AssertionSkew: app.cfg.AssertionSkew,
	}
	app.tokenService.Claims = app.authnService

	app.authorizer = &service.Authorizer{
		Sessions: app.sessionService,
		RBAC:     app.rbacService,
		Policies: app.policyService,
		Audit:    app.audit,
		Metrics:  app.metrics,
	}

	// Ending a session, however it ends, takes its tokens with it
	app.sessionService.OnTerminate = func(ctx context.Context, s domain.Session, reason string) {
		if _, err := app.tokenService.RevokeSession(ctx, s.ID, reason); err != nil {
			slogx.FromContext(ctx).Error("failed to revoke tokens of ended session",
				"session_id", s.ID, "error", err)
		}
	}

	app.bootstrapService = &service.BootstrapService{Store: app.db}

	persistent := app.cfg.KeyStorageMode == KeyStoragePersistent
	app.housekeepingService = service.NewHousekeepingService(app.db, app.logger, app.cfg.HousekeepingPeriod)
	app.housekeepingService.Blacklist = app.blacklist
	app.housekeepingService.KeyManager = app.keyManager
	app.housekeepingService.PersistentKeys = persistent
	app.housekeepingService.RefreshGrace = app.cfg.RotationGrace
	app.housekeepingService.SessionRetention = app.cfg.SessionRetention

	app.keyRotationService = &service.KeyRotationService{
		KeyManager:  app.keyManager,
		Audit:       app.audit,
		RSABits:     app.cfg.RSABits,
		GracePeriod: app.cfg.KeyGracePeriod,
	}
	if persistent {
		app.keyRotationService.Store = app.db
		app.keyRotationService.Sealer = app.sealer
		app.logger.Info("key rotation service enabled (persistent mode)")
	} else {
		app.logger.Info("key rotation service enabled (ephemeral mode)")
	}
}

// seed applies the seed file to an empty store. A store that already has
// roles is left alone.
func (app *Application) seed(ctx context.Context) error {
	if app.cfg.SeedFile == "" {
		return nil
	}

	seed, err := service.LoadSeedFile(app.cfg.SeedFile)
	if err != nil {
		return err
	}

	err = app.bootstrapService.Bootstrap(ctx, seed)
	switch {
	case errors.Is(err, service.ErrAlreadyBootstrapped):
		return nil
	case err != nil:
		return fmt.Errorf("failed to apply seed file: %w", err)
	}

	app.logger.Info("seed file applied",
		"path", app.cfg.SeedFile,
		"roles", len(seed.Roles),
		"policies", len(seed.Policies),
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.metrics,
		app.registry,
		app.logger,
	)

	router.GatewayToken = app.cfg.GatewayToken
	router.AuthnService = app.authnService
	router.TokenService = app.tokenService
	router.SessionService = app.sessionService
	router.RBACService = app.rbacService
	router.PolicyService = app.policyService
	router.Authorizer = app.authorizer
	router.Blacklist = app.blacklist
	router.KeyRotationService = app.keyRotationService
	router.ApplyRoutes()

	if app.cfg.GatewayToken == "" {
		app.logger.Warn("no gateway token configured, session creation is disabled")
	}

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
