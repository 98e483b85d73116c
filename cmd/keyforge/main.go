package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamesmcfarland/keyforge/internal/audit"
	"github.com/jamesmcfarland/keyforge/internal/handler"
	"github.com/jamesmcfarland/keyforge/internal/keyregistry"
	mid "github.com/jamesmcfarland/keyforge/internal/middleware"
	"github.com/jamesmcfarland/keyforge/internal/provision"
	"github.com/jamesmcfarland/keyforge/internal/registry"
	"github.com/jamesmcfarland/keyforge/internal/revocation"
	"github.com/jamesmcfarland/keyforge/internal/service"
	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/jamesmcfarland/keyforge/internal/tracker"
	"github.com/jamesmcfarland/keyforge/internal/vault"
	"github.com/jamesmcfarland/keyforge/pkg/config"
	"github.com/jamesmcfarland/keyforge/pkg/database"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.InitLogger(appConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	if err := appConfig.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	log.Info("Starting keyforge", appConfig.LogConfig()...)

	if err := run(appConfig, log); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	root, err := keyregistry.LoadRootKey(cfg.Auth.RootJWTPublicKey)
	if err != nil {
		return err
	}
	log.Info("Root public key loaded")

	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized", zap.String("metrics_prefix", cfg.Metrics.Prefix))

	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info("Database connection established")

	kube, err := provision.NewKubeClient(cfg.Provision.Kubeconfig, cfg.Provision.CallTimeout)
	if err != nil {
		return err
	}

	journal := tracker.New(db, nil)
	reg := registry.New(db, journal)
	keys := keyregistry.New(db, root, nil)
	revoked := revocation.NewStore(db, nil)
	auditWriter := audit.NewWriter(db, nil, log)

	vaultClient := vault.NewClient(cfg.Vault.HTTPTimeout)
	vaultClient.HealthRetries = cfg.Vault.HealthRetries
	vaultClient.HealthRetryDelay = cfg.Vault.HealthRetryDelay
	vaultClient.HealthTimeout = cfg.Vault.HealthTimeout

	backend := provision.NewHelmBackend(cfg.Provision.HelmBin, cfg.Provision.ChartPath, cfg.Provision.HelmTimeout, kube, log)
	orchestrator := provision.NewOrchestrator(backend, reg, journal, log, provision.Options{
		PollInterval:   cfg.Provision.PollInterval,
		ReadyTimeout:   cfg.Provision.ReadyTimeout,
		InstallTimeout: cfg.Provision.HelmTimeout + cfg.Provision.CallTimeout,
		CallTimeout:    cfg.Provision.CallTimeout,
	})

	router := &handler.Router{
		Health: handler.NewHealthHandler(db, reg, vaultClient),
		Admin: handler.NewAdminHandler(
			service.NewInstanceService(reg, keys, orchestrator, cfg.Provision.ClusterDomain, nil, log),
			reg, journal),
		Organisations: handler.NewOrganisationHandler(
			service.NewOrganisationService(reg, vaultClient, nil, log),
			service.NewPasswordService(reg, vaultClient, nil, log)),
		Tokens: handler.NewTokenHandler(revoked),
		Auth:   mid.NewAuthenticator(keys, token.NewVerifier(nil, cfg.Auth.ClockSkew), revoked, auditWriter, cfg.Auth.AdminAPIKey),
		Audit:  auditWriter,
	}

	// Initialize Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowCredentials: true,
	}))
	e.Use(mid.RequestID)
	e.Use(logger.Middleware())
	e.Use(mid.Metrics)

	router.Register(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Revocation.PruneInterval > 0 {
		g.Go(func() error {
			return revoked.RunPruner(gctx, cfg.Revocation.PruneInterval, log.With(zap.String("component", "pruner")))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := e.Shutdown(shutdownCtx)

		// running provisioning is not interrupted; wait for it to settle
		orchestrator.Wait()
		auditWriter.Wait()
		return multierr.Append(err, database.Close(db))
	})

	return g.Wait()
}
