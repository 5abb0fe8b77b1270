package main

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

	"github.com/Dosada05/presenza-calcio/config"
	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/handlers"
	"github.com/Dosada05/presenza-calcio/identity"
	"github.com/Dosada05/presenza-calcio/live"
	"github.com/Dosada05/presenza-calcio/middleware"
	"github.com/Dosada05/presenza-calcio/repositories"
	api "github.com/Dosada05/presenza-calcio/routes"
	"github.com/Dosada05/presenza-calcio/services"
	"github.com/Dosada05/presenza-calcio/storage"
	"github.com/go-chi/chi/v5"
)

// backend is the database selected by DB_BACKEND.
type backend interface {
	db.Querier
	Ping(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.String("db_backend", cfg.DBBackend))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	store, tx, closeDB, err := openBackend(cfg)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := closeDB(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	if err := db.Migrate(ctx, store, logger); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// WebSocket hub
	wsHub := live.NewHub(logger)
	go wsHub.Run(ctx)
	logger.Info("WebSocket Hub started")

	// Repositories
	teamRepo := repositories.NewTeamRepository(store)
	playerRepo := repositories.NewPlayerRepository(store)
	eventRepo := repositories.NewEventRepository(store)
	roleRepo := repositories.NewUserRoleRepository(store)
	consentRepo := repositories.NewConsentRepository(store)
	logger.Info("Repositories initialized")

	// External services are wired only when configured.
	privacyDeps := services.PrivacyDeps{
		RoleRepo:    roleRepo,
		PlayerRepo:  playerRepo,
		EventRepo:   eventRepo,
		ConsentRepo: consentRepo,
		BaseURL:     cfg.AppBaseURL,
		Logger:      logger,
	}

	var provider identity.Provider
	if cfg.ClerkSecretKey != "" {
		clerk, err := identity.NewClerkClient(identity.ClerkConfig{
			BaseURL:   cfg.ClerkAPIURL,
			SecretKey: cfg.ClerkSecretKey,
			Timeout:   cfg.UpstreamTimeout,
		})
		if err != nil {
			logger.Error("failed to initialize identity provider", slog.Any("error", err))
			os.Exit(1)
		}
		provider = clerk
		privacyDeps.Provider = clerk
		logger.Info("identity provider initialized")
	} else {
		logger.Warn("CLERK_SECRET_KEY not set, invitations and account deletion in the identity provider are disabled")
	}

	if cfg.R2Enabled() {
		archives, err := storage.NewCloudflareR2Store(ctx, storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Timeout:         cfg.UpstreamTimeout,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 store", slog.Any("error", err))
			os.Exit(1)
		}
		privacyDeps.Archives = archives
		logger.Info("Cloudflare R2 store initialized")
	}

	if cfg.SMTPEnabled() {
		mailer, err := services.NewEmailService(cfg)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		privacyDeps.Mailer = mailer
	}

	// Services
	roleService := services.NewRoleService(roleRepo, cfg.AdminEmails, logger)
	teamService := services.NewTeamService(teamRepo, playerRepo, eventRepo, tx, logger)
	playerService := services.NewPlayerService(playerRepo, teamRepo)
	eventService := services.NewEventService(eventRepo, teamRepo, playerRepo, wsHub, logger)
	inviteService := services.NewInviteService(provider, logger)
	privacyService := services.NewPrivacyService(privacyDeps)
	logger.Info("Services initialized")

	authenticator, err := middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret:   cfg.JWTSecretKey,
		PublicKeyPEM: cfg.JWTPublicKeyPEM,
	}, roleService, logger)
	if err != nil {
		logger.Error("failed to initialize authenticator", slog.Any("error", err))
		os.Exit(1)
	}

	// Router
	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Gateway:   handlers.NewGatewayHandler(teamService, playerService, eventService, roleService),
		Session:   handlers.NewSessionHandler(roleService),
		Event:     handlers.NewEventHandler(eventService),
		Invite:    handlers.NewInviteHandler(inviteService),
		Privacy:   handlers.NewPrivacyHandler(privacyService),
		WebSocket: handlers.NewWebSocketHandler(wsHub, eventService, cfg.CORSAllowedOrigins, logger),
		Health:    handlers.NewHealthHandler(store),
	}, authenticator.Authenticate, api.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})
	logger.Info("Routes configured")

	// HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	// Closes websocket clients
	stop()
	logger.Info("application exited")
}

// openBackend returns the configured store, its transactor (nil for D1) and a close func.
func openBackend(cfg *config.Config) (backend, db.Transactor, func() error, error) {
	switch cfg.DBBackend {
	case config.BackendD1:
		client, err := db.NewD1Client(db.D1Config{
			BaseURL:    cfg.CloudflareAPIURL,
			AccountID:  cfg.CloudflareAccountID,
			DatabaseID: cfg.CloudflareDatabaseID,
			APIToken:   cfg.CloudflareAPIToken,
			Timeout:    cfg.UpstreamTimeout,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return client, nil, func() error { return nil }, nil

	case config.BackendPostgres:
		sqlDB, err := db.Connect("postgres", cfg.DatabaseURL, cfg.UpstreamTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		q := db.NewSQLQuerier(sqlDB, db.DialectPostgres, cfg.UpstreamTimeout)
		return q, q, q.Close, nil

	default:
		q, err := db.OpenSQLite(cfg.SQLitePath, cfg.UpstreamTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		return q, q, q.Close, nil
	}
}
