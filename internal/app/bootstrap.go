package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"cms-auth/internal/auth"
	"cms-auth/internal/db"
	"cms-auth/internal/maintenance"
	"cms-auth/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// LogOutput defaults to stdout.
	LogOutput io.Writer
}

type Runtime struct {
	Config  Config
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	output := options.LogOutput
	if output == nil {
		output = os.Stdout
	}
	logger := observability.NewLoggerTo(output, cfg.LogLevel)
	observability.SetTrustedProxyHops(cfg.TrustedProxyHops)

	if err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
	}); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	store, closeStore, err := openStore(cfg, options.RunMigrations)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, nil)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("init token service: %w", err)
	}

	authService := auth.NewService(
		store,
		auth.NewHasher(cfg.BcryptCost),
		tokens,
		auth.WithLockoutPolicy(cfg.LoginMaxAttempts, cfg.LoginLockDuration),
	)

	if err := authService.BootstrapAdmin(context.Background(), cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	authHandler := auth.NewHandler(authService, logger)
	guard := auth.NewGuard(authService, logger)
	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)
	sweepHandler := maintenance.NewSweepHandler(authService, logger, cfg.CronSecret, cfg.LockSweepBatchSize)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", guard.Optional(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("GET /auth/me", guard.Require(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PUT /auth/profile", guard.Require(http.HandlerFunc(authHandler.UpdateProfile)))
	mux.Handle("PUT /auth/password", guard.Require(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("GET /admin/users", guard.RequirePermission(auth.ResourceUsers, auth.ActionRead, http.HandlerFunc(authHandler.ListUsers)))
	mux.Handle("PUT /admin/users/{id}/permissions", guard.RequirePermission(auth.ResourceUsers, auth.ActionUpdate, http.HandlerFunc(authHandler.SetPermissions)))
	mux.Handle("PUT /admin/users/{id}/status", guard.RequireRole(http.HandlerFunc(authHandler.SetStatus), auth.RoleAdmin))
	mux.HandleFunc("GET /internal/maintenance/locks", sweepHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/locks", sweepHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(authService))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	logger.Info("app_ready", map[string]any{
		"store":       cfg.StoreDriver,
		"environment": cfg.Environment,
	})

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return closeStore()
		},
	}, nil
}

func openStore(cfg Config, runMigrations bool) (auth.Store, func() error, error) {
	if cfg.StoreDriver == StoreDriverMemory {
		return auth.NewMemoryStore(), func() error { return nil }, nil
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if runMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return auth.NewRepository(database), database.Close, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
