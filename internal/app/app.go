// Package app wires configuration, storage, cache, and HTTP transport into a
// runnable service.
package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/snipurl/snipurl/internal/auth"
	"github.com/snipurl/snipurl/internal/clicks"
	"github.com/snipurl/snipurl/internal/config"
	"github.com/snipurl/snipurl/internal/metrics"
	"github.com/snipurl/snipurl/internal/resolver"
	"github.com/snipurl/snipurl/internal/server"
	"github.com/snipurl/snipurl/internal/shortener"
)

// App holds the application dependencies and configuration.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DBPool   *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Recorder *clicks.Recorder
	Server   *server.Server
	Handler  *shortener.Handler
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)

	logger.Info("starting application", "env", cfg.App.Environment)

	dbPool, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m := metrics.New()
	repo := shortener.NewRepository(dbPool, nil)

	// Resolve cache: Redis when available, in-process otherwise. The
	// in-process fallback keeps single-node deployments honest about the
	// freshness window without requiring another service.
	var cache resolver.Cache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = connectRedis(ctx, cfg, logger)
		if err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache = resolver.NewRedisCache(redisClient, cfg.Redis.FreshnessWindow)
	} else {
		cache = resolver.NewMemoryCache(cfg.Redis.FreshnessWindow)
		logger.Info("redis disabled, using in-process resolve cache")
	}

	res := resolver.New(resolver.Config{
		Source:  repo,
		Cache:   cache,
		Timeout: cfg.Server.ResolveTimeout,
		Metrics: m,
		Logger:  logger,
	})

	recorder := clicks.New(clicks.Config{
		Store:        repo,
		QueueSize:    cfg.Clicks.QueueSize,
		Workers:      cfg.Clicks.Workers,
		MaxAttempts:  cfg.Clicks.MaxAttempts,
		RetryBackoff: cfg.Clicks.RetryBackoff,
		Metrics:      m,
		Logger:       logger,
	})
	recorder.Start()

	svc := shortener.NewService(repo, &shortener.ServiceConfig{
		Invalidator: res,
	})

	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service:        svc,
		Redirector:     res,
		Clicks:         &clickSink{recorder: recorder},
		Metrics:        m,
		Logger:         logger,
		BaseURL:        cfg.Server.BaseURL,
		AllowAnonymous: cfg.Auth.AllowAnonymousCreate,
	})

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	srv := server.New(server.Options{
		Config:   cfg,
		Logger:   logger,
		Handler:  handler,
		Verifier: verifier,
		Metrics:  m.Handler(),
	})

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DBPool:   dbPool,
		Redis:    redisClient,
		Metrics:  m,
		Recorder: recorder,
		Server:   srv,
		Handler:  handler,
	}, nil
}

// clickSink adapts the recorder's event parameter to the handler interface.
type clickSink struct {
	recorder *clicks.Recorder
}

func (s *clickSink) Record(event shortener.ClickEvent) bool {
	event.IPAddress = clicks.AnonymizeIP(event.IPAddress)
	event.UserAgent = clicks.TruncateUserAgent(event.UserAgent)
	return s.recorder.Record(event)
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. The click queue drains
// after the server stops accepting requests and before the pools close.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Clicks.DrainTimeout)
		defer cancel()
		if err := a.Recorder.Stop(ctx); err != nil {
			a.Logger.Warn("click queue drain incomplete", "error", err.Error())
		} else {
			a.Logger.Info("click queue drained")
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", "error", err.Error())
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	return nil
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectRedis establishes the resolve cache connection.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established", "addr", cfg.Redis.Addr)
	return client, nil
}
