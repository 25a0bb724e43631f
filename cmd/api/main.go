package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/ohttp"
	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/redis"
	"github.com/muratdemir0/gopulse-dispatch/internal/app"
	"github.com/muratdemir0/gopulse-dispatch/internal/config"
	"github.com/muratdemir0/gopulse-dispatch/internal/infra/cache"
	"github.com/muratdemir0/gopulse-dispatch/internal/infra/database"
	"github.com/muratdemir0/gopulse-dispatch/internal/infra/handlers"
	"github.com/muratdemir0/gopulse-dispatch/internal/infra/middleware"
	"github.com/muratdemir0/gopulse-dispatch/internal/telemetry"
)

type App struct {
	config   *config.Config
	db       *db.Client
	redis    *redisclient.Client
	tracer   *telemetry.TracerProvider
	pipeline *app.Pipeline
	server   *http.Server
}

func main() {
	app, err := NewApp()
	if err != nil {
		slog.Error("failed to create app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	app.Stop()
}

func NewApp() (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	})))

	slog.Info("Starting application", "name", cfg.App.Name, "port", cfg.App.Port)

	app := &App{config: cfg}

	if err := app.initTelemetry(); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initRedis(); err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initServer()

	return app, nil
}

func (a *App) Start() error {
	if a.config.AutoRun.Enabled {
		if err := a.pipeline.StartAutoRun(); err != nil {
			slog.Warn("failed to start automatic dispatch", "error", err)
		}
	}

	slog.Info("Server starting", "port", a.config.App.Port)
	return a.server.ListenAndServe()
}

func (a *App) Stop() {
	slog.Info("Starting graceful shutdown...")

	a.server.SetKeepAlivesEnabled(false)

	if err := a.pipeline.StopAutoRun(); err != nil {
		slog.Warn("failed to stop automatic dispatch", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			slog.Error("Forced shutdown failed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server gracefully stopped")
}

func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("failed to close database connection", "error", err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("failed to close redis connection", "error", err)
		}
	}

	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}
}

func (a *App) initTelemetry() error {
	if !a.config.Telemetry.Enabled || a.config.Telemetry.Endpoint == "" {
		return nil
	}

	tp, err := telemetry.NewTracerProvider(telemetry.Config{
		ServiceName: a.config.App.Name,
		Endpoint:    a.config.Telemetry.Endpoint,
		SampleRate:  a.config.Telemetry.SampleRate,
	})
	if err != nil {
		return err
	}
	a.tracer = tp
	slog.Info("Tracing enabled", "endpoint", a.config.Telemetry.Endpoint)
	return nil
}

func (a *App) initDatabase() error {
	dbClient, err := db.NewDB(a.config.Database.DSN)
	if err != nil {
		return err
	}
	a.db = dbClient
	slog.Info("Database connection established")
	return nil
}

// initRedis connects the run-lock store. Without it the pipeline falls back to job claims alone.
func (a *App) initRedis() error {
	if a.config.Redis.Addr == "" {
		slog.Warn("Redis address not configured, run locks disabled")
		return nil
	}

	redisClient, err := redis.New(a.config.Redis)
	if err != nil {
		slog.Warn("Redis unavailable, run locks disabled", "addr", a.config.Redis.Addr, "error", err)
		return nil
	}
	a.redis = redisClient
	slog.Info("Redis connection established")
	return nil
}

func (a *App) initServices() error {
	location, err := time.LoadLocation(a.config.Locale.Timezone)
	if err != nil {
		return fmt.Errorf("invalid locale.timezone %q: %w", a.config.Locale.Timezone, err)
	}

	httpClient := ohttp.NewClient(ohttp.Config{
		Timeout:       a.config.Gateway.Timeout,
		RatePerSecond: a.config.Gateway.RatePerSecond,
		Burst:         a.config.Gateway.Burst,
	})
	gatewayClient := gateway.NewClient(httpClient)

	scheduleRepo := database.NewScheduleRepository(a.db)
	ruleRepo := database.NewRuleRepository(a.db)
	jobRepo := database.NewJobRepository(a.db)
	logRepo := database.NewLogRepository(a.db)
	settingsRepo := database.NewSettingsRepository(a.db)
	directory := database.NewDirectoryRepository(a.db)

	credentials := app.NewCredentialResolver(settingsRepo, app.GatewaySettings{
		Provider: a.config.Gateway.Provider,
		Credentials: gateway.Credentials{
			BaseURL:    a.config.Gateway.BaseURL,
			Token:      a.config.Gateway.Token,
			SendPath:   a.config.Gateway.SendPath,
			StatusPath: a.config.Gateway.StatusPath,
		},
		WebhookSecret: a.config.Webhook.Secret,
	})

	logger := slog.Default()

	expander := app.NewJobExpander(scheduleRepo, ruleRepo, jobRepo, app.NewRecipientResolver(directory), logger)
	worker := app.NewDispatchWorker(
		jobRepo,
		ruleRepo,
		logRepo,
		app.NewTemplateRenderer(directory, location),
		credentials,
		gatewayClient,
		app.WorkerConfig{
			BatchSize: a.config.Worker.BatchSize,
			ClaimTTL:  a.config.Worker.ClaimTTL,
		},
		logger,
	)
	reconciler := app.NewReconciler(jobRepo, logRepo, credentials, gatewayClient, a.config.Worker.PollBatchSize, logger)

	var locker app.RunLocker
	if a.redis != nil {
		locker = cache.NewRunLock(a.redis)
	}

	a.pipeline = app.NewPipeline(expander, worker, reconciler, jobRepo, logRepo, locker, app.PipelineConfig{
		LockTTL: a.config.Worker.LockTTL,
		AutoRun: app.AutoRunConfig{
			SchedulerInterval: a.config.AutoRun.SchedulerInterval,
			WorkerInterval:    a.config.AutoRun.WorkerInterval,
			PollInterval:      a.config.AutoRun.PollInterval,
		},
	}, logger)

	return nil
}

func (a *App) initServer() {
	handler := a.setupRoutes()
	a.server = a.setupHTTPServer(handler)
}

func (a *App) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.CORS(a.config.App.AllowedOrigins))
	r.Use(middleware.Tracing(a.config.App.Name))

	handlers.RegisterHealthHandler(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	handlers.RegisterDispatchHandler(r, a.pipeline, slog.Default())
	handlers.RegisterWebhookHandler(r, a.pipeline, slog.Default())

	return r
}

func (a *App) setupHTTPServer(handler http.Handler) *http.Server {
	readTimeout := getTimeoutValue(a.config.App.ReadTimeout, 30)
	writeTimeout := getTimeoutValue(a.config.App.WriteTimeout, 120)
	idleTimeout := getTimeoutValue(a.config.App.IdleTimeout, 120)
	maxHeaderBytes := getHeaderSize(a.config.App.MaxHeaderMB)

	slog.Info("Server configuration",
		slog.Int("read_timeout_sec", readTimeout),
		slog.Int("write_timeout_sec", writeTimeout),
		slog.Int("idle_timeout_sec", idleTimeout),
		slog.Int("max_header_mb", maxHeaderBytes>>20))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.App.Port),
		ReadTimeout:       time.Duration(readTimeout) * time.Second,
		WriteTimeout:      time.Duration(writeTimeout) * time.Second,
		IdleTimeout:       time.Duration(idleTimeout) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    maxHeaderBytes,
		Handler:           handler,
	}
}

func loadConfig() (*config.Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(".config", fmt.Sprintf("%s.yaml", env))
	return config.Load(configPath)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getTimeoutValue(configValue, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}
	return defaultValue
}

func getHeaderSize(maxHeaderMB int) int {
	if maxHeaderMB > 0 {
		return maxHeaderMB << 20
	}
	return 1 << 20 // 1 MB default
}
