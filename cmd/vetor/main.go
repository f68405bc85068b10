package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vetor-crm/vetor-crm/internal/access"
	"github.com/vetor-crm/vetor-crm/internal/app"
	"github.com/vetor-crm/vetor-crm/internal/audit"
	"github.com/vetor-crm/vetor-crm/internal/auth"
	"github.com/vetor-crm/vetor-crm/internal/heartbeat"
	"github.com/vetor-crm/vetor-crm/internal/identity"
	"github.com/vetor-crm/vetor-crm/internal/nav"
	"github.com/vetor-crm/vetor-crm/internal/observability"
	"github.com/vetor-crm/vetor-crm/internal/platform/cache"
	"github.com/vetor-crm/vetor-crm/internal/platform/db"
	"github.com/vetor-crm/vetor-crm/internal/presence"
	"github.com/vetor-crm/vetor-crm/internal/sessionregistry"
	"github.com/vetor-crm/vetor-crm/internal/shared"
	"github.com/vetor-crm/vetor-crm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "vetor_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	identityClient := identity.NewClient(cfg.IdentityBaseURL, nil)
	registryClient := sessionregistry.NewClient(cfg.SessionRegistryBaseURL, nil)
	tracker := presence.NewTracker(redisClient, cfg.PresenceTTL)
	recorder := audit.NewRecorder(dbpool, logger)

	evaluators := access.NewEvaluators()
	routeTable := access.NewRouteTable(access.DefaultRoutes())
	heartbeats := heartbeat.NewManager(registryClient, logger, heartbeat.Config{
		Interval:     cfg.HeartbeatInterval,
		Debounce:     cfg.LocationDebounce,
		FailureLimit: cfg.HeartbeatFailureLimit,
		Observer:     metrics.ObserveHeartbeat,
	})
	defer heartbeats.StopAll()

	authService := auth.NewService(auth.ServiceConfig{
		IdentityProvider: identityClient,
		GrantSource:      identityClient,
		Registry:         registryClient,
		Evaluators:       evaluators,
		Heartbeats:       heartbeats,
		Presence:         tracker,
		PermissionTTL:    cfg.PermissionTTL,
		Metrics:          metrics,
		Logger:           logger,
	})
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)
	navHandler := nav.NewHandler(logger, evaluators, routeTable, access.DefaultMenu(), heartbeats, tracker)
	auditHandler := audit.NewHandler(logger, recorder, evaluators)

	accessMW := access.Middleware{
		Logger:      logger,
		Table:       routeTable,
		Evaluators:  evaluators,
		Sessions:    sessionManager,
		Audit:       recorder,
		LandingPath: "/dashboard",
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		NavHandler:       navHandler,
		AuditHandler:     auditHandler,
		AccessMiddleware: accessMW,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
