package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/cron"
	"github.com/kitchenops/kitchenops-backend/internal/identity"
	"github.com/kitchenops/kitchenops-backend/internal/onboarding"
	"github.com/kitchenops/kitchenops-backend/pkg/config"
	"github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/metrics"
	"github.com/kitchenops/kitchenops-backend/pkg/migrate"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
	"github.com/kitchenops/kitchenops-backend/pkg/pubsub"
	"github.com/kitchenops/kitchenops-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	checks := map[string]pingFunc{
		"database": dbClient.Ping,
		"redis":    redisClient.Ping,
	}

	var pubsubClient *pubsub.Client
	if cfg.PubSub.Enabled() {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		checks["pubsub"] = pubsubClient.Ping
	} else {
		logg.Info(ctx, "lifecycle topic not configured; publishing disabled")
	}

	scheduler, err := buildScheduler(cfg, logg, dbClient, redisClient, pubsubClient)
	if err != nil {
		logg.Error(ctx, "failed to wire worker jobs", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:        logg,
		Cron:          scheduler,
		MetricsServer: metricsServer(cfg.Worker.MetricsPort),
		Checks:        checks,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker exited with error", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "worker shutting down gracefully")
}

func buildScheduler(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, pubsubClient *pubsub.Client) (*cron.Service, error) {
	gateway, err := billing.NewStripeGateway(billing.StripeGatewayParams{
		Logger:      logg,
		CallTimeout: cfg.Stripe.CallTimeout,
		MaxRetries:  cfg.Stripe.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	identityProvider, err := identity.NewHTTPProvider(cfg.Identity, logg)
	if err != nil {
		return nil, err
	}

	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	dispatcher, err := outbox.NewDispatcher(outbox.DispatcherParams{
		DB:          dbClient,
		Repo:        outboxRepo,
		Logger:      logg,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	handlerParams := onboarding.HandlerParams{
		Identity:          identityProvider,
		Gateway:           gateway,
		Logger:            logg,
		MagicLinkRedirect: cfg.Identity.MagicLinkRedirect,
	}
	if pubsubClient != nil {
		handlerParams.Publisher = pubsubClient
	}
	handlers, err := onboarding.NewHandlers(handlerParams)
	if err != nil {
		return nil, err
	}
	handlers.Register(dispatcher)

	dispatchJob, err := cron.NewOutboxDispatchJob(cron.OutboxDispatchJobParams{
		Logger:     logg,
		Dispatcher: dispatcher,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		BatchSize:  cfg.Outbox.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	reconcileJob, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:      logg,
		DB:          dbClient,
		BillingRepo: billing.NewRepository(conn),
		Gateway:     gateway,
		StaleAfter:  cfg.Worker.StaleIncomplete,
		CallTimeout: cfg.Stripe.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, entry := range []cron.Entry{
		{Spec: cfg.Worker.DispatchSchedule, Job: dispatchJob},
		{Spec: cfg.Worker.ReconcileSchedule, Job: reconcileJob},
		{Spec: cfg.Worker.RetentionSchedule, Job: retentionJob},
	} {
		if err := registry.Register(entry.Spec, entry.Job); err != nil {
			return nil, err
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.NewRedisLockFactory(redisClient, cfg.Worker.LockTTL),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
}

func metricsServer(port string) *http.Server {
	if port == "" {
		return nil
	}
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
