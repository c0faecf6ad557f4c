package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitchenops/kitchenops-backend/api/routes"
	"github.com/kitchenops/kitchenops-backend/internal/accounts"
	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/companies"
	"github.com/kitchenops/kitchenops-backend/internal/identity"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	"github.com/kitchenops/kitchenops-backend/internal/onboarding"
	"github.com/kitchenops/kitchenops-backend/internal/users"
	stripewebhook "github.com/kitchenops/kitchenops-backend/internal/webhooks/stripe"
	"github.com/kitchenops/kitchenops-backend/pkg/config"
	"github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/metrics"
	"github.com/kitchenops/kitchenops-backend/pkg/migrate"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
	"github.com/kitchenops/kitchenops-backend/pkg/redis"
	"github.com/kitchenops/kitchenops-backend/pkg/stripe"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to configure stripe", err)
		os.Exit(1)
	}

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient, stripeClient)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   id,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
		}
	}
	logg.Info(ctx, "api server stopped")
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *stripe.Client) (routes.Dependencies, error) {
	gateway, err := billing.NewStripeGateway(billing.StripeGatewayParams{
		Logger:      logg,
		CallTimeout: cfg.Stripe.CallTimeout,
		MaxRetries:  cfg.Stripe.MaxRetries,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	identityProvider, err := identity.NewHTTPProvider(cfg.Identity, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	conn := dbClient.DB()
	billingRepo := billing.NewRepository(conn)
	membershipRepo := memberships.NewRepository(conn)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	onboardingService, err := onboarding.NewService(onboarding.ServiceParams{
		DB:               dbClient,
		Gateway:          gateway,
		Identity:         identityProvider,
		Outbox:           outboxService,
		Logger:           logg,
		DefaultPriceID:   stripeClient.DefaultPriceID(),
		ProvisionTimeout: cfg.Stripe.CallTimeout * 2,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:            billingRepo,
		Gateway:         gateway,
		Companies:       companies.NewRepository(conn),
		Roles:           membershipRepo,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	membershipService, err := memberships.NewService(memberships.ServiceParams{
		DB:             dbClient,
		Repo:           membershipRepo,
		BillingRepo:    billingRepo,
		Gateway:        gateway,
		Logger:         logg,
		GatewayTimeout: cfg.Stripe.CallTimeout,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	accountService, err := accounts.NewService(accounts.ServiceParams{
		DB:       dbClient,
		Identity: identityProvider,
		Logger:   logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		DB:      dbClient,
		Gateway: gateway,
		Outbox:  outboxService,
		Logger:  logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "stripe")
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:                   dbClient,
		Redis:                redisClient,
		Users:                users.NewRepository(conn),
		Onboarding:           onboardingService,
		Billing:              billingService,
		Memberships:          membershipService,
		Accounts:             accountService,
		StripeClient:         stripeClient,
		StripeWebhookService: webhookService,
		StripeWebhookGuard:   guard,
		WebhookMetrics:       metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Metrics:              promhttp.Handler(),
	}, nil
}
