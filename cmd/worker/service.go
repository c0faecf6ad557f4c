package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kitchenops/kitchenops-backend/internal/cron"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const metricsShutdownTimeout = 5 * time.Second

type pingFunc func(context.Context) error

type jobRunner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger        *logger.Logger
	Cron          jobRunner
	MetricsServer *http.Server
	Checks        map[string]pingFunc
}

// Service hosts the scheduled jobs and the metrics endpoint of the worker.
type Service struct {
	logg    *logger.Logger
	cron    jobRunner
	metrics *http.Server
	checks  map[string]pingFunc
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Cron == nil {
		return nil, errors.New("cron service is required")
	}
	return &Service{
		logg:    params.Logger,
		cron:    params.Cron,
		metrics: params.MetricsServer,
		checks:  params.Checks,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, name := range []string{"database", "redis", "pubsub"} {
		fn, ok := s.checks[name]
		if !ok || fn == nil {
			continue
		}
		if err := pingDependency(ctx, s.logg, name, fn); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn pingFunc) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or a component stops with an error.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	cronDone := make(chan error, 1)
	go func() {
		cronDone <- s.cron.Run(ctx)
	}()
	metricsErr := make(chan error, 1)
	if s.metrics != nil {
		go func() {
			s.logg.Info(s.logg.WithField(ctx, "addr", s.metrics.Addr), "metrics server listening")
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled; waiting for running jobs")
		runErr = <-cronDone
	case err := <-cronDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "cron service stopped unexpectedly", err)
		}
		runErr = err
	case err := <-metricsErr:
		s.logg.Error(ctx, "metrics server stopped unexpectedly", err)
		runErr = err
	}
	s.shutdownMetrics(ctx)
	return runErr
}

func (s *Service) shutdownMetrics(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()
	if err := s.metrics.Shutdown(shutdownCtx); err != nil {
		s.logg.Error(shutdownCtx, "metrics server shutdown failed", err)
	}
}

var _ jobRunner = (*cron.Service)(nil)
