package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	Location *time.Location
}

// Service runs registered jobs on their schedules. Overlapping runs of the
// same job are skipped locally and across instances through the job lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	location *time.Location
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		location: location,
	}, nil
}

// Run schedules every job and blocks until ctx is canceled. Running jobs are
// allowed to finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	adapter := cronLogger{ctx: ctx, logg: s.logg}
	scheduler := robfig.New(
		robfig.WithLocation(s.location),
		robfig.WithLogger(adapter),
		robfig.WithChain(robfig.Recover(adapter), robfig.SkipIfStillRunning(adapter)),
	)

	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := scheduler.AddFunc(entry.Spec, func() { s.runScheduled(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name(), err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"job":      job.Name(),
			"schedule": entry.Spec,
		}), "cron job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service stopping")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunNow executes the named job once under its lock.
func (s *Service) RunNow(ctx context.Context, name string) error {
	for _, entry := range s.registry.Entries() {
		if entry.Job.Name() == name {
			s.runScheduled(ctx, entry.Job)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Service) runScheduled(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	lock, err := s.locks(job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "failed to build job lock", err)
		s.recordFailure(job.Name())
		return
	}
	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "failed to acquire job lock", err)
		s.recordFailure(job.Name())
		return
	}
	if !locked {
		s.logg.Debug(jobCtx, "job already running on another instance; skipping")
		return
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(jobCtx)); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()

	s.runJob(jobCtx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	s.logg.Debug(ctx, "job start")
	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)
	s.observeDuration(job.Name(), duration)
	ctx = s.logg.WithField(ctx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		s.recordFailure(job.Name())
		return
	}
	s.logg.Info(ctx, "job completed")
	s.recordSuccess(job.Name())
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}

// cronLogger routes scheduler logs through the service logger.
type cronLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logg.Debug(c.logg.WithFields(c.ctx, pairs(keysAndValues)), "cron: "+msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logg.Error(c.logg.WithFields(c.ctx, pairs(keysAndValues)), "cron: "+msg, err)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
