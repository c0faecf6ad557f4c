package cron

import (
	"context"
	"fmt"

	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/metrics"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
)

const defaultMaxBatchesPerRun = 20

type batchDispatcher interface {
	DispatchBatch(ctx context.Context) (outbox.BatchResult, error)
}

// OutboxDispatchJobParams configures the outbox drain job.
type OutboxDispatchJobParams struct {
	Logger     *logger.Logger
	Dispatcher batchDispatcher
	Metrics    *metrics.OutboxMetrics
	BatchSize  int
	MaxBatches int
}

// NewOutboxDispatchJob drains pending outbox rows in batches until a short
// batch comes back or MaxBatches is reached.
func NewOutboxDispatchJob(params OutboxDispatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if params.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatchesPerRun
	}
	return &outboxDispatchJob{
		logg:       params.Logger,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		batchSize:  params.BatchSize,
		maxBatches: maxBatches,
	}, nil
}

type outboxDispatchJob struct {
	logg       *logger.Logger
	dispatcher batchDispatcher
	metrics    *metrics.OutboxMetrics
	batchSize  int
	maxBatches int
}

func (j *outboxDispatchJob) Name() string { return "outbox-dispatch" }

func (j *outboxDispatchJob) Run(ctx context.Context) error {
	var total outbox.BatchResult
	batches := 0
	for batches < j.maxBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := j.dispatcher.DispatchBatch(ctx)
		batches++
		j.record(result)
		total.Fetched += result.Fetched
		total.Published += result.Published
		total.Failed += result.Failed
		total.Terminal += result.Terminal
		if err != nil {
			return fmt.Errorf("dispatch batch %d: %w", batches, err)
		}
		if result.Fetched < j.batchSize {
			break
		}
	}

	if total.Fetched > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"batches":   batches,
			"fetched":   total.Fetched,
			"published": total.Published,
			"failed":    total.Failed,
			"terminal":  total.Terminal,
		}), "outbox dispatch complete")
	}
	return nil
}

func (j *outboxDispatchJob) record(result outbox.BatchResult) {
	j.metrics.Add("published", result.Published)
	j.metrics.Add("failed", result.Failed)
	j.metrics.Add("terminal", result.Terminal)
}
