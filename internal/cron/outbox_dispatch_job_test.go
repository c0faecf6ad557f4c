package cron

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/metrics"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
)

type scriptedDispatcher struct {
	results []outbox.BatchResult
	errAt   int
	calls   int
}

func (s *scriptedDispatcher) DispatchBatch(context.Context) (outbox.BatchResult, error) {
	s.calls++
	if s.errAt > 0 && s.calls == s.errAt {
		return outbox.BatchResult{}, errors.New("db gone")
	}
	if s.calls > len(s.results) {
		return outbox.BatchResult{}, nil
	}
	return s.results[s.calls-1], nil
}

func newDispatchJob(t *testing.T, d batchDispatcher, reg prometheus.Registerer, maxBatches int) Job {
	t.Helper()
	job, err := NewOutboxDispatchJob(OutboxDispatchJobParams{
		Logger:     logger.Nop(),
		Dispatcher: d,
		Metrics:    metrics.NewOutboxMetrics(reg),
		BatchSize:  2,
		MaxBatches: maxBatches,
	})
	require.NoError(t, err)
	return job
}

func TestOutboxDispatchJobDrainsUntilShortBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := &scriptedDispatcher{results: []outbox.BatchResult{
		{Fetched: 2, Published: 2},
		{Fetched: 2, Published: 1, Failed: 1},
		{Fetched: 1, Terminal: 1},
	}}
	job := newDispatchJob(t, d, reg, 0)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, d.calls)

	expected := `
# HELP kitchenops_outbox_dispatch_results_total Outbox dispatch results (published, failed, terminal).
# TYPE kitchenops_outbox_dispatch_results_total counter
kitchenops_outbox_dispatch_results_total{result="failed"} 1
kitchenops_outbox_dispatch_results_total{result="published"} 3
kitchenops_outbox_dispatch_results_total{result="terminal"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "kitchenops_outbox_dispatch_results_total"))
}

func TestOutboxDispatchJobStopsAtMaxBatches(t *testing.T) {
	d := &scriptedDispatcher{results: []outbox.BatchResult{
		{Fetched: 2, Published: 2},
		{Fetched: 2, Published: 2},
		{Fetched: 2, Published: 2},
	}}
	job := newDispatchJob(t, d, nil, 2)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, d.calls)
}

func TestOutboxDispatchJobReturnsBatchError(t *testing.T) {
	d := &scriptedDispatcher{
		results: []outbox.BatchResult{{Fetched: 2, Published: 2}},
		errAt:   2,
	}
	job := newDispatchJob(t, d, nil, 0)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestNewOutboxDispatchJobValidates(t *testing.T) {
	_, err := NewOutboxDispatchJob(OutboxDispatchJobParams{Logger: logger.Nop(), BatchSize: 1})
	assert.Error(t, err)
	_, err = NewOutboxDispatchJob(OutboxDispatchJobParams{Logger: logger.Nop(), Dispatcher: &scriptedDispatcher{}})
	assert.Error(t, err)
}
