package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 10
)

// ErrNoHandler marks events whose type has no registered handler.
var ErrNoHandler = errors.New("no handler registered for event type")

// ErrTerminal wraps handler errors that must not be retried.
var ErrTerminal = errors.New("terminal outbox failure")

// Handler delivers a single event. Returning an error wrapping ErrTerminal
// stops further attempts.
type Handler interface {
	Handle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, envelope PayloadEnvelope) error
}

type HandlerFunc func(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, envelope PayloadEnvelope) error

func (f HandlerFunc) Handle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, envelope PayloadEnvelope) error {
	return f(ctx, tx, event, envelope)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type DispatcherParams struct {
	DB          txRunner
	Repo        *Repository
	Logger      *logger.Logger
	BatchSize   int
	MaxAttempts int
}

// Dispatcher drains pending outbox rows and hands them to per-type handlers.
type Dispatcher struct {
	db          txRunner
	repo        *Repository
	logg        *logger.Logger
	batchSize   int
	maxAttempts int
	handlers    map[enums.OutboxEventType]Handler
}

// BatchResult summarizes one dispatch pass.
type BatchResult struct {
	Fetched   int
	Published int
	Failed    int
	Terminal  int
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = defaultMaxAttempts
	}
	return &Dispatcher{
		db:          params.DB,
		repo:        params.Repo,
		logg:        params.Logger,
		batchSize:   params.BatchSize,
		maxAttempts: params.MaxAttempts,
		handlers:    map[enums.OutboxEventType]Handler{},
	}, nil
}

func (d *Dispatcher) Register(eventType enums.OutboxEventType, handler Handler) {
	d.handlers[eventType] = handler
}

// DispatchBatch processes up to BatchSize pending events inside one transaction.
// Each event runs under its own savepoint so a failed handler only undoes its
// own writes.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := d.repo.FetchPendingTx(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		result.Fetched = len(rows)
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.dispatchOne(ctx, tx, row, &result); err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

func (d *Dispatcher) dispatchOne(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, result *BatchResult) error {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"outbox_id":    row.ID.String(),
		"event_type":   row.EventType,
		"aggregate_id": row.AggregateID.String(),
		"attempt":      row.AttemptCount + 1,
	})

	savepoint := "outbox_" + strings.ReplaceAll(row.ID.String(), "-", "")
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return fmt.Errorf("savepoint %s: %w", row.ID, err)
	}
	handleErr := d.handle(logCtx, tx, row)
	if handleErr != nil {
		if err := tx.RollbackTo(savepoint).Error; err != nil {
			return fmt.Errorf("rollback handler %s: %w", row.ID, err)
		}
	}
	if handleErr == nil {
		result.Published++
		if err := d.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		d.logg.Info(logCtx, "outbox event delivered")
		return nil
	}

	if errors.Is(handleErr, ErrTerminal) || errors.Is(handleErr, ErrNoHandler) || row.AttemptCount+1 >= d.maxAttempts {
		result.Terminal++
		d.logg.Error(logCtx, "outbox event abandoned", handleErr)
		if err := d.repo.MarkTerminalTx(tx, row.ID, handleErr, d.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
		return nil
	}

	result.Failed++
	d.logg.Warn(logCtx, "outbox event delivery failed: "+handleErr.Error())
	if err := d.repo.MarkFailedTx(tx, row.ID, handleErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	handler, ok := d.handlers[row.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, row.EventType)
	}
	envelope, err := DecodeEnvelope(row.Payload)
	if err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrTerminal, err)
	}
	return handler.Handle(ctx, tx, row, envelope)
}
