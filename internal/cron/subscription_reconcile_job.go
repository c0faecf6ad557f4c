package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const (
	defaultReconcileLimit = 250
	defaultStaleAfter     = time.Hour
	defaultCallTimeout    = 15 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SubscriptionReconcileJobParams configures the subscription sync job.
type SubscriptionReconcileJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	BillingRepo billing.Repository
	Gateway     billing.Gateway
	Limit       int
	StaleAfter  time.Duration
	CallTimeout time.Duration
	Now         func() time.Time
}

// NewSubscriptionReconcileJob builds a job that re-reads drifted subscriptions
// from the processor and mirrors them locally.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("billing gateway required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	callTimeout := params.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &subscriptionReconcileJob{
		logg:        params.Logger,
		db:          params.DB,
		billingRepo: params.BillingRepo,
		gateway:     params.Gateway,
		now:         now,
		limit:       limit,
		staleAfter:  staleAfter,
		callTimeout: callTimeout,
	}, nil
}

type subscriptionReconcileJob struct {
	logg        *logger.Logger
	db          txRunner
	billingRepo billing.Repository
	gateway     billing.Gateway
	now         func() time.Time
	limit       int
	staleAfter  time.Duration
	callTimeout time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	staleBefore := j.now().UTC().Add(-j.staleAfter)
	snapshot, err := j.billingRepo.ListSubscriptionsForReconciliation(ctx, j.limit, staleBefore)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	synced := 0
	for i := range snapshot {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := j.reconcileSubscription(ctx, &snapshot[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(snapshot),
		"synced":     synced,
	}), "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, sub *models.Subscription) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":        sub.ID.String(),
		"company_id":             sub.CompanyID.String(),
		"stripe_subscription_id": sub.StripeSubscriptionID,
	})
	if strings.TrimSpace(sub.StripeSubscriptionID) == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(logCtx, j.callTimeout)
	state, err := j.gateway.RetrieveSubscription(callCtx, sub.StripeSubscriptionID)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", sub.StripeSubscriptionID, err)
	}

	err = j.db.WithTx(logCtx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(logCtx, sub.StripeSubscriptionID)
		if err != nil {
			return err
		}
		if stored == nil {
			j.logg.Info(logCtx, "subscription removed from db; skipping")
			return nil
		}
		before := stored.Status
		billing.ApplyState(stored, state)
		if err := repo.UpdateSubscription(logCtx, stored); err != nil {
			return err
		}
		j.logg.Info(j.logg.WithFields(logCtx, map[string]any{
			"status_before": before,
			"status_after":  stored.Status,
		}), "subscription reconciled")
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	return nil
}
