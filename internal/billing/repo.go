package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Repository handles subscription and plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByCompany(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByCompanyForUpdate(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListSubscriptionsByCompanies(ctx context.Context, companyIDs []uuid.UUID) ([]models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, limit int, staleBefore time.Time) ([]models.Subscription, error)
	CreatePlan(ctx context.Context, plan *models.Plan) error
	FindPlanByPriceID(ctx context.Context, stripePriceID string) (*models.Plan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByCompany(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error) {
	return r.findSubscription(r.db.WithContext(ctx), "company_id = ?", companyID)
}

func (r *repository) FindSubscriptionByCompanyForUpdate(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error) {
	return r.findSubscription(dbpkg.ForUpdate(r.db.WithContext(ctx)), "company_id = ?", companyID)
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	return r.findSubscription(r.db.WithContext(ctx), "stripe_subscription_id = ?", stripeSubscriptionID)
}

func (r *repository) findSubscription(query *gorm.DB, cond string, arg any) (*models.Subscription, error) {
	var sub models.Subscription
	if err := query.Where(cond, arg).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByCompanies(ctx context.Context, companyIDs []uuid.UUID) ([]models.Subscription, error) {
	if len(companyIDs) == 0 {
		return nil, nil
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("company_id IN ?", companyIDs).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListSubscriptionsForReconciliation returns rows that may have drifted from the processor:
// signups stuck in incomplete, and cancel-pending subscriptions past their period end.
func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, limit int, staleBefore time.Time) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	now := time.Now().UTC()
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id <> ''").
		Where("(status = ? AND created_at < ?) OR (cancel_at_period_end AND status <> ? AND current_period_end < ?)",
			enums.SubscriptionStatusIncomplete, staleBefore,
			enums.SubscriptionStatusCanceled, now).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindPlanByPriceID(ctx context.Context, stripePriceID string) (*models.Plan, error) {
	if stripePriceID == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("stripe_price_id = ?", stripePriceID).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
