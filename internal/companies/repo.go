package companies

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

// Repository exposes company persistence operations.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repo bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a PENDING company.
func (r *Repository) Create(ctx context.Context, name, registrationNumber string) (*models.Company, error) {
	company := &models.Company{
		Name:               name,
		RegistrationNumber: registrationNumber,
		Status:             enums.CompanyStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(company).Error; err != nil {
		return nil, err
	}
	return company, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	if err := r.db.WithContext(ctx).First(&company, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

// FindByIDForUpdate loads and locks the company row.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).First(&company, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Company, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Company
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SetBillingCustomer records the processor customer for the company.
func (r *Repository) SetBillingCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Company{}).
		Where("id = ?", id).
		Update("billing_customer_id", customerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Activate moves the company to ACTIVE.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Company{}).
		Where("id = ?", id).
		Update("status", enums.CompanyStatusActive).Error
}

// Delete removes the company. It reports whether a row existed.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Company{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// DeleteIfPending removes the company only while it has never been activated.
func (r *Repository) DeleteIfPending(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("status = ?", enums.CompanyStatusPending).
		Delete(&models.Company{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// BillingCustomerID returns the processor customer of the company, or "" when none is set.
func (r *Repository) BillingCustomerID(ctx context.Context, id uuid.UUID) (string, error) {
	company, err := r.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "company not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load company")
	}
	if company.BillingCustomerID == nil {
		return "", nil
	}
	return *company.BillingCustomerID, nil
}
