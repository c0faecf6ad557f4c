package memberships

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Repository exposes membership persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
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

// CreateMembership persists a new membership record.
func (r *Repository) CreateMembership(ctx context.Context, companyID, userID uuid.UUID, role enums.MemberRole, status enums.MembershipStatus) (*models.Membership, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("invalid member role %q", role)
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid membership status %q", status)
	}

	membership := &models.Membership{
		CompanyID: companyID,
		UserID:    userID,
		Role:      role,
		Status:    status,
	}
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		return nil, err
	}
	return membership, nil
}

// GetMembership retrieves a membership by company and user.
func (r *Repository) GetMembership(ctx context.Context, companyID, userID uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND user_id = ?", companyID, userID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// GetMembershipForUpdate is GetMembership with a row lock.
func (r *Repository) GetMembershipForUpdate(ctx context.Context, companyID, userID uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := dbpkg.ForUpdate(r.db.WithContext(ctx)).
		Where("company_id = ? AND user_id = ?", companyID, userID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	if err := r.db.WithContext(ctx).First(&membership, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &membership, nil
}

// ListOwners returns every OWNER membership of the company.
func (r *Repository) ListOwners(ctx context.Context, companyID uuid.UUID) ([]models.Membership, error) {
	var rows []models.Membership
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND role = ?", companyID, enums.MemberRoleOwner).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListOwnedCompanyIDs returns the companies where the user is an OWNER.
func (r *Repository) ListOwnedCompanyIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("user_id = ? AND role = ?", userID, enums.MemberRoleOwner).
		Order("created_at").
		Pluck("company_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountOtherOwners counts OWNER memberships of the company held by anyone but userID.
func (r *Repository) CountOtherOwners(ctx context.Context, companyID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("company_id = ? AND role = ? AND user_id <> ?", companyID, enums.MemberRoleOwner, userID).
		Count(&count).Error
	return count, err
}

// UserHasRole reports whether the user holds one of the provided roles for the company.
func (r *Repository) UserHasRole(ctx context.Context, userID, companyID uuid.UUID, roles ...enums.MemberRole) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("user_id = ? AND company_id = ? AND role IN ?", userID, companyID, roles).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUserCompanies returns the companies a user belongs to along with membership metadata.
func (r *Repository) ListUserCompanies(ctx context.Context, userID uuid.UUID) ([]MembershipWithCompany, error) {
	var rows []membershipWithCompanyRow

	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Select("memberships.*, companies.name AS company_name, companies.status AS company_status").
		Joins("JOIN companies ON companies.id = memberships.company_id").
		Where("memberships.user_id = ?", userID).
		Order("companies.name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	return membershipRowsToDTO(rows), nil
}

// ListCompanyMembers returns memberships for the company along with user metadata.
func (r *Repository) ListCompanyMembers(ctx context.Context, companyID uuid.UUID) ([]CompanyMemberDTO, error) {
	var rows []companyMemberRow
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Select("memberships.*, users.email, users.first_name, users.last_name").
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.company_id = ?", companyID).
		Order("memberships.created_at").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return companyMembersFromRows(rows), nil
}

// UpdateRole changes a membership role.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role enums.MemberRole) error {
	if !role.IsValid() {
		return fmt.Errorf("invalid member role %q", role)
	}
	return r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("id = ?", id).
		Update("role", role).Error
}

// Activate marks the membership ACTIVE.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("id = ?", id).
		Update("status", enums.MembershipStatusActive).Error
}

// Delete removes a membership. It reports whether a row existed.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Membership{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// DeleteByUser removes all memberships held by the user.
func (r *Repository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&models.Membership{}, "user_id = ?", userID)
	return res.RowsAffected, res.Error
}

// CountByUser counts the memberships held by the user across all companies.
func (r *Repository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
