package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Membership links a user with a company and captures their role/status.
type Membership struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID uuid.UUID              `gorm:"column:company_id;type:uuid;not null;uniqueIndex:ux_memberships_company_user"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_memberships_company_user;index"`
	Role      enums.MemberRole       `gorm:"column:role;type:text;not null"`
	Status    enums.MembershipStatus `gorm:"column:status;type:text;not null"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime"`

	Company *Company `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
	User    *User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
