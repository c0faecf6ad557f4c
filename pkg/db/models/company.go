package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Company is the tenant organization.
type Company struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Name               string              `gorm:"column:name;not null"`
	RegistrationNumber string              `gorm:"column:registration_number;not null"`
	BillingCustomerID  *string             `gorm:"column:billing_customer_id"`
	Status             enums.CompanyStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
