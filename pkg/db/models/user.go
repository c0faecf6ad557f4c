package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the local identity record; credentials live with the identity provider.
type User struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ExternalAuthID *string   `gorm:"column:external_auth_id;uniqueIndex"`
	Email          string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	FirstName      string    `gorm:"column:first_name;not null"`
	LastName       string    `gorm:"column:last_name;not null"`
	Phone          *string   `gorm:"column:phone"`
	IsActive       bool      `gorm:"column:is_active;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// FullName joins the first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
