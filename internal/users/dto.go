package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
)

// UserDTO is the transport shape of a user.
type UserDTO struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     *string   `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	ExternalAuthID string
	Email          string
	FirstName      string
	LastName       string
	Phone          *string
	IsActive       bool
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	var externalID *string
	if c.ExternalAuthID != "" {
		id := c.ExternalAuthID
		externalID = &id
	}

	return &models.User{
		ExternalAuthID: externalID,
		Email:          NormalizeEmail(c.Email),
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Phone:          c.Phone,
		IsActive:       c.IsActive,
	}
}
