package companies

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

type CompanyDTO struct {
	ID                 uuid.UUID           `json:"id"`
	Name               string              `json:"name"`
	RegistrationNumber string              `json:"registration_number"`
	Status             enums.CompanyStatus `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func FromModel(c *models.Company) *CompanyDTO {
	if c == nil {
		return nil
	}
	return &CompanyDTO{
		ID:                 c.ID,
		Name:               c.Name,
		RegistrationNumber: c.RegistrationNumber,
		Status:             c.Status,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}
