package memberships

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// MembershipDTO is the transport shape for a raw membership record.
type MembershipDTO struct {
	ID        uuid.UUID              `json:"id"`
	CompanyID uuid.UUID              `json:"company_id"`
	UserID    uuid.UUID              `json:"user_id"`
	Role      enums.MemberRole       `json:"role"`
	Status    enums.MembershipStatus `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// MembershipWithCompany includes basic company metadata + membership info.
type MembershipWithCompany struct {
	MembershipID  uuid.UUID              `json:"membership_id"`
	CompanyID     uuid.UUID              `json:"company_id"`
	UserID        uuid.UUID              `json:"user_id"`
	CompanyName   string                 `json:"company_name"`
	CompanyStatus enums.CompanyStatus    `json:"company_status"`
	Role          enums.MemberRole       `json:"role"`
	Status        enums.MembershipStatus `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
}

// CompanyMemberDTO mixes membership metadata with the member's profile.
type CompanyMemberDTO struct {
	MembershipID uuid.UUID              `json:"membership_id"`
	CompanyID    uuid.UUID              `json:"company_id"`
	UserID       uuid.UUID              `json:"user_id"`
	Email        string                 `json:"email"`
	FirstName    string                 `json:"first_name"`
	LastName     string                 `json:"last_name"`
	Role         enums.MemberRole       `json:"role"`
	Status       enums.MembershipStatus `json:"membership_status"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ToDTO converts a model to the external DTO.
func ToDTO(m *models.Membership) *MembershipDTO {
	if m == nil {
		return nil
	}

	return &MembershipDTO{
		ID:        m.ID,
		CompanyID: m.CompanyID,
		UserID:    m.UserID,
		Role:      m.Role,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toDTOs(rows []models.Membership) []MembershipDTO {
	out := make([]MembershipDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *ToDTO(&rows[i]))
	}
	return out
}
