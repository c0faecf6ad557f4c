package memberships

import (
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

type membershipWithCompanyRow struct {
	models.Membership
	CompanyName   string              `gorm:"column:company_name"`
	CompanyStatus enums.CompanyStatus `gorm:"column:company_status"`
}

type companyMemberRow struct {
	models.Membership
	Email     string `gorm:"column:email"`
	FirstName string `gorm:"column:first_name"`
	LastName  string `gorm:"column:last_name"`
}

func membershipWithCompanyFromRow(row membershipWithCompanyRow) MembershipWithCompany {
	return MembershipWithCompany{
		MembershipID:  row.ID,
		CompanyID:     row.CompanyID,
		UserID:        row.UserID,
		CompanyName:   row.CompanyName,
		CompanyStatus: row.CompanyStatus,
		Role:          row.Role,
		Status:        row.Status,
		CreatedAt:     row.CreatedAt,
	}
}

func membershipRowsToDTO(rows []membershipWithCompanyRow) []MembershipWithCompany {
	out := make([]MembershipWithCompany, 0, len(rows))
	for _, row := range rows {
		out = append(out, membershipWithCompanyFromRow(row))
	}
	return out
}

func companyMembersFromRows(rows []companyMemberRow) []CompanyMemberDTO {
	out := make([]CompanyMemberDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, CompanyMemberDTO{
			MembershipID: row.ID,
			CompanyID:    row.CompanyID,
			UserID:       row.UserID,
			Email:        row.Email,
			FirstName:    row.FirstName,
			LastName:     row.LastName,
			Role:         row.Role,
			Status:       row.Status,
			CreatedAt:    row.CreatedAt,
		})
	}
	return out
}
