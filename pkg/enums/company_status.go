package enums

import "fmt"

// CompanyStatus is PENDING until the first payment is confirmed.
type CompanyStatus string

const (
	CompanyStatusPending CompanyStatus = "PENDING"
	CompanyStatusActive  CompanyStatus = "ACTIVE"
)

var validCompanyStatuses = []CompanyStatus{
	CompanyStatusPending,
	CompanyStatusActive,
}

func (c CompanyStatus) String() string {
	return string(c)
}

func (c CompanyStatus) IsValid() bool {
	for _, candidate := range validCompanyStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseCompanyStatus(value string) (CompanyStatus, error) {
	for _, candidate := range validCompanyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid company status %q", value)
}
