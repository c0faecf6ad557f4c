package stripewebhook

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
)

// EventMetadata correlates a processor subscription with the tenant created at signup.
type EventMetadata struct {
	UserID       uuid.UUID
	CompanyID    uuid.UUID
	MembershipID uuid.UUID
}

// ParseEventMetadata reads the tenant ids attached to a subscription. Any
// missing or malformed id means the subscription was not created by signup.
func ParseEventMetadata(metadata map[string]string) (EventMetadata, error) {
	var out EventMetadata
	fields := []struct {
		key string
		dst *uuid.UUID
	}{
		{billing.MetadataUserID, &out.UserID},
		{billing.MetadataCompanyID, &out.CompanyID},
		{billing.MetadataMembershipID, &out.MembershipID},
	}
	for _, f := range fields {
		raw, ok := metadata[f.key]
		if !ok || raw == "" {
			return EventMetadata{}, fmt.Errorf("metadata %s missing", f.key)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return EventMetadata{}, fmt.Errorf("metadata %s: %w", f.key, err)
		}
		*f.dst = id
	}
	return out, nil
}
