package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

type transferBody struct {
	ToUserID string `json:"to_user_id" validate:"required,uuid"`
	Note     string `json:"note,omitempty" validate:"max=5"`
}

func decode(t *testing.T, body string) (*transferBody, *pkgerrors.Error) {
	t.Helper()
	var dest transferBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := DecodeJSONBody(req, &dest)
	if err == nil {
		return &dest, nil
	}
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	return nil, typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	dest, err := decode(t, `{"to_user_id":"6f1c7a0e-2f4e-4d39-9a3b-8f53b1f1c2d1"}`)
	require.Nil(t, err)
	assert.Equal(t, "6f1c7a0e-2f4e-4d39-9a3b-8f53b1f1c2d1", dest.ToUserID)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"malformed":      `{"to_user_id":`,
		"unknown field":  `{"to_user_id":"6f1c7a0e-2f4e-4d39-9a3b-8f53b1f1c2d1","extra":1}`,
		"trailing data":  `{"to_user_id":"6f1c7a0e-2f4e-4d39-9a3b-8f53b1f1c2d1"}{}`,
		"missing field":  `{}`,
		"bad uuid":       `{"to_user_id":"nope"}`,
		"oversized body": `{"to_user_id":"` + strings.Repeat("a", maxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, body)
			require.NotNil(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, err.Code())
		})
	}
}

func TestDecodeJSONBodyFieldMessages(t *testing.T) {
	_, err := decode(t, `{"to_user_id":"nope","note":"too long"}`)
	require.NotNil(t, err)
	details, ok := err.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid uuid", details["to_user_id"])
	assert.Equal(t, "must be at most 5", details["note"])
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Bistro", SanitizeString("  Bistro \n", 0))
	assert.Equal(t, "Café", SanitizeString("Café Central", 4))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 10))

	blank := "   "
	assert.Nil(t, SanitizeOptional(&blank, 10))
	assert.Nil(t, SanitizeOptional(nil, 10))
	phone := " +1 555 0100 "
	assert.Equal(t, "+1 555 0100", *SanitizeOptional(&phone, 32))
}
