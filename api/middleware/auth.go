package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kitchenops/kitchenops-backend/api/responses"
	pkgAuth "github.com/kitchenops/kitchenops-backend/pkg/auth"
	"github.com/kitchenops/kitchenops-backend/pkg/config"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// UserResolver maps an identity provider subject to the local user.
type UserResolver interface {
	FindByExternalAuthID(ctx context.Context, externalID string) (*models.User, error)
}

// Auth validates a bearer token, resolves the local user and seeds the
// request context with both ids.
func Auth(cfg config.JWTConfig, users UserResolver, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			if users == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "user resolver unavailable"))
				return
			}
			user, err := users.FindByExternalAuthID(r.Context(), claims.Subject)
			if err != nil {
				if dbpkg.IsNotFound(err) {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account not registered"))
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve user"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, user.ID.String())
			ctx = context.WithValue(ctx, ctxExternalID, claims.Subject)
			if logg != nil {
				ctx = logg.WithUserID(ctx, user.ID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
