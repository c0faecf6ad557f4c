package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/kitchenops/kitchenops-backend/api/responses"
	"github.com/kitchenops/kitchenops-backend/pkg/config"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by every backing service the API depends on.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-KitchenOps-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports 503 with per-check detail
// when any of them fails.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-KitchenOps-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		healthy := true
		for name, pinger := range checks {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				healthy = false
				status[name] = "down"
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), map[string]any{"check": name, "error": err.Error()}), "readiness check failed")
				}
				continue
			}
			status[name] = "up"
		}

		if !healthy {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(status))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": status})
	}
}
