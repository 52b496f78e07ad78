package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/avelezcr/washpay-backend/api/responses"
	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

const readyTimeout = 3 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthLive reports process liveness.
func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"status": "ok",
			"env":    cfg.App.Env,
		})
	}
}

// HealthReady checks the datasources the request path depends on.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		checks["db"] = checkPing(ctx, dbP)
		checks["redis"] = checkPing(ctx, redisP)
		for _, status := range checks {
			if status != "ok" {
				healthy = false
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
			logg.Warn(logg.WithFields(ctx, map[string]any{"checks": checks}), "readiness check failed")
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"status": statusWord(healthy),
			"checks": checks,
		})
	}
}

func checkPing(ctx context.Context, p pinger) string {
	if p == nil {
		return "skipped"
	}
	if err := p.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
