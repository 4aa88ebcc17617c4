package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/Prrash278/tuma/internal/utils"
)

// handleHealth handles GET /healthz
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	healthy := true

	if err := d.Store.Health(ctx); err != nil {
		checks["store"] = "unavailable"
		healthy = false
		d.Logger.WithError(err).Warn("Store health check failed")
	}
	if d.Redis != nil {
		checks["redis"] = "ok"
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable"
			healthy = false
			d.Logger.WithError(err).Warn("Redis health check failed")
		}
	}

	status := http.StatusOK
	checks["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		checks["status"] = "degraded"
	}
	utils.RespondWithJSON(w, status, checks)
}
