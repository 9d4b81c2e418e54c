package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/models"
)

// Version is reported by /health and the version command.
var Version = "1.0.0"

// HealthChecker is implemented by services that can report connectivity
type HealthChecker interface {
	TestConnection(ctx context.Context) (*genie.Space, error)
}

// HealthHandler handles GET /health with a Genie space reachability check
type HealthHandler struct {
	genie   HealthChecker
	agentOn bool
}

func NewHealthHandler(checker HealthChecker, agentEnabled bool) *HealthHandler {
	return &HealthHandler{genie: checker, agentOn: agentEnabled}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"server": "ok"}
	overallStatus := "healthy"

	// Use a short timeout for health checks so they don't block
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.genie != nil {
		if sp, err := h.genie.TestConnection(ctx); err != nil {
			kind := string(genie.KindOf(err))
			if kind == "" {
				kind = "error"
			}
			checks["genie"] = "unavailable: " + kind
			overallStatus = "degraded"
		} else {
			checks["genie"] = "ok"
			if sp.Title != "" {
				checks["genie_space"] = sp.Title
			}
		}
	} else {
		checks["genie"] = "disabled"
	}

	if h.agentOn {
		checks["agent"] = "ok"
	} else {
		checks["agent"] = "disabled"
	}

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	models.WriteJSON(w, statusCode, models.HealthResponse{
		Status:  overallStatus,
		Version: Version,
		Checks:  checks,
	})
}
