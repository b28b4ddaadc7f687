package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"payments-gateway/internal/errors"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	database     HealthCheck
	smartInvoice HealthCheck
}

func NewHealthHandler(database, smartInvoice HealthCheck) *HealthHandler {
	return &HealthHandler{
		database:     database,
		smartInvoice: smartInvoice,
	}
}

// Health fails only when the database is down. An unreachable tax authority
// API marks the service degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := map[string]string{"database": "ok"}

	if h.database != nil {
		if err := h.database(ctx); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			checks["database"] = "unavailable"
		}
	}

	if h.smartInvoice != nil {
		switch err := h.smartInvoice(ctx); {
		case err == nil:
			checks["smart_invoice"] = "ok"
		case errors.Is(err, errors.FeatureDisabled):
			checks["smart_invoice"] = "disabled"
		default:
			checks["smart_invoice"] = "unavailable"
			if code == http.StatusOK {
				status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
