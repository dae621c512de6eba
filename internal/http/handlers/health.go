// Package handlers contains HTTP handlers for the surveillance pipeline's
// read, trigger, and review endpoints.
package handlers

import (
	"context"
	"database/sql"

	"github.com/jmylchreest/sitewatch/internal/shutdown"
	"github.com/jmylchreest/sitewatch/internal/version"
)

// HealthCheckOutput represents the public health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the static health status of the API.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// ProbeHandler answers the Kubernetes-style liveness and readiness probes.
type ProbeHandler struct {
	db    *sql.DB
	guard *shutdown.RunGuard
}

func NewProbeHandler(db *sql.DB, guard *shutdown.RunGuard) *ProbeHandler {
	return &ProbeHandler{db: db, guard: guard}
}

// LivezOutput reports process liveness plus how many scan/weekly runs are
// currently in flight.
type LivezOutput struct {
	Body struct {
		Status     string `json:"status"`
		ActiveRuns int64  `json:"active_runs"`
	}
}

func (h *ProbeHandler) Livez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	out.Body.ActiveRuns = h.guard.ActiveRuns()
	return out, nil
}

// ReadyzOutput reports whether the database connection is reachable.
type ReadyzOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func (h *ProbeHandler) Readyz(ctx context.Context, input *struct{}) (*ReadyzOutput, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return nil, err
	}
	out := &ReadyzOutput{}
	out.Body.Status = "ready"
	return out, nil
}
