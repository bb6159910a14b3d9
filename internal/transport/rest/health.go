package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// DisbursementStats is the slice of the batch store the health check reads.
type DisbursementStats interface {
	CountByStatus(statuses ...string) (int64, error)
	CountTransactionsByStatusSince(status string, since time.Time) (int64, error)
}

type HealthHandler struct {
	db    *sql.DB
	stats DisbursementStats
}

func NewHealthHandler(db *sql.DB, stats DisbursementStats) *HealthHandler {
	return &HealthHandler{db: db, stats: stats}
}

// HandleLiveness → just says service is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "OK"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleReadiness → checks DB connectivity and disbursement pipeline state.
// A reachable DB with failing payments reports degraded, not unhealthy.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := internal.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]CheckEntry{
		"postgres":      h.checkDB(ctx),
		"disbursements": h.checkDisbursements(),
	}

	overall := HealthHealthy
	for _, entry := range components {
		if entry.Status == HealthUnhealthy {
			overall = HealthUnhealthy
			break
		}
		if entry.Status == HealthDegraded {
			overall = HealthDegraded
		}
	}

	resp := HealthResponse{
		Status:     overall,
		CheckedAt:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if overall == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) checkDB(ctx context.Context) CheckEntry {
	start := time.Now()
	err := h.db.PingContext(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}

func (h *HealthHandler) checkDisbursements() CheckEntry {
	start := time.Now()
	entry := CheckEntry{
		Status:    HealthHealthy,
		CheckedAt: time.Now(),
	}

	inFlight, err := h.stats.CountByStatus(batch.StatusProcessing, batch.StatusQueued)
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
		entry.DurationMs = time.Since(start).Milliseconds()
		return entry
	}

	recentFailed, err := h.stats.CountTransactionsByStatusSince(batch.StatusFailed, time.Now().Add(-24*time.Hour))
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
		entry.DurationMs = time.Since(start).Milliseconds()
		return entry
	}

	entry.Details = map[string]any{
		"in_flight_batches":   inFlight,
		"failed_payments_24h": recentFailed,
	}
	if recentFailed > 0 {
		entry.Status = HealthDegraded
		entry.Message = "payments failed within the last 24h"
	}
	entry.DurationMs = time.Since(start).Milliseconds()
	return entry
}
