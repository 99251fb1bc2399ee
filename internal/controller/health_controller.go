package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// PostgresCheck pings the pool.
func PostgresCheck(pool *pgxpool.Pool) ReadinessCheck {
	return ReadinessCheck{Name: "database", Check: pool.Ping}
}

// RedisCheck pings redis.
func RedisCheck(client *redis.Client) ReadinessCheck {
	return ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// PendingChecker reports whether jobs are waiting for a sweep.
type PendingChecker interface {
	HasPending(ctx context.Context) (bool, error)
}

type HealthController struct {
	checks  []ReadinessCheck
	pending PendingChecker
}

func NewHealthController(pending PendingChecker, checks ...ReadinessCheck) *HealthController {
	return &HealthController{checks: checks, pending: pending}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.pending != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if pending, err := h.pending.HasPending(ctx); err == nil {
			resp["pending_jobs"] = pending
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
