package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ProbeResult is the outcome of checking one dependency.
type ProbeResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthStatus is the aggregate readiness report.
type HealthStatus struct {
	Status       string                 `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
	Dependencies map[string]ProbeResult `json:"dependencies,omitempty"`
}

// FederationInfo reports the loaded federation configuration so readiness
// can distinguish a running process from one that can actually issue
// responses.
type FederationInfo struct {
	Brokers          int
	ServiceProviders int
	SigningEnabled   bool
}

// HealthChecker probes the identity database, the session store, and the
// federation setup. The db and redis handles may be nil when the
// corresponding in-memory fallback is in use; those dependencies are then
// omitted from the report.
type HealthChecker struct {
	db         *sql.DB
	redis      *redis.Client
	federation func() FederationInfo
}

func NewHealthChecker(db *sql.DB, redis *redis.Client, federation func() FederationInfo) *HealthChecker {
	return &HealthChecker{db: db, redis: redis, federation: federation}
}

// Liveness always returns 200 while the process is serving.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness reports 503 only when the service cannot authenticate anyone at
// all. A degraded report still returns 200 so a flapping session store does
// not take the whole instance out of rotation.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check probes every configured dependency. The identity database being
// down is unhealthy. Losing the session store only degrades the instance,
// since session lookups fail closed rather than wrong.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]ProbeResult),
	}
	demote := func(to string) {
		if status.Status == StatusUnhealthy {
			return
		}
		if to == StatusUnhealthy || status.Status == StatusHealthy {
			status.Status = to
		}
	}

	if h.db != nil {
		res := h.probeIdentityDB(ctx)
		status.Dependencies["identity-db"] = res
		if res.Status != StatusHealthy {
			demote(res.Status)
		}
	}

	if h.redis != nil {
		res := h.probeSessionStore(ctx)
		status.Dependencies["session-store"] = res
		if res.Status == StatusUnhealthy {
			demote(StatusDegraded)
		}
	}

	if h.federation != nil {
		res := h.probeFederation()
		status.Dependencies["federation"] = res
		if res.Status != StatusHealthy {
			demote(res.Status)
		}
	}

	return status
}

func (h *HealthChecker) probeIdentityDB(ctx context.Context) ProbeResult {
	start := time.Now()
	res := ProbeResult{Status: StatusHealthy}

	err := h.db.PingContext(ctx)
	res.Latency = time.Since(start).String()
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
		return res
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		res.Status = StatusDegraded
		res.Message = "connection pool exhausted"
	}
	return res
}

func (h *HealthChecker) probeSessionStore(ctx context.Context) ProbeResult {
	start := time.Now()
	res := ProbeResult{Status: StatusHealthy}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	res.Latency = time.Since(start).String()
	return res
}

// probeFederation checks the loaded trust configuration. A broker-only
// deployment without signing keys is still healthy; an empty trust table
// means no request can succeed, which is unhealthy.
func (h *HealthChecker) probeFederation() ProbeResult {
	info := h.federation()
	res := ProbeResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d brokers, %d service providers", info.Brokers, info.ServiceProviders),
	}
	switch {
	case info.Brokers == 0 && info.ServiceProviders == 0:
		res.Status = StatusUnhealthy
		res.Message = "trust configuration is empty"
	case info.ServiceProviders > 0 && !info.SigningEnabled:
		res.Status = StatusDegraded
		res.Message = "service providers configured but signing is disabled"
	}
	return res
}

// RegisterHealthRoutes registers the liveness and readiness endpoints.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
