package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestLiveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil)

	w := httptest.NewRecorder()
	checker.Liveness(w, httptest.NewRequest("GET", "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCheckNoDependencies(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("expected healthy with no dependencies, got %s", status.Status)
	}
	if len(status.Dependencies) != 0 {
		t.Errorf("expected no dependency entries, got %d", len(status.Dependencies))
	}
}

func TestCheckHealthyBackends(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(db, client, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", status.Status)
	}
	if status.Dependencies["identity-db"].Status != StatusHealthy {
		t.Errorf("expected healthy identity db, got %+v", status.Dependencies["identity-db"])
	}
	if status.Dependencies["session-store"].Status != StatusHealthy {
		t.Errorf("expected healthy session store, got %+v", status.Dependencies["session-store"])
	}
}

func TestCheckRedisDownDegrades(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	checker := NewHealthChecker(nil, client, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusDegraded {
		t.Errorf("expected degraded when session store is down, got %s", status.Status)
	}
}

func TestCheckFederation(t *testing.T) {
	tests := []struct {
		name string
		info FederationInfo
		want string
	}{
		{"signing idp", FederationInfo{Brokers: 2, ServiceProviders: 1, SigningEnabled: true}, StatusHealthy},
		{"broker only", FederationInfo{Brokers: 2}, StatusHealthy},
		{"empty trust table", FederationInfo{}, StatusUnhealthy},
		{"providers without keys", FederationInfo{Brokers: 1, ServiceProviders: 1}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			checker := NewHealthChecker(nil, nil, func() FederationInfo { return info })
			status := checker.Check(context.Background())
			if status.Status != tt.want {
				t.Errorf("expected %s, got %s (%+v)", tt.want, status.Status, status.Dependencies["federation"])
			}
		})
	}
}

func TestReadinessUnhealthyDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	checker := NewHealthChecker(db, nil, nil)

	w := httptest.NewRecorder()
	checker.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if status.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", status.Status)
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, w.Code)
		}
	}
}
