package db

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPoolStats_JSONShape(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      4,
		IdleConns:       3,
		AcquiredConns:   1,
		MaxConns:        10,
		AcquireCount:    250,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Monitoring dashboards key on these names.
	for _, want := range []string{
		`"total_conns":4`,
		`"idle_conns":3`,
		`"acquired_conns":1`,
		`"max_conns":10`,
		`"acquire_count":250`,
		`"acquire_duration":"1.5s"`,
		`"healthy":true`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("expected payload to contain %s, got %s", want, raw)
		}
	}
}

func TestHealthResponse_OmitsErrorWhenHealthy(t *testing.T) {
	raw, err := json.Marshal(HealthResponse{
		Status: "healthy",
		PingMS: 3,
		Pool:   &PoolStats{TotalConns: 2, Healthy: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(string(raw), `"error"`) {
		t.Errorf("healthy payload should omit the error field, got %s", raw)
	}
	if !strings.Contains(string(raw), `"status":"healthy"`) {
		t.Errorf("expected status field, got %s", raw)
	}
	if !strings.Contains(string(raw), `"ping_ms":3`) {
		t.Errorf("expected ping_ms field, got %s", raw)
	}
}

func TestHealthResponse_CarriesErrorWhenUnhealthy(t *testing.T) {
	raw, err := json.Marshal(HealthResponse{
		Status: "unhealthy",
		PingMS: 5000,
		Error:  "dial tcp: connection refused",
		Pool:   &PoolStats{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(string(raw), `"error":"dial tcp: connection refused"`) {
		t.Errorf("expected error detail in unhealthy payload, got %s", raw)
	}
	if !strings.Contains(string(raw), `"healthy":false`) {
		t.Errorf("expected pool snapshot to report unhealthy, got %s", raw)
	}
}
