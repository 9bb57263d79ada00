package health

import (
	"testing"
	"time"
)

func TestNewHealthy(t *testing.T) {
	status := NewHealthy("broker", "connected")

	if status.Component != "broker" {
		t.Errorf("Expected component broker, got %s", status.Component)
	}

	if status.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", status.Status)
	}

	if status.Message != "connected" {
		t.Errorf("Expected message 'connected', got %s", status.Message)
	}

	if status.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if !status.IsHealthy() {
		t.Error("Expected IsHealthy() to return true")
	}
}

func TestNewUnhealthy(t *testing.T) {
	status := NewUnhealthy("objectstore", "connection lost")

	if status.Component != "objectstore" {
		t.Errorf("Expected component objectstore, got %s", status.Component)
	}

	if status.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got %s", status.Status)
	}

	if status.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if !status.IsUnhealthy() {
		t.Error("Expected IsUnhealthy() to return true")
	}
}

func TestNewDegraded(t *testing.T) {
	status := NewDegraded("cache", "high latency")

	if status.Component != "cache" {
		t.Errorf("Expected component cache, got %s", status.Component)
	}

	if status.Status != "degraded" {
		t.Errorf("Expected status 'degraded', got %s", status.Status)
	}

	if status.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if !status.IsDegraded() {
		t.Error("Expected IsDegraded() to return true")
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name         string
		component    string
		subStatuses  []Status
		wantStatus   string
		wantMessage  string
		wantSubCount int
	}{
		{
			name:         "empty sub-statuses",
			component:    "objectrelay",
			subStatuses:  []Status{},
			wantStatus:   "healthy",
			wantMessage:  "No sub-components to aggregate",
			wantSubCount: 0,
		},
		{
			name:      "all healthy",
			component: "objectrelay",
			subStatuses: []Status{
				{Status: "healthy", Component: "broker"},
				{Status: "healthy", Component: "objectstore"},
			},
			wantStatus:   "healthy",
			wantMessage:  "All sub-components are healthy",
			wantSubCount: 2,
		},
		{
			name:      "one unhealthy",
			component: "objectrelay",
			subStatuses: []Status{
				{Status: "healthy", Component: "broker"},
				{Status: "unhealthy", Component: "objectstore"},
			},
			wantStatus:   "unhealthy",
			wantMessage:  "One or more sub-components are unhealthy",
			wantSubCount: 2,
		},
		{
			name:      "one degraded no unhealthy",
			component: "objectrelay",
			subStatuses: []Status{
				{Status: "healthy", Component: "broker"},
				{Status: "degraded", Component: "cache"},
			},
			wantStatus:   "degraded",
			wantMessage:  "One or more sub-components are degraded",
			wantSubCount: 2,
		},
		{
			name:      "degraded and unhealthy - unhealthy wins",
			component: "objectrelay",
			subStatuses: []Status{
				{Status: "degraded", Component: "cache"},
				{Status: "unhealthy", Component: "broker"},
			},
			wantStatus:   "unhealthy",
			wantMessage:  "One or more sub-components are unhealthy",
			wantSubCount: 2,
		},
		{
			name:      "multiple degraded",
			component: "objectrelay",
			subStatuses: []Status{
				{Status: "degraded", Component: "cache"},
				{Status: "degraded", Component: "deadletter"},
				{Status: "healthy", Component: "broker"},
			},
			wantStatus:   "degraded",
			wantMessage:  "One or more sub-components are degraded",
			wantSubCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Aggregate(tt.component, tt.subStatuses)

			if result.Component != tt.component {
				t.Errorf("Expected component %s, got %s", tt.component, result.Component)
			}

			if result.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, result.Status)
			}

			if result.Message != tt.wantMessage {
				t.Errorf("Expected message %s, got %s", tt.wantMessage, result.Message)
			}

			if len(result.SubStatuses) != tt.wantSubCount {
				t.Errorf("Expected %d sub-statuses, got %d", tt.wantSubCount, len(result.SubStatuses))
			}

			if result.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestAggregate_DoesNotModifyInput(t *testing.T) {
	original := []Status{
		{Status: "healthy", Component: "broker"},
		{Status: "unhealthy", Component: "objectstore"},
	}

	result := Aggregate("objectrelay", original)

	// Sub-statuses must be independent copies
	result.SubStatuses[0].Component = "modified"
	if original[0].Component == "modified" {
		t.Error("Modifying result sub-statuses should not affect input")
	}
}

func TestHelperTimestamps(t *testing.T) {
	before := time.Now()

	healthy := NewHealthy("broker", "connected")
	unhealthy := NewUnhealthy("broker", "disconnected")
	degraded := NewDegraded("broker", "slow")
	aggregated := Aggregate("objectrelay", []Status{healthy})

	after := time.Now()

	statuses := []Status{healthy, unhealthy, degraded, aggregated}
	for i, status := range statuses {
		if status.Timestamp.Before(before) || status.Timestamp.After(after) {
			t.Errorf("Status %d timestamp %v is outside expected range [%v, %v]",
				i, status.Timestamp, before, after)
		}
	}
}
