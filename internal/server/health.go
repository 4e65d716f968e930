package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
}

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	healthTimeout   = 5 * time.Second
	slowPingLatency = time.Second
)

// HandleHealth reports every component; 503 when any is down.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HandleLive provides a liveness probe (is the process running?)
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.version,
		Components: make(map[string]ComponentHealth, len(s.components)),
	}
	for name, p := range s.components {
		health.Components[name] = checkComponent(ctx, name, p)
	}
	health.Status = determineOverallHealth(health.Components)
	return health
}

func checkComponent(ctx context.Context, name string, p Pinger) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: name + " ping failed: " + err.Error(),
		}
	}
	latency := time.Since(start)

	ch := ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   name + " healthy",
		LatencyMs: float64(latency.Microseconds()) / 1000,
	}
	if latency > slowPingLatency {
		ch.Status = ComponentStatusDegraded
		ch.Message = name + " latency high"
	}
	return ch
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var down, degraded int
	for _, c := range components {
		switch c.Status {
		case ComponentStatusDown:
			down++
		case ComponentStatusDegraded:
			degraded++
		}
	}
	switch {
	case down > 0:
		return HealthStatusUnhealthy
	case degraded > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
