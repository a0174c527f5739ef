package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of the /health and /ready endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates component health for the process
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a checker; critical names the components that
// must be registered and healthy for the process to be ready
func NewHealthChecker(critical ...string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
	}
}

var healthChecker = NewHealthChecker("storage", "scheduler", "api")

// DefaultHealth returns the process-wide checker
func DefaultHealth() *HealthChecker {
	return healthChecker
}

// SetVersion sets the version reported by the default checker
func SetVersion(version string) {
	healthChecker.SetVersion(version)
}

// UpdateComponent records a component's health on the default checker
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.Update(name, healthy, message)
}

// SetVersion sets the version string for health responses
func (h *HealthChecker) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// Update records the current health of a component
func (h *HealthChecker) Update(name string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{Healthy: healthy, Message: message, Updated: time.Now()}
}

// Health reports unhealthy if any registered component is unhealthy
func (h *HealthChecker) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.status(StatusHealthy)
	for name, comp := range h.components {
		if comp.Healthy {
			out.Components[name] = StatusHealthy
			continue
		}
		out.Status = StatusUnhealthy
		out.Components[name] = "unhealthy: " + comp.Message
	}
	return out
}

// Readiness reports ready once every critical component is registered and healthy
func (h *HealthChecker) Readiness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.status(StatusReady)
	critical := append([]string(nil), h.critical...)
	sort.Strings(critical)
	for _, name := range critical {
		comp, ok := h.components[name]
		switch {
		case !ok:
			out.Components[name] = "not registered"
		case !comp.Healthy:
			out.Components[name] = "not ready: " + comp.Message
		default:
			out.Components[name] = StatusReady
			continue
		}
		if out.Status == StatusReady {
			out.Status = StatusNotReady
			out.Message = "waiting for " + name
		}
	}
	return out
}

// Uptime returns the time since the checker was created
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.startTime)
}

func (h *HealthChecker) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
}

// HTTPStatus maps a health or readiness state to a response code
func HTTPStatus(s HealthStatus) int {
	if s.Status == StatusHealthy || s.Status == StatusReady {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
