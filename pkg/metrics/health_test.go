package metrics

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthAllHealthy(t *testing.T) {
	h := NewHealthChecker("storage")
	h.SetVersion("1.2.3")
	h.Update("storage", true, "bolt open")
	h.Update("scheduler", true, "running")

	s := h.Health()
	assert.Equal(t, StatusHealthy, s.Status)
	assert.Equal(t, "1.2.3", s.Version)
	assert.Len(t, s.Components, 2)
	assert.Equal(t, http.StatusOK, HTTPStatus(s))
}

func TestHealthOneUnhealthy(t *testing.T) {
	h := NewHealthChecker()
	h.Update("storage", true, "")
	h.Update("scheduler", false, "stopped")

	s := h.Health()
	assert.Equal(t, StatusUnhealthy, s.Status)
	assert.Equal(t, "unhealthy: stopped", s.Components["scheduler"])
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(s))
}

func TestReadiness(t *testing.T) {
	h := NewHealthChecker("api", "storage")

	s := h.Readiness()
	assert.Equal(t, StatusNotReady, s.Status)
	assert.Equal(t, "waiting for api", s.Message)
	assert.Equal(t, "not registered", s.Components["storage"])

	h.Update("api", true, "")
	h.Update("storage", false, "locked")
	s = h.Readiness()
	assert.Equal(t, StatusNotReady, s.Status)
	assert.Equal(t, "waiting for storage", s.Message)

	h.Update("storage", true, "")
	s = h.Readiness()
	assert.Equal(t, StatusReady, s.Status)
	assert.Empty(t, s.Message)
	assert.Equal(t, http.StatusOK, HTTPStatus(s))
}

func TestDefaultHealth(t *testing.T) {
	UpdateComponent("storage", true, "")
	assert.Equal(t, StatusHealthy, DefaultHealth().Health().Components["storage"])
}
