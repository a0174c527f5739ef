package api

import (
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// healthCheck is a liveness check: 200 while the process serves requests
// and no component reported itself unhealthy
func (s *Server) healthCheck(c *gin.Context) {
	status := s.health.Health()
	c.JSON(metrics.HTTPStatus(status), status)
}

// readyCheck reports ready once storage answers and the scheduler and API
// are running
func (s *Server) readyCheck(c *gin.Context) {
	if _, err := s.manager.ListAssets(); err != nil {
		s.health.Update("storage", false, err.Error())
	} else {
		s.health.Update("storage", true, "ok")
	}
	status := s.health.Readiness()
	c.JSON(metrics.HTTPStatus(status), status)
}
