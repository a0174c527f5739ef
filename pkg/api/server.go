package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server exposes the manager over HTTP
type Server struct {
	manager *manager.Manager
	broker  *events.Broker
	health  *metrics.HealthChecker
	router  *gin.Engine
	http    *http.Server
	logger  zerolog.Logger
}

// NewServer creates the API server. broker may be nil, in which case the
// event stream is unavailable.
func NewServer(mgr *manager.Manager, broker *events.Broker, health *metrics.HealthChecker) *Server {
	if health == nil {
		health = metrics.DefaultHealth()
	}
	s := &Server{
		manager: mgr,
		broker:  broker,
		health:  health,
		router:  gin.New(),
		logger:  log.WithComponent("api"),
	}
	s.router.Use(gin.Recovery(), s.instrument())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ready", s.readyCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	{
		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.listTasks)
			tasks.POST("", s.createTask)
			tasks.GET("/:id", s.getTask)
			tasks.DELETE("/:id", s.deleteTask)
			tasks.POST("/:id/images", s.uploadImages)
			tasks.POST("/:id/submit", s.submitTask)
			tasks.POST("/:id/stop", s.stopTask)
			tasks.POST("/:id/restart", s.restartTask)
			tasks.POST("/:id/rollback", s.rollbackTask)
			tasks.GET("/:id/executions", s.listExecutions)
		}

		assets := api.Group("/assets")
		{
			assets.GET("", s.listAssets)
			assets.POST("", s.createAsset)
			assets.GET("/:id", s.getAsset)
			assets.PUT("/:id", s.updateAsset)
			assets.DELETE("/:id", s.deleteAsset)
			assets.POST("/:id/verify", s.verifyAsset)
		}

		api.GET("/events", s.streamEvents)
	}
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API listening")
	s.health.Update("api", true, "listening on "+addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.health.Update("api", false, err.Error())
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Update("api", false, "stopped")
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// instrument records request metrics and logs each request at debug level
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method + " " + route
		status := c.Writer.Status()

		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Msg("Request")
	}
}
