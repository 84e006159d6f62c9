// Package api serves the read-only ops surface: camera status, health and
// Prometheus metrics. It never mutates the recording fleet; cameras are
// added and removed through the config file and a restart.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"argus-recorder-go/internal/config"
	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/models"
)

// Status is the view of the recording fleet the API reads. The recording
// manager implements it.
type Status interface {
	Snapshot() []models.CameraSnapshot
	Camera(name string) (models.CameraSnapshot, bool)
	ActiveCameras() int
}

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	status  Status
	metrics *metrics.Metrics
}

func NewServer(cfg *config.Config, status Status, m *metrics.Metrics) (*Server, error) {
	if status == nil {
		return nil, fmt.Errorf("api: nil status source")
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		status:  status,
		metrics: m,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s, nil
}

func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting ops API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops API: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping ops API")
	return s.server.Shutdown(ctx)
}
