package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"argus-recorder-go/internal/logging"
)

type HealthResponse struct {
	Status     string `json:"status"`
	RecorderID string `json:"recorder_id"`
}

type RecorderInfoResponse struct {
	RecorderID string `json:"recorder_id"`
	Version    string `json:"version"`
	Cameras    int    `json:"cameras"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		RecorderID: s.config.RecorderID,
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, RecorderInfoResponse{
		RecorderID: s.config.RecorderID,
		Version:    s.config.Version,
		Cameras:    len(s.config.Cameras),
	})
}

func (s *Server) handleListCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": s.status.Snapshot()})
}

func (s *Server) handleGetCamera(c *gin.Context) {
	name := c.Param("name")
	snap, ok := s.status.Camera(name)
	if !ok {
		logging.Warn(c).Str("camera_id", name).Msg("Camera not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
