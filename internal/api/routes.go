package api

import "github.com/gin-gonic/gin"

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleInfo)
	s.router.GET("/health", s.handleHealth)

	cameras := s.router.Group("/cameras")
	{
		cameras.GET("", s.handleListCameras)
		cameras.GET("/:name", s.handleGetCamera)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler(func() {
			s.metrics.SetActiveCameras(s.status.ActiveCameras())
		})))
	}
}
