package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"argus-recorder-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("recorder_id", cfg.RecorderID).Str("service", service).Logger()
}

func WithCamera(base zerolog.Logger, camera string) zerolog.Logger {
	return base.With().Str("camera_id", camera).Logger()
}
