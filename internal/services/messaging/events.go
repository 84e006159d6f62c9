package messaging

import (
	"time"

	"github.com/rs/zerolog/log"

	"argus-recorder-go/internal/models"
)

const eventSubject = "recorder.events"

// Events publishes recorder lifecycle events over NATS. A nil *Events is
// valid and drops everything, so recording works with no broker configured.
type Events struct {
	svc *Service
}

func NewEvents(svc *Service) *Events {
	if svc == nil {
		return nil
	}
	return &Events{svc: svc}
}

// Publish stamps and sends the event. Errors are logged, never returned:
// event delivery is best-effort and must not slow down recording.
func (e *Events) Publish(ev models.RecorderEvent) {
	if e == nil || e.svc == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	subject := eventSubject
	if ev.Camera != "" {
		subject += "." + ev.Camera
	}
	if err := e.svc.Publish(subject, ev); err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("Failed to publish recorder event")
	}
}
