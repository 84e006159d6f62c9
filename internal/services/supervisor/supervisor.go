// Package supervisor keeps one capture process alive per camera. Whatever
// happens to the process (clean exit, crash, stall, unreachable camera), the
// supervisor converges back to a running capture after the reconnect delay.
// It never repairs files and never touches another camera's directories.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/models"
	"argus-recorder-go/internal/segments"
	"argus-recorder-go/internal/services/capture"
	"argus-recorder-go/internal/services/messaging"
)

// State is the atomic lifecycle state of one supervised camera.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStalled
	StateStopping
	StateWaiting
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStalled:
		return "stalled"
	case StateStopping:
		return "stopping"
	case StateWaiting:
		return "waiting"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Supervisor drives the restart loop for a single camera. Run owns at most
// one live capture process at a time; a new one is launched only after the
// previous one has been stopped and reaped.
type Supervisor struct {
	cam      models.CameraConfig
	policy   models.RecordingPolicy
	launcher capture.Launcher
	metrics  *metrics.Metrics
	events   *messaging.Events
	logger   zerolog.Logger
	now      func() time.Time

	state    int32
	restarts int64
	stalls   int64

	mu         sync.RWMutex
	startedAt  time.Time
	lastOutput time.Time
	lastExit   string
}

func New(cam models.CameraConfig, policy models.RecordingPolicy, launcher capture.Launcher, m *metrics.Metrics, events *messaging.Events, logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		cam:      cam,
		policy:   policy,
		launcher: launcher,
		metrics:  m,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
	s.setState(StateStarting)
	return s
}

func (s *Supervisor) setState(state State) {
	atomic.StoreInt32(&s.state, int32(state))
}

// GetState atomically reads the current lifecycle state.
func (s *Supervisor) GetState() State {
	return State(atomic.LoadInt32(&s.state))
}

// watchVerdict is why the watch loop left the RUNNING state.
type watchVerdict int

const (
	watchExit watchVerdict = iota
	watchStall
	watchShutdown
)

// Run blocks until ctx is canceled, restarting the capture process forever.
// The returned error is non-nil only when a capture process could not be
// killed; that camera's directories can no longer be considered exclusively
// owned and the error must reach the process exit code.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.setState(StateShuttingDown)
			return nil
		}

		s.setState(StateStarting)
		proc, err := s.launcher.Launch(ctx, s.cam)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateShuttingDown)
				return nil
			}
			s.logger.Error().Err(err).Msg("Failed to start capture process")
			s.recordExit(fmt.Sprintf("launch failed: %v", err))
			if s.waitReconnect(ctx) {
				return nil
			}
			continue
		}

		s.recordStart(proc.StartedAt())
		s.metrics.IncCaptureStarts()
		s.logger.Info().Int("pid", proc.Pid()).Msg("Capture process started")
		s.events.Publish(models.RecorderEvent{
			Type:   models.EventProcessStart,
			Camera: s.cam.Name,
		})
		s.setState(StateRunning)

		switch s.watch(ctx, proc) {
		case watchExit:
			s.handleExit(proc)
			if s.waitReconnect(ctx) {
				return nil
			}

		case watchStall:
			s.setState(StateStalled)
			atomic.AddInt64(&s.stalls, 1)
			s.metrics.IncStalls()
			s.logger.Warn().
				Dur("stall_timeout", s.policy.StallTimeout()).
				Msg("No segment output within stall timeout, restarting capture")
			s.events.Publish(models.RecorderEvent{
				Type:   models.EventStall,
				Camera: s.cam.Name,
			})

			s.setState(StateStopping)
			if err := proc.Stop(s.policy.StopGrace); err != nil {
				s.setState(StateShuttingDown)
				return fmt.Errorf("stop stalled capture for camera %s: %w", s.cam.Name, err)
			}
			s.handleExit(proc)
			if s.waitReconnect(ctx) {
				return nil
			}

		case watchShutdown:
			s.setState(StateShuttingDown)
			if err := proc.Stop(s.policy.StopGrace); err != nil {
				return fmt.Errorf("stop capture for camera %s: %w", s.cam.Name, err)
			}
			s.handleExit(proc)
			return nil
		}
	}
}

// watch polls the live process until it exits, stalls or shutdown is
// requested. A concurrent exit always wins over a stall verdict so an
// already-dead process is never "stopped" a second time.
func (s *Supervisor) watch(ctx context.Context, proc capture.Process) watchVerdict {
	ticker := time.NewTicker(s.policy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return watchShutdown
		case <-proc.Done():
			return watchExit
		case <-ticker.C:
			select {
			case <-proc.Done():
				return watchExit
			default:
			}
			latest, ok, err := segments.LatestOutput(s.cam.SegmentsDir())
			if err != nil {
				s.logger.Warn().Err(err).Msg("Stall check failed, keeping capture running")
				continue
			}
			if ok {
				s.recordOutput(latest)
			}
			if stalled(s.now(), proc.StartedAt(), latest, ok, s.policy.StallTimeout()) {
				return watchStall
			}
		}
	}
}

// waitReconnect sits in WAITING for the reconnect delay. Returns true when
// shutdown was requested while waiting.
func (s *Supervisor) waitReconnect(ctx context.Context) bool {
	s.setState(StateWaiting)
	atomic.AddInt64(&s.restarts, 1)
	s.metrics.IncRestarts()
	s.events.Publish(models.RecorderEvent{
		Type:   models.EventRestartWait,
		Camera: s.cam.Name,
		Detail: s.policy.ReconnectDelay.String(),
	})

	select {
	case <-ctx.Done():
		s.setState(StateShuttingDown)
		return true
	case <-time.After(s.policy.ReconnectDelay):
		return false
	}
}

func (s *Supervisor) handleExit(proc capture.Process) {
	<-proc.Done()
	exitErr := proc.ExitErr()
	detail := "exit status 0"
	if exitErr != nil {
		detail = exitErr.Error()
	}
	s.recordExit(detail)
	s.metrics.IncCaptureExits()

	evt := s.logger.Warn()
	if tail := proc.StderrTail(); tail != "" {
		evt = evt.Str("stderr_tail", tail)
	}
	var ee *exec.ExitError
	if errors.As(exitErr, &ee) {
		evt = evt.Int("exit_code", ee.ExitCode())
	}
	evt.Err(exitErr).Msg("Capture process exited")
	s.events.Publish(models.RecorderEvent{
		Type:   models.EventProcessExit,
		Camera: s.cam.Name,
		Detail: detail,
	})
}

func (s *Supervisor) recordStart(t time.Time) {
	s.mu.Lock()
	s.startedAt = t
	s.mu.Unlock()
}

func (s *Supervisor) recordOutput(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastOutput) {
		s.lastOutput = t
	}
	s.mu.Unlock()
}

func (s *Supervisor) recordExit(detail string) {
	s.mu.Lock()
	s.lastExit = detail
	s.mu.Unlock()
}

// Snapshot returns the camera's current status for the ops API.
func (s *Supervisor) Snapshot() models.CameraSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CameraSnapshot{
		Name:         s.cam.Name,
		State:        s.GetState().String(),
		StartedAt:    s.startedAt,
		LastOutputAt: s.lastOutput,
		Restarts:     atomic.LoadInt64(&s.restarts),
		Stalls:       atomic.LoadInt64(&s.stalls),
		LastExit:     s.lastExit,
		OutputDir:    s.cam.OutputDir,
	}
}
