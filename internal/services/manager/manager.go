// Package manager wires the per-camera recording units together: one
// supervisor and one aggregator per camera, plus the shared retention
// sweeper. It owns their goroutines and the shutdown path.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"argus-recorder-go/internal/config"
	"argus-recorder-go/internal/logging"
	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/models"
	"argus-recorder-go/internal/segments"
	"argus-recorder-go/internal/services/aggregator"
	"argus-recorder-go/internal/services/capture"
	"argus-recorder-go/internal/services/messaging"
	"argus-recorder-go/internal/services/retention"
	"argus-recorder-go/internal/services/supervisor"
)

// Manager holds every recording unit for the configured fleet.
type Manager struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	supervisors map[string]*supervisor.Supervisor
	aggregators []*aggregator.Aggregator
	sweeper     *retention.Sweeper
	cams        map[string]models.CameraConfig
	order       []string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runErrs []error
}

// New builds the fleet from validated config with the real ffmpeg-backed
// launcher, merger and prober.
func New(cfg *config.Config, m *metrics.Metrics, events *messaging.Events) *Manager {
	launcher := capture.NewFFmpegLauncher(cfg.Policy.SegmentDuration, cfg.Tuning)
	return newWithDeps(cfg, m, events, launcher, aggregator.FFmpegMerger{}, aggregator.FFprobeProber{})
}

func newWithDeps(cfg *config.Config, m *metrics.Metrics, events *messaging.Events, launcher capture.Launcher, merger aggregator.Merger, prober aggregator.Prober) *Manager {
	mgr := &Manager{
		cfg:         cfg,
		metrics:     m,
		supervisors: make(map[string]*supervisor.Supervisor, len(cfg.Cameras)),
		cams:        make(map[string]models.CameraConfig, len(cfg.Cameras)),
	}

	for _, r := range cfg.Rejected {
		log.Warn().Err(r.Err).Str("camera_id", r.Name).Msg("Skipping invalid camera entry")
	}

	supLog := logging.NewServiceLogger(cfg, "supervisor")
	aggLog := logging.NewServiceLogger(cfg, "aggregator")
	for _, cam := range cfg.Cameras {
		mgr.supervisors[cam.Name] = supervisor.New(
			cam, cfg.Policy, launcher, m, events, logging.WithCamera(supLog, cam.Name))
		mgr.aggregators = append(mgr.aggregators, aggregator.New(
			cam, cfg.Policy, merger, prober, m, events, logging.WithCamera(aggLog, cam.Name)))
		mgr.cams[cam.Name] = cam
		mgr.order = append(mgr.order, cam.Name)
	}
	mgr.sweeper = retention.New(cfg.Cameras, cfg.Policy, m, events, logging.NewServiceLogger(cfg, "retention"))

	log.Info().
		Int("cameras", len(cfg.Cameras)).
		Int("rejected", len(cfg.Rejected)).
		Dur("segment_duration", cfg.Policy.SegmentDuration).
		Int("retention_days", cfg.Policy.RetentionDays).
		Msg("Recording manager initialized")
	return mgr
}

// Start launches every unit in its own goroutine. It is not restartable.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	for _, name := range m.order {
		sup := m.supervisors[name]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := sup.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Camera supervisor died")
				m.recordErr(err)
			}
		}()
	}
	for _, agg := range m.aggregators {
		a := agg
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			a.Run(ctx)
		}()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sweeper.Run(ctx)
	}()

	m.metrics.SetActiveCameras(len(m.order))
}

// Shutdown cancels every unit and waits for them, bounded by ctx. The
// returned error carries any capture process that could not be killed; the
// caller turns that into a non-zero exit code.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("recording units did not stop in time: %w", ctx.Err())
	}

	m.metrics.SetActiveCameras(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runErrs) > 0 {
		return errors.Join(m.runErrs...)
	}
	return nil
}

func (m *Manager) recordErr(err error) {
	m.mu.Lock()
	m.runErrs = append(m.runErrs, err)
	m.mu.Unlock()
}

// Snapshot returns every camera's status in config order.
func (m *Manager) Snapshot() []models.CameraSnapshot {
	out := make([]models.CameraSnapshot, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.snapshot(name))
	}
	return out
}

// Camera returns one camera's status.
func (m *Manager) Camera(name string) (models.CameraSnapshot, bool) {
	if _, ok := m.supervisors[name]; !ok {
		return models.CameraSnapshot{}, false
	}
	return m.snapshot(name), true
}

func (m *Manager) snapshot(name string) models.CameraSnapshot {
	snap := m.supervisors[name].Snapshot()
	cam := m.cams[name]
	snap.SegmentFiles = segments.CountRecordings(cam.SegmentsDir())
	snap.MergedFiles = segments.CountRecordings(cam.MergedDir())
	return snap
}

// ActiveCameras counts supervisors that have not shut down, for the gauge.
func (m *Manager) ActiveCameras() int {
	n := 0
	for _, name := range m.order {
		if m.supervisors[name].GetState() != supervisor.StateShuttingDown {
			n++
		}
	}
	return n
}
