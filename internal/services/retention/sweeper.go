// Package retention deletes recordings past their retention age. Age is read
// from file modification time and applies to segments and merged files alike,
// whatever their merge state: the sweeper is the disk-usage backstop, not
// part of the merge pipeline.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/models"
	"argus-recorder-go/internal/segments"
	"argus-recorder-go/internal/services/messaging"
)

// Sweeper is the single retention goroutine for the whole camera fleet.
type Sweeper struct {
	cameras []models.CameraConfig
	policy  models.RecordingPolicy
	metrics *metrics.Metrics
	events  *messaging.Events
	logger  zerolog.Logger
	now     func() time.Time
}

func New(cameras []models.CameraConfig, policy models.RecordingPolicy, m *metrics.Metrics, events *messaging.Events, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cameras: cameras,
		policy:  policy,
		metrics: m,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// Run sweeps immediately, then every sweep interval, until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.policy.SweepInterval).
		Int("retention_days", s.policy.RetentionDays).
		Msg("Retention sweeper started")
	ticker := time.NewTicker(s.policy.SweepInterval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("Retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep walks every camera's segments and merged directories once and removes
// expired files. Returns the number of files deleted and bytes freed.
func (s *Sweeper) sweep(ctx context.Context) (int, int64) {
	cutoff := s.now().Add(-s.policy.RetentionAge())
	deleted, freed := 0, int64(0)

	for _, cam := range s.cameras {
		if ctx.Err() != nil {
			break
		}
		for _, dir := range []string{cam.SegmentsDir(), cam.MergedDir()} {
			n, b := s.sweepDir(dir, cutoff)
			deleted += n
			freed += b
		}
	}

	if deleted > 0 {
		s.metrics.AddFilesDeleted(deleted)
		s.metrics.AddBytesFreed(freed)
		s.logger.Info().
			Int("deleted", deleted).
			Int64("freed_bytes", freed).
			Time("cutoff", cutoff).
			Msg("Retention sweep removed expired recordings")
		s.events.Publish(models.RecorderEvent{
			Type:   models.EventSweep,
			Count:  deleted,
			Detail: fmt.Sprintf("%d bytes freed", freed),
		})
	} else {
		s.logger.Debug().Time("cutoff", cutoff).Msg("Retention sweep found nothing to remove")
	}
	return deleted, freed
}

func (s *Sweeper) sweepDir(dir string, cutoff time.Time) (int, int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Retention scan failed")
		}
		return 0, 0
	}

	deleted, freed := 0, int64(0)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, segments.TmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to remove expired file")
			continue
		}
		deleted++
		freed += info.Size()
		s.logger.Debug().Str("file", name).Time("mtime", info.ModTime()).Msg("Removed expired recording")
	}
	return deleted, freed
}
