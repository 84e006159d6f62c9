// Package aggregator folds completed minute buckets of segment files into
// single merged recordings. Merges are all-or-nothing: a segment file is only
// ever deleted after the merged file that contains it has been renamed into
// place. When in doubt the aggregator leaves files alone and retries on the
// next tick.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/models"
	"argus-recorder-go/internal/segments"
	"argus-recorder-go/internal/services/messaging"
)

// ErrNoValidSegments means every segment in an eligible bucket failed
// validation. The bucket is retried next tick; retention is the backstop if
// the files never become readable.
var ErrNoValidSegments = errors.New("no valid segments in bucket")

// Aggregator merges one camera's segments. Each camera gets its own instance
// and goroutine; instances never touch another camera's directories.
type Aggregator struct {
	cam     models.CameraConfig
	policy  models.RecordingPolicy
	merger  Merger
	prober  Prober
	metrics *metrics.Metrics
	events  *messaging.Events
	logger  zerolog.Logger
	now     func() time.Time
}

func New(cam models.CameraConfig, policy models.RecordingPolicy, merger Merger, prober Prober, m *metrics.Metrics, events *messaging.Events, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cam:     cam,
		policy:  policy,
		merger:  merger,
		prober:  prober,
		metrics: m,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// Run ticks immediately, then every merge interval, until ctx is canceled.
// The immediate tick picks up whatever a previous run left behind.
func (a *Aggregator) Run(ctx context.Context) {
	a.logger.Info().Dur("interval", a.policy.MergeInterval).Msg("Segment aggregator started")
	ticker := time.NewTicker(a.policy.MergeInterval)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug().Msg("Segment aggregator stopped")
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick scans the segments directory once and merges every eligible bucket,
// oldest first. Errors are logged per bucket and never stop the scan: one
// corrupt minute must not hold back the rest of the backlog.
func (a *Aggregator) tick(ctx context.Context) {
	segs, skipped, err := segments.List(a.cam.SegmentsDir())
	if err != nil {
		a.logger.Error().Err(err).Msg("Segment listing failed, skipping merge tick")
		return
	}
	if len(skipped) > 0 {
		a.logger.Debug().Strs("files", skipped).Msg("Ignoring foreign files in segments directory")
	}

	now := a.now()
	for _, bucket := range segments.GroupByMinute(segs) {
		if ctx.Err() != nil {
			return
		}
		if !bucket.EligibleAt(now, a.policy.MergeDelay) {
			continue
		}
		if err := a.mergeBucket(ctx, bucket); err != nil {
			a.metrics.IncMergeFailures()
			a.logger.Error().Err(err).
				Str("bucket", bucket.Start.Format(segments.MergedLayout)).
				Int("segments", len(bucket.Segments)).
				Msg("Bucket merge failed, will retry next tick")
			a.events.Publish(models.RecorderEvent{
				Type:   models.EventMergeFailure,
				Camera: a.cam.Name,
				Bucket: bucket.Start.Format(segments.MergedLayout),
				Detail: err.Error(),
			})
		}
	}
}

func (a *Aggregator) mergeBucket(ctx context.Context, b segments.Bucket) error {
	label := b.Start.Format(segments.MergedLayout)
	dst := filepath.Join(a.cam.MergedDir(), segments.MergedName(b.Start))

	// Recovery: an existing merged file is authoritative for its bucket. Any
	// segments still on disk are leftovers of an interrupted delete (or were
	// excluded from the merge) and can go without touching the merged file.
	if _, err := os.Stat(dst); err == nil {
		removed := a.removeSegments(b.Segments)
		a.logger.Info().
			Str("bucket", label).
			Int("removed", removed).
			Msg("Removed leftover segments for already-merged bucket")
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat merged file: %w", err)
	}

	valid := make([]segments.SegmentFile, 0, len(b.Segments))
	for _, seg := range b.Segments {
		if err := a.prober.Probe(ctx, seg.Path); err != nil {
			a.logger.Warn().Err(err).Str("segment", seg.Name).Msg("Excluding segment from merge")
			continue
		}
		valid = append(valid, seg)
	}
	if len(valid) == 0 {
		return fmt.Errorf("bucket %s: %w", label, ErrNoValidSegments)
	}

	if err := a.merger.Merge(ctx, valid, dst); err != nil {
		return fmt.Errorf("bucket %s: %w", label, err)
	}

	a.metrics.IncMerges()
	a.metrics.AddSegmentsMerged(len(valid))
	a.events.Publish(models.RecorderEvent{
		Type:   models.EventMerge,
		Camera: a.cam.Name,
		Bucket: label,
		Count:  len(valid),
	})

	// Only the segments that went into the merged file are removed here.
	// Excluded ones stay behind and are collected by the recovery path on the
	// next tick, once the merged file exists.
	removed := a.removeSegments(valid)
	a.logger.Info().
		Str("bucket", label).
		Int("segments", len(valid)).
		Int("removed", removed).
		Str("merged", dst).
		Msg("Bucket merged")
	return nil
}

// removeSegments deletes the given segment files, logging failures instead of
// returning them: the merged file already exists, so anything that survives
// the delete is picked up by recovery on a later tick.
func (a *Aggregator) removeSegments(segs []segments.SegmentFile) int {
	removed := 0
	for _, seg := range segs {
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			a.logger.Warn().Err(err).Str("segment", seg.Name).Msg("Failed to remove merged segment")
			continue
		}
		removed++
	}
	return removed
}
