package models

import (
	"path/filepath"
	"time"
)

// CameraConfig is the immutable per-camera recording configuration. It is
// built once from the validated config file and shared read-only between the
// supervisor, aggregator and sweeper for that camera.
type CameraConfig struct {
	Name      string
	RTSPURL   string
	OutputDir string
}

// SegmentsDir returns the directory the capture subprocess writes short
// segment files into.
func (c CameraConfig) SegmentsDir() string {
	return filepath.Join(c.OutputDir, "segments")
}

// MergedDir returns the directory minute-level merged recordings land in.
func (c CameraConfig) MergedDir() string {
	return filepath.Join(c.OutputDir, "merged")
}

// RecordingPolicy holds the timing knobs shared by all cameras.
type RecordingPolicy struct {
	SegmentDuration time.Duration // length of each capture segment
	RetentionDays   int           // files older than this are swept
	ReconnectDelay  time.Duration // pause between capture restarts
	MergeInterval   time.Duration // aggregator tick period
	MergeDelay      time.Duration // grace before a bucket becomes eligible
	StallMultiplier int           // stall timeout = SegmentDuration * this
	PollInterval    time.Duration // liveness poll period while recording
	StopGrace       time.Duration // SIGTERM-to-SIGKILL window
	SweepInterval   time.Duration // retention sweeper tick period
}

// StallTimeout is how long the segments directory may stay quiet while the
// capture subprocess is alive before the camera is declared stalled.
func (p RecordingPolicy) StallTimeout() time.Duration {
	return p.SegmentDuration * time.Duration(p.StallMultiplier)
}

// RetentionAge is the RetentionDays threshold as a duration.
func (p RecordingPolicy) RetentionAge() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// CaptureTuning carries the ffmpeg input options forwarded verbatim to the
// capture subprocess.
type CaptureTuning struct {
	RTBufSize    string // -rtbufsize value, e.g. "100M"
	TimeoutMicro int    // -timeout value in microseconds
}

// CameraSnapshot is the read-only view of one camera served by the ops API.
// SegmentFiles and MergedFiles are counted from disk when the snapshot is
// taken; the filesystem is the only store of recording state.
type CameraSnapshot struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastOutputAt time.Time `json:"last_output_at,omitempty"`
	Restarts     int64     `json:"restarts"`
	Stalls       int64     `json:"stalls"`
	LastExit     string    `json:"last_exit,omitempty"`
	OutputDir    string    `json:"output_dir"`
	SegmentFiles int       `json:"segment_files"`
	MergedFiles  int       `json:"merged_files"`
}
