// Package capture owns the ffmpeg subprocess that copies one RTSP stream to
// disk as timestamped segment files. It knows nothing about restart policy;
// the supervisor decides when to launch and stop.
package capture

import (
	"context"
	"errors"
	"time"

	"argus-recorder-go/internal/models"
)

// ErrUnkillable reports a capture process that survived SIGKILL. The caller
// can no longer guarantee exclusive write access to the camera's directories.
var ErrUnkillable = errors.New("capture process survived kill")

// Launcher starts one capture process for a camera. Implementations must be
// safe for concurrent use across supervisors.
type Launcher interface {
	Launch(ctx context.Context, cam models.CameraConfig) (Process, error)
}

// Process is a handle on one live capture subprocess.
type Process interface {
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// ExitErr reports how the process ended; only valid after Done is closed.
	// nil means exit status 0.
	ExitErr() error

	// Stop asks the process to finish, waits up to grace, then kills it.
	// Stop on an already-exited process is a no-op. A returned error wraps
	// ErrUnkillable.
	Stop(grace time.Duration) error

	// StderrTail returns the last few KiB of the process's stderr, for exit
	// diagnostics. Complete only after Done is closed.
	StderrTail() string

	StartedAt() time.Time
	Pid() int
}
