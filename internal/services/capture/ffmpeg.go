package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"argus-recorder-go/internal/models"
)

const ffmpegBin = "ffmpeg"

// stderrTailSize bounds how much subprocess stderr is kept for diagnostics.
const stderrTailSize = 4096

// killWait bounds how long Stop waits for the kernel to reap after SIGKILL.
const killWait = 2 * time.Second

// FFmpegLauncher launches ffmpeg in stream-copy segment mode: no decoding,
// video copied as-is, audio transcoded to AAC so any codec fits in mp4.
type FFmpegLauncher struct {
	SegmentDuration time.Duration
	Tuning          models.CaptureTuning
}

func NewFFmpegLauncher(segmentDuration time.Duration, tuning models.CaptureTuning) *FFmpegLauncher {
	return &FFmpegLauncher{SegmentDuration: segmentDuration, Tuning: tuning}
}

func (l *FFmpegLauncher) args(cam models.CameraConfig) []string {
	pattern := filepath.Join(cam.SegmentsDir(), "%Y%m%d_%H%M%S.mp4")
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-rtbufsize", l.Tuning.RTBufSize,
		"-timeout", strconv.Itoa(l.Tuning.TimeoutMicro),
		"-use_wallclock_as_timestamps", "1",
		"-i", cam.RTSPURL,
		"-reset_timestamps", "1",
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(l.SegmentDuration.Seconds())),
		"-segment_format", "mp4",
		"-strftime", "1",
		pattern,
	}
}

// Launch creates the segments directory and starts ffmpeg. The returned
// Process is already being reaped in the background; callers watch Done.
func (l *FFmpegLauncher) Launch(ctx context.Context, cam models.CameraConfig) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cam.SegmentsDir(), 0755); err != nil {
		return nil, fmt.Errorf("create segments directory: %w", err)
	}

	tail := &tailBuffer{limit: stderrTailSize}
	cmd := exec.Command(ffmpegBin, l.args(cam)...)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for camera %s: %w", cam.Name, err)
	}

	p := &ffmpegProcess{
		camera:    cam.Name,
		cmd:       cmd,
		tail:      tail,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	log.Debug().
		Str("camera_id", cam.Name).
		Int("pid", cmd.Process.Pid).
		Str("segments_dir", cam.SegmentsDir()).
		Msg("ffmpeg capture started")
	return p, nil
}

type ffmpegProcess struct {
	camera    string
	cmd       *exec.Cmd
	tail      *tailBuffer
	startedAt time.Time
	done      chan struct{}
	exitErr   error
}

func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }

func (p *ffmpegProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

func (p *ffmpegProcess) StartedAt() time.Time { return p.startedAt }

func (p *ffmpegProcess) Pid() int { return p.cmd.Process.Pid }

func (p *ffmpegProcess) StderrTail() string { return p.tail.String() }

// Stop interrupts ffmpeg so it finalizes the segment it is writing, then
// escalates to SIGKILL after grace. The reaper goroutine started at launch
// consumes the exit either way.
func (p *ffmpegProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		log.Warn().Err(err).Str("camera_id", p.camera).Msg("Failed to send interrupt signal")
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	log.Warn().Str("camera_id", p.camera).Int("pid", p.Pid()).Msg("Force killing ffmpeg process")
	if err := p.cmd.Process.Kill(); err != nil && !processGone(err) {
		return fmt.Errorf("kill pid %d: %v: %w", p.Pid(), err, ErrUnkillable)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("pid %d did not exit after kill: %w", p.Pid(), ErrUnkillable)
	}
}

func processGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

// tailBuffer keeps the last limit bytes written to it. ffmpeg's stderr is
// unbounded over a long run; only the end matters when it dies.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
