package capture

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"argus-recorder-go/internal/models"
)

func testCamera() models.CameraConfig {
	return models.CameraConfig{
		Name:      "front_gate",
		RTSPURL:   "rtsp://10.0.0.5:554/stream1",
		OutputDir: "/var/recordings/front_gate",
	}
}

func TestFFmpegLauncher_args(t *testing.T) {
	l := NewFFmpegLauncher(60*time.Second, models.CaptureTuning{
		RTBufSize:    "100M",
		TimeoutMicro: 5000000,
	})
	args := l.args(testCamera())
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-rtsp_transport tcp",
		"-rtbufsize 100M",
		"-timeout 5000000",
		"-use_wallclock_as_timestamps 1",
		"-i rtsp://10.0.0.5:554/stream1",
		"-reset_timestamps 1",
		"-c:v copy",
		"-c:a aac",
		"-f segment",
		"-segment_time 60",
		"-segment_format mp4",
		"-strftime 1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	pattern := args[len(args)-1]
	wantPattern := filepath.Join("/var/recordings/front_gate", "segments", "%Y%m%d_%H%M%S.mp4")
	if pattern != wantPattern {
		t.Errorf("output pattern: got %q, want %q", pattern, wantPattern)
	}
}

func TestFFmpegLauncher_argsInputBeforeOutputOptions(t *testing.T) {
	l := NewFFmpegLauncher(60*time.Second, models.CaptureTuning{RTBufSize: "100M", TimeoutMicro: 5000000})
	args := l.args(testCamera())

	idx := func(flag string) int {
		for i, a := range args {
			if a == flag {
				return i
			}
		}
		t.Fatalf("flag %q not present", flag)
		return -1
	}
	// Transport tuning must precede -i to apply to the input; codec and
	// segmenting flags must follow it.
	if !(idx("-rtsp_transport") < idx("-i") && idx("-timeout") < idx("-i")) {
		t.Errorf("input options must come before -i: %v", args)
	}
	if !(idx("-i") < idx("-c:v") && idx("-i") < idx("-f")) {
		t.Errorf("output options must come after -i: %v", args)
	}
}

func TestFFmpegLauncher_LaunchCanceledContext(t *testing.T) {
	l := NewFFmpegLauncher(60*time.Second, models.CaptureTuning{RTBufSize: "100M", TimeoutMicro: 5000000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cam := testCamera()
	cam.OutputDir = t.TempDir()
	if _, err := l.Launch(ctx, cam); err == nil {
		t.Fatal("expected error launching with canceled context")
	}
}

func TestTailBuffer_keepsOnlyTail(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		if _, err := tb.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if got := tb.String(); got != "bbbbcccc" {
		t.Errorf("tail: got %q, want %q", got, "bbbbcccc")
	}
}

func TestTailBuffer_shortWrites(t *testing.T) {
	tb := &tailBuffer{limit: 16}
	if _, err := tb.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got := tb.String(); got != "hello" {
		t.Errorf("tail: got %q", got)
	}
}
