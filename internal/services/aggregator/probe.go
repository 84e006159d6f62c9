package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const ffprobeBin = "ffprobe"

const probeTimeout = 30 * time.Second

// minSegmentSize rejects stubs the capture process created but never filled,
// typically the file being written when ffmpeg was killed.
const minSegmentSize = 1024

// Prober decides whether a segment file can contribute to a merge.
type Prober interface {
	Probe(ctx context.Context, path string) error
}

// FFprobeProber validates a segment with ffprobe: it must be large enough to
// hold real data, contain a video stream, and report a sane duration. A
// truncated moov atom fails here instead of poisoning the concat.
type FFprobeProber struct{}

func (FFprobeProber) Probe(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat segment: %w", err)
	}
	if info.Size() < minSegmentSize {
		return fmt.Errorf("segment is %d bytes, below the %d byte minimum", info.Size(), minSegmentSize)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("ffprobe: %w", err)
	}
	return evalProbe(out)
}

type probeReport struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func evalProbe(data []byte) error {
	var report probeReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parse ffprobe output: %w", err)
	}

	hasVideo := false
	for _, s := range report.Streams {
		if s.CodecType == "video" {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return fmt.Errorf("no video stream")
	}

	dur, err := strconv.ParseFloat(report.Format.Duration, 64)
	if err != nil {
		return fmt.Errorf("unreadable duration %q", report.Format.Duration)
	}
	if dur <= 0 || math.IsInf(dur, 0) || math.IsNaN(dur) {
		return fmt.Errorf("invalid duration %v", dur)
	}
	return nil
}
