package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"argus-recorder-go/internal/segments"
)

const ffmpegBin = "ffmpeg"

// mergeTimeout bounds one concat run. Merging a minute of stream-copied video
// is I/O bound and normally takes seconds; anything near this limit is wedged.
const mergeTimeout = 5 * time.Minute

// Merger writes the merged file for one bucket. Implementations must either
// produce the complete file at dst or leave the filesystem as it was.
type Merger interface {
	Merge(ctx context.Context, segs []segments.SegmentFile, dst string) error
}

// FFmpegMerger concatenates segments losslessly with ffmpeg's concat demuxer:
// the streams are copied, never re-encoded. The output lands under a tmp name
// and is renamed over dst only after ffmpeg succeeds.
type FFmpegMerger struct{}

func (FFmpegMerger) Merge(ctx context.Context, segs []segments.SegmentFile, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create merged directory: %w", err)
	}

	list, err := writeConcatList(segs)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	tmp := tmpPath(dst)
	ctx, cancel := context.WithTimeout(ctx, mergeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegBin, mergeArgs(list, tmp)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg concat: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg concat: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize merged file: %w", err)
	}
	return nil
}

func mergeArgs(list, out string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-protocol_whitelist", "file,concat",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		"-f", "mp4",
		"-y",
		out,
	}
}

// writeConcatList writes the concat demuxer input: one absolute path per
// line, single-quoted, with embedded quotes escaped the ffmpeg way.
func writeConcatList(segs []segments.SegmentFile) (string, error) {
	f, err := os.CreateTemp("", "recorder-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	for _, seg := range segs {
		quoted := strings.ReplaceAll(seg.Path, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", quoted); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close concat list: %w", err)
	}
	return f.Name(), nil
}

func tmpPath(dst string) string {
	return strings.TrimSuffix(dst, ".mp4") + segments.TmpSuffix
}
