// Package segments holds the pure logic shared by the supervisor, aggregator
// and sweeper: segment file naming, minute bucketing and directory queries.
// Nothing here spawns processes or caches state; the filesystem is the source
// of truth.
package segments

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// NameLayout matches the strftime pattern the capture process writes
// (%Y%m%d_%H%M%S), second resolution, local time.
const NameLayout = "20060102_150405"

// MergedLayout names merged files by their minute bucket (%Y%m%d_%H%M).
const MergedLayout = "20060102_1504"

const ext = ".mp4"

// TmpSuffix marks in-progress merge outputs. The sweeper and the aggregator
// only ever consider plain .mp4 names, so a crash mid-merge leaves debris
// that is invisible to both until the next merge replaces it.
const TmpSuffix = ".tmp" + ext

// SegmentFile is one capture output, identified by the start time encoded in
// its filename.
type SegmentFile struct {
	Path  string
	Name  string
	Start time.Time
}

// Bucket groups the segments whose names fall inside one wall-clock minute,
// ascending by start time.
type Bucket struct {
	Start    time.Time
	Segments []SegmentFile
}

// Name formats the segment filename the capture process would produce for t.
func Name(t time.Time) string {
	return t.Format(NameLayout) + ext
}

// MergedName formats the merged filename for a bucket start.
func MergedName(bucket time.Time) string {
	return bucket.Format(MergedLayout) + ext
}

// ParseName extracts the start time from a segment filename. Anything that is
// not exactly a NameLayout stamp plus the .mp4 extension is rejected; callers
// skip such files rather than guess.
func ParseName(name string) (time.Time, error) {
	stem, ok := strings.CutSuffix(name, ext)
	if !ok || strings.Contains(stem, ".") {
		return time.Time{}, fmt.Errorf("segment name %q: not a plain %s file", name, ext)
	}
	t, err := time.ParseInLocation(NameLayout, stem, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("segment name %q: %w", name, err)
	}
	return t, nil
}

// Minute truncates t to the start of its wall-clock minute.
func Minute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// List reads dir and returns the parsable segment files sorted ascending by
// start time, plus the names of .mp4 files that did not parse. A missing
// directory is not an error: the capture process simply has not produced
// anything yet.
func List(dir string) ([]SegmentFile, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("list segments in %s: %w", dir, err)
	}

	var (
		segs    []SegmentFile
		skipped []string
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ext) {
			continue
		}
		start, err := ParseName(name)
		if err != nil {
			skipped = append(skipped, name)
			continue
		}
		segs = append(segs, SegmentFile{
			Path:  filepath.Join(dir, name),
			Name:  name,
			Start: start,
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Start.Before(segs[j].Start) })
	return segs, skipped, nil
}

// GroupByMinute splits segments (already sorted ascending) into per-minute
// buckets, oldest bucket first.
func GroupByMinute(segs []SegmentFile) []Bucket {
	var buckets []Bucket
	for _, s := range segs {
		minute := Minute(s.Start)
		if n := len(buckets); n > 0 && buckets[n-1].Start.Equal(minute) {
			buckets[n-1].Segments = append(buckets[n-1].Segments, s)
			continue
		}
		buckets = append(buckets, Bucket{Start: minute, Segments: []SegmentFile{s}})
	}
	return buckets
}

// Latest returns the newest segment in the bucket.
func (b Bucket) Latest() SegmentFile {
	return b.Segments[len(b.Segments)-1]
}

// EligibleAt reports whether the bucket may be merged at now: its newest
// member must be older than now minus the grace delay, so the capture process
// can no longer be writing into this minute.
func (b Bucket) EligibleAt(now time.Time, delay time.Duration) bool {
	return b.Latest().Start.Before(now.Add(-delay))
}

// CountRecordings returns how many finished .mp4 files dir holds, ignoring
// in-progress tmp outputs. A missing or unreadable directory counts as zero.
func CountRecordings(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) || strings.HasSuffix(e.Name(), TmpSuffix) {
			continue
		}
		n++
	}
	return n
}

// LatestOutput returns the most recent modification time among the .mp4 files
// in dir. ok is false when the directory is missing or holds no such files.
// This is the stall detector's only signal: a healthy capture process keeps
// touching its current segment.
func LatestOutput(dir string) (latest time.Time, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime(); mt.After(latest) {
			latest = mt
			ok = true
		}
	}
	return latest, ok, nil
}
