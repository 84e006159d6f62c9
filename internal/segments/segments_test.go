package segments

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseName_roundTrip(t *testing.T) {
	start := time.Date(2025, 1, 14, 14, 30, 52, 0, time.Local)
	name := Name(start)
	if name != "20250114_143052.mp4" {
		t.Fatalf("Name: got %q", name)
	}
	parsed, err := ParseName(name)
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if !parsed.Equal(start) {
		t.Errorf("round trip: got %v, want %v", parsed, start)
	}
}

func TestParseName_rejectsForeignNames(t *testing.T) {
	for _, name := range []string{
		"notasegment.mp4",
		"20250114_1430.mp4",        // minute resolution is a merged name
		"20250114_143052.tmp.mp4",  // in-progress merge output
		"20250114_143052.mp4.part",
		"20250114_143052",
		"20251399_996161.mp4", // digits but not a date
		".mp4",
	} {
		if _, err := ParseName(name); err == nil {
			t.Errorf("ParseName(%q) should fail", name)
		}
	}
}

func TestMergedName(t *testing.T) {
	bucket := time.Date(2025, 1, 14, 14, 30, 0, 0, time.Local)
	if got := MergedName(bucket); got != "20250114_1430.mp4" {
		t.Errorf("MergedName: got %q", got)
	}
}

func TestMinute(t *testing.T) {
	in := time.Date(2025, 1, 14, 14, 30, 52, 123, time.Local)
	want := time.Date(2025, 1, 14, 14, 30, 0, 0, time.Local)
	if got := Minute(in); !got.Equal(want) {
		t.Errorf("Minute: got %v, want %v", got, want)
	}
}

func TestList_sortedAndSkipsUnparsable(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"20250114_143052.mp4",
		"20250114_143000.mp4",
		"20250114_142956.mp4",
		"leftover.mp4",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}

	segs, skipped, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Start.Before(segs[i-1].Start) {
			t.Errorf("segments out of order: %v before %v", segs[i].Start, segs[i-1].Start)
		}
	}
	if len(skipped) != 1 || skipped[0] != "leftover.mp4" {
		t.Errorf("skipped: got %v", skipped)
	}
}

func TestList_missingDir(t *testing.T) {
	segs, skipped, err := List(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("missing directory should not be an error, got %v", err)
	}
	if segs != nil || skipped != nil {
		t.Errorf("expected empty result, got %v %v", segs, skipped)
	}
}

func TestGroupByMinute(t *testing.T) {
	mk := func(h, m, s int) SegmentFile {
		start := time.Date(2025, 1, 14, h, m, s, 0, time.Local)
		return SegmentFile{Name: Name(start), Start: start}
	}
	segs := []SegmentFile{
		mk(14, 29, 55),
		mk(14, 30, 0), mk(14, 30, 12), mk(14, 30, 52),
		mk(14, 32, 3),
	}
	buckets := GroupByMinute(segs)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if !buckets[0].Start.Equal(time.Date(2025, 1, 14, 14, 29, 0, 0, time.Local)) {
		t.Errorf("oldest bucket first, got %v", buckets[0].Start)
	}
	if len(buckets[1].Segments) != 3 {
		t.Errorf("14:30 bucket should hold 3 segments, got %d", len(buckets[1].Segments))
	}
	if got := buckets[1].Latest().Start.Second(); got != 52 {
		t.Errorf("latest of 14:30 bucket: got second %d", got)
	}
}

func TestBucket_EligibleAt(t *testing.T) {
	latest := time.Date(2025, 1, 14, 14, 30, 52, 0, time.Local)
	b := Bucket{
		Start:    Minute(latest),
		Segments: []SegmentFile{{Start: latest}},
	}
	delay := 120 * time.Second

	// 14:33:05 tick: 14:30:52 is older than 14:31:05, merge may proceed.
	if !b.EligibleAt(time.Date(2025, 1, 14, 14, 33, 5, 0, time.Local), delay) {
		t.Error("bucket should be eligible at 14:33:05 with 120s delay")
	}
	// 14:32:00 tick: 14:30:52 is newer than 14:30:00, capture may still be
	// writing into this minute.
	if b.EligibleAt(time.Date(2025, 1, 14, 14, 32, 0, 0, time.Local), delay) {
		t.Error("bucket should not be eligible at 14:32:00 with 120s delay")
	}
}

func TestLatestOutput(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := LatestOutput(dir)
	if err != nil || ok {
		t.Fatalf("empty dir: ok=%v err=%v", ok, err)
	}

	old := filepath.Join(dir, "20250114_142900.mp4")
	fresh := filepath.Join(dir, "20250114_143000.mp4")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	oldTime := time.Now().Add(-10 * time.Minute)
	freshTime := time.Now().Add(-30 * time.Second)
	if err := os.Chtimes(old, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(fresh, freshTime, freshTime); err != nil {
		t.Fatal(err)
	}

	latest, ok, err := LatestOutput(dir)
	if err != nil || !ok {
		t.Fatalf("LatestOutput: ok=%v err=%v", ok, err)
	}
	if latest.Sub(freshTime).Abs() > time.Second {
		t.Errorf("latest should be the fresh file mtime, got %v want %v", latest, freshTime)
	}
}

func TestLatestOutput_missingDir(t *testing.T) {
	_, ok, err := LatestOutput(filepath.Join(t.TempDir(), "gone"))
	if err != nil {
		t.Fatalf("missing dir should not be an error, got %v", err)
	}
	if ok {
		t.Error("expected ok false for missing dir")
	}
}

func TestCountRecordings(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"20250114_143000.mp4",
		"20250114_1430.mp4",
		"20250114_1431.tmp.mp4", // in-progress, not counted
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := CountRecordings(dir); got != 2 {
		t.Errorf("CountRecordings: got %d, want 2", got)
	}
	if got := CountRecordings(filepath.Join(dir, "gone")); got != 0 {
		t.Errorf("missing dir: got %d, want 0", got)
	}
}
