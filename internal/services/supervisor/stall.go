package supervisor

import "time"

// stalled decides whether a capture process is dead weight. The reference
// point is the newest segment activity, or the process start when nothing has
// been written yet (hasOutput false), so a freshly launched process gets the
// full timeout to produce its first file.
func stalled(now, startedAt, lastOutput time.Time, hasOutput bool, timeout time.Duration) bool {
	ref := startedAt
	if hasOutput && lastOutput.After(ref) {
		ref = lastOutput
	}
	return now.Sub(ref) > timeout
}
