package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/models"
	"argus-recorder-go/internal/services/capture"
)

type fakeProcess struct {
	pid       int
	started   time.Time
	done      chan struct{}
	exitOnce  sync.Once
	exitErr   error
	stopErr   error
	stopCalls int32
	tail      string
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

func (p *fakeProcess) Stop(grace time.Duration) error {
	atomic.AddInt32(&p.stopCalls, 1)
	if p.stopErr != nil {
		return p.stopErr
	}
	p.exit(nil)
	return nil
}

func (p *fakeProcess) StderrTail() string   { return p.tail }
func (p *fakeProcess) StartedAt() time.Time { return p.started }
func (p *fakeProcess) Pid() int             { return p.pid }

func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		close(p.done)
	})
}

// fakeLauncher records every launch and flags any launch that happens while a
// previous process is still live.
type fakeLauncher struct {
	mu          sync.Mutex
	procs       []*fakeProcess
	failures    int // fail the first N launches
	launches    int
	overlap     bool
	startOffset time.Duration // age of each launched process
	stopErr     error
}

func (l *fakeLauncher) Launch(ctx context.Context, cam models.CameraConfig) (capture.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches++
	if l.launches <= l.failures {
		return nil, errors.New("connection refused")
	}
	for _, p := range l.procs {
		select {
		case <-p.done:
		default:
			l.overlap = true
		}
	}
	p := &fakeProcess{
		pid:     1000 + l.launches,
		started: time.Now().Add(l.startOffset),
		done:    make(chan struct{}),
		stopErr: l.stopErr,
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) waitForLaunch(t *testing.T, n int) *fakeProcess {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		if len(l.procs) >= n {
			p := l.procs[n-1]
			l.mu.Unlock()
			return p
		}
		l.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("launch %d never happened", n)
	return nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func testPolicy() models.RecordingPolicy {
	return models.RecordingPolicy{
		SegmentDuration: 60 * time.Second,
		RetentionDays:   7,
		ReconnectDelay:  time.Millisecond,
		MergeInterval:   time.Minute,
		MergeDelay:      2 * time.Minute,
		StallMultiplier: 3,
		PollInterval:    time.Millisecond,
		StopGrace:       10 * time.Millisecond,
		SweepInterval:   time.Hour,
	}
}

func testSupervisor(t *testing.T, l *fakeLauncher) *Supervisor {
	t.Helper()
	cam := models.CameraConfig{
		Name:      "cam1",
		RTSPURL:   "rtsp://10.0.0.5/stream",
		OutputDir: t.TempDir(),
	}
	return New(cam, testPolicy(), l, metrics.New(), nil, zerolog.Nop())
}

func TestSupervisor_restartsAfterExit(t *testing.T) {
	l := &fakeLauncher{}
	s := testSupervisor(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	p1 := l.waitForLaunch(t, 1)
	p1.exit(errors.New("exit status 1"))

	// The second launch proves the restart cycle completed; p1's exit is
	// recorded by then and the live p2 has not overwritten it yet.
	l.waitForLaunch(t, 2)
	if got := s.Snapshot().LastExit; got != "exit status 1" {
		t.Errorf("last exit: got %q", got)
	}
	if got := s.Snapshot().Restarts; got < 1 {
		t.Errorf("restarts: got %d, want at least 1", got)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if l.overlap {
		t.Error("a new capture process was launched while the previous one was still live")
	}
}

func TestSupervisor_retriesFailedLaunch(t *testing.T) {
	l := &fakeLauncher{failures: 2}
	s := testSupervisor(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	l.waitForLaunch(t, 1) // first successful launch is attempt 3
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	l.mu.Lock()
	attempts := l.launches
	l.mu.Unlock()
	if attempts < 3 {
		t.Errorf("expected at least 3 launch attempts, got %d", attempts)
	}
}

func TestSupervisor_stallKillsAndRestarts(t *testing.T) {
	// Processes report a start an hour in the past and never write a segment,
	// so the very first poll sees them past the 180s stall timeout.
	l := &fakeLauncher{startOffset: -time.Hour}
	s := testSupervisor(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	p1 := l.waitForLaunch(t, 1)
	l.waitForLaunch(t, 2)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if atomic.LoadInt32(&p1.stopCalls) == 0 {
		t.Error("stalled process was never stopped")
	}
	if got := s.Snapshot().Stalls; got < 1 {
		t.Errorf("stalls: got %d, want at least 1", got)
	}
	if l.overlap {
		t.Error("overlapping capture processes during stall restart")
	}
}

func TestSupervisor_watch_exitBeatsStall(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})

	// Both verdicts are due at once: the process is long past the stall
	// timeout and has already exited. Exit must win.
	p := &fakeProcess{started: time.Now().Add(-time.Hour), done: make(chan struct{})}
	p.exit(errors.New("exit status 1"))

	if got := s.watch(context.Background(), p); got != watchExit {
		t.Errorf("verdict: got %v, want watchExit", got)
	}
}

func TestSupervisor_freshProcessGetsFullTimeout(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})

	p := &fakeProcess{started: time.Now(), done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// No output yet, but the process just started: the watch loop must not
	// declare a stall, only shutdown ends it.
	if got := s.watch(ctx, p); got != watchShutdown {
		t.Errorf("verdict: got %v, want watchShutdown", got)
	}
}

func TestSupervisor_shutdownStopsProcess(t *testing.T) {
	l := &fakeLauncher{}
	s := testSupervisor(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	p := l.waitForLaunch(t, 1)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&p.stopCalls) != 1 {
		t.Errorf("stop calls: got %d, want 1", atomic.LoadInt32(&p.stopCalls))
	}
	if got := s.GetState(); got != StateShuttingDown {
		t.Errorf("final state: got %v", got)
	}
}

func TestSupervisor_shutdownWhileWaiting(t *testing.T) {
	l := &fakeLauncher{failures: 1000000} // never launches successfully
	cam := models.CameraConfig{Name: "cam1", RTSPURL: "rtsp://x", OutputDir: t.TempDir()}
	policy := testPolicy()
	policy.ReconnectDelay = time.Hour // park the supervisor in WAITING
	s := New(cam, policy, l, metrics.New(), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.GetState() != StateWaiting {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never reached waiting state")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel while waiting")
	}
}

func TestSupervisor_unkillableProcessSurfacesError(t *testing.T) {
	l := &fakeLauncher{
		startOffset: -time.Hour, // force a stall so Stop gets called
		stopErr:     capture.ErrUnkillable,
	}
	s := testSupervisor(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, capture.ErrUnkillable) {
			t.Fatalf("expected ErrUnkillable, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after unkillable stop")
	}
	if got := s.GetState(); got != StateShuttingDown {
		t.Errorf("final state: got %v", got)
	}
}

func TestState_String(t *testing.T) {
	states := map[State]string{
		StateStarting:     "starting",
		StateRunning:      "running",
		StateStalled:      "stalled",
		StateStopping:     "stopping",
		StateWaiting:      "waiting",
		StateShuttingDown: "shutting_down",
		State(99):         "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String(): got %q, want %q", s, got, want)
		}
	}
}
