package supervisor

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sua-org/cam-archiver/internal/capture"
	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/registry"
)

type fakeProcess struct {
	pid  int
	outR *io.PipeReader
	outW *io.PipeWriter

	mu     sync.Mutex
	exited bool
	killed bool
	code   int
	exitCh chan struct{}
}

func newFakeProcess(pid int) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, outR: r, outW: w, exitCh: make(chan struct{})}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return capture.ErrStaleHandle
	}
	p.killed = true
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

// exit simula o processo terminando sozinho.
func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.code = code
	p.outW.Close()
	close(p.exitCh)
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.exitCh
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, nil
}

func (p *fakeProcess) Output() io.ReadCloser { return p.outR }

func (p *fakeProcess) isAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	cmds  []capture.Command
	fail  error
}

func (s *fakeSpawner) Spawn(cameraID string, cmd capture.Command) (capture.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := newFakeProcess(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	s.cmds = append(s.cmds, cmd)
	return p, nil
}

func (s *fakeSpawner) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

func (s *fakeSpawner) alive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.procs {
		if p.isAlive() {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stateRecorder struct {
	mu     sync.Mutex
	states map[string][]health.State
}

func (r *stateRecorder) hook(h health.CameraHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[h.CameraID] = append(r.states[h.CameraID], h.State)
}

func (r *stateRecorder) get(cameraID string) []health.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]health.State(nil), r.states[cameraID]...)
}

type testEnv struct {
	sup     *Supervisor
	spawner *fakeSpawner
	clock   *fakeClock
	health  *health.Registry
	rec     *stateRecorder
	root    string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	reg, err := registry.New(map[string]string{
		"camera1": "rtsp://192.168.31.196:554/",
		"camera2": "rtsp://192.168.31.107:554/",
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	clock := &fakeClock{now: time.Date(2024, 1, 10, 12, 0, 0, 0, time.Local)}
	hr := health.NewRegistry()
	hr.SetClock(clock.Now)
	rec := &stateRecorder{states: make(map[string][]health.State)}
	hr.OnChange(rec.hook)

	if opts.ArchiveRoot == "" {
		opts.ArchiveRoot = t.TempDir()
	}
	spawner := &fakeSpawner{}
	tpl := capture.Template{Binary: "/usr/bin/ffmpeg", Args: capture.DefaultArgs(300)}
	sup := New(reg, tpl, spawner, hr, opts)
	sup.SetClock(clock.Now)
	t.Cleanup(sup.Shutdown)

	return &testEnv{sup: sup, spawner: spawner, clock: clock, health: hr, rec: rec, root: opts.ArchiveRoot}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

var errSpawn = errors.New("exec: \"ffmpeg\": executable file not found in $PATH")
