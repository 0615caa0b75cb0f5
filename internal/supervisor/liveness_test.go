package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sua-org/cam-archiver/internal/health"
)

func TestLiveness_StallTriggersSingleRestart(t *testing.T) {
	env := newTestEnv(t, Options{SettleDelay: 5 * time.Millisecond})
	mon := NewLivenessMonitor(env.sup, OutputActivity{}, time.Second, 30*time.Second)

	if err := env.sup.Start("camera1"); err != nil {
		t.Fatal(err)
	}
	first := env.spawner.last()

	env.clock.Advance(31 * time.Second)
	mon.Tick()

	if first.isAlive() {
		t.Error("stalled process should have been killed")
	}
	waitFor(t, "relaunch after stall", func() bool { return len(env.sup.Sessions()) == 1 })

	// a sessão nova acabou de nascer, o próximo tick não pode reiniciar
	mon.Tick()
	time.Sleep(20 * time.Millisecond)

	if n := env.spawner.count(); n != 2 {
		t.Errorf("expected exactly one restart (2 spawns), got %d", n)
	}
	got := fmt.Sprint(env.rec.get("camera1"))
	want := fmt.Sprint([]health.State{health.StateRecording, health.StateRestarting, health.StateRecording})
	if got != want {
		t.Errorf("expected transitions %s, got %s", want, got)
	}
}

func TestLiveness_HealthyCaptureGetsHeartbeat(t *testing.T) {
	env := newTestEnv(t, Options{})
	mon := NewLivenessMonitor(env.sup, OutputActivity{}, time.Second, 30*time.Second)

	if err := env.sup.Start("camera1"); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(10 * time.Second)
	mon.Tick()

	h, _ := env.health.Get("camera1")
	if !h.LastHeartbeat.Equal(env.clock.Now().UTC()) {
		t.Errorf("expected heartbeat at %s, got %s", env.clock.Now().UTC(), h.LastHeartbeat)
	}
	if h.State != health.StateRecording {
		t.Errorf("expected RECORDING, got %s", h.State)
	}
	if env.spawner.count() != 1 {
		t.Error("healthy capture must not be restarted")
	}
}

func TestLiveness_RetriesOrphans(t *testing.T) {
	env := newTestEnv(t, Options{})
	mon := NewLivenessMonitor(env.sup, OutputActivity{}, time.Second, 30*time.Second)

	env.spawner.setFail(errSpawn)
	if err := env.sup.Start("camera2"); err == nil {
		t.Fatal("expected launch error")
	}

	// continua falhando: fica órfã, sem panic
	mon.Tick()
	if len(env.sup.Sessions()) != 0 {
		t.Fatal("unexpected session while spawner fails")
	}

	env.spawner.setFail(nil)
	mon.Tick()

	sessions := env.sup.Sessions()
	if len(sessions) != 1 || sessions[0].CameraID != "camera2" {
		t.Fatalf("expected camera2 to be relaunched, got %+v", sessions)
	}
	if h, _ := env.health.Get("camera2"); h.State != health.StateRecording {
		t.Errorf("expected RECORDING, got %s", h.State)
	}
}

func TestFileModTime(t *testing.T) {
	started := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	sig := FileModTime{}

	if _, ok := sig.LastActivity(SessionInfo{CameraID: "camera1", StartedAt: started}); ok {
		t.Error("no active file yet: activity must be unknown")
	}

	last, ok := sig.LastActivity(SessionInfo{CameraID: "camera1", StartedAt: started, ActiveFileExpired: true})
	if !ok || !last.Equal(started) {
		t.Errorf("expired session should report start time, got %s ok=%v", last, ok)
	}

	// segmento ativo apagado: o silêncio conta desde que ele virou o ativo
	since := started.Add(3 * time.Minute)
	last, ok = sig.LastActivity(SessionInfo{
		CameraID:        "camera1",
		StartedAt:       started,
		ActiveFile:      "/nonexistent/seg.mp4",
		ActiveFileSince: since,
	})
	if !ok || !last.Equal(since) {
		t.Errorf("vanished active file should report when it became active, got %s ok=%v", last, ok)
	}
	last, ok = sig.LastActivity(SessionInfo{CameraID: "camera1", StartedAt: started, ActiveFile: "/nonexistent/seg.mp4"})
	if !ok || !last.Equal(started) {
		t.Errorf("vanished active file without since should fall back to start, got %s ok=%v", last, ok)
	}

	path := filepath.Join(t.TempDir(), "2024-01-10_12-00-00.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2024, 1, 10, 12, 4, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	last, ok = sig.LastActivity(SessionInfo{CameraID: "camera1", ActiveFile: path})
	if !ok || !last.Equal(mtime) {
		t.Errorf("expected mtime %s, got %s ok=%v", mtime, last, ok)
	}
}

func TestLiveness_FileSignalSkipsUnknown(t *testing.T) {
	env := newTestEnv(t, Options{ActiveFileTimeout: time.Hour})
	mon := NewLivenessMonitor(env.sup, FileModTime{}, time.Second, 30*time.Second)

	if err := env.sup.Start("camera1"); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(10 * time.Minute)
	mon.Tick()

	if env.spawner.count() != 1 {
		t.Error("capture without active file must not be restarted before the timeout")
	}
}

func TestLiveness_DeletedActiveFileStillDetectsStall(t *testing.T) {
	env := newTestEnv(t, Options{SettleDelay: 5 * time.Millisecond, ActiveFileTimeout: time.Hour})
	mon := NewLivenessMonitor(env.sup, FileModTime{}, time.Second, 30*time.Second)

	if err := env.sup.Start("camera1"); err != nil {
		t.Fatal(err)
	}
	dir := env.sup.Sessions()[0].OutputDir
	time.Sleep(20 * time.Millisecond)

	seg := filepath.Join(dir, "2024-01-10_12-00-00.mp4")
	if err := os.WriteFile(seg, []byte("moov"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "active file", func() bool {
		s := env.sup.Sessions()
		return len(s) == 1 && s[0].ActiveFile == seg
	})

	// pasta removida por fora enquanto o processo segue "vivo" e calado
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(31 * time.Second)
	mon.Tick()

	waitFor(t, "restart after vanished segment", func() bool {
		return env.spawner.count() == 2 && len(env.sup.Sessions()) == 1
	})
	if h, _ := env.health.Get("camera1"); h.State != health.StateRecording {
		t.Errorf("expected RECORDING after restart, got %s", h.State)
	}
}

func TestSignalByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "output", false},
		{"output", "output", false},
		{" STDOUT ", "output", false},
		{"file", "file", false},
		{"mtime", "file", false},
		{"heartbeat", "", true},
	}
	for _, tt := range tests {
		sig, err := SignalByName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SignalByName(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil || sig.Name() != tt.want {
			t.Errorf("SignalByName(%q) = %v, %v; want %s", tt.name, sig, err, tt.want)
		}
	}
}

func TestRunEvery_RecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan int, 10)
	n := 0
	go runEvery(ctx, "test", 5*time.Millisecond, func() {
		n++
		calls <- n
		if n == 1 {
			panic("boom")
		}
	})

	for want := 1; want <= 2; want++ {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("expected call %d, got %d", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("loop stopped after panic (waiting call %d)", want)
		}
	}
}
