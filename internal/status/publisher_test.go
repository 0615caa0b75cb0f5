package status

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/supervisor"
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu   sync.Mutex
	msgs []message
}

func (f *fakeMQTT) Publish(topic string, _ byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic: topic, retained: retained, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeMQTT) byTopic(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeSessions []supervisor.SessionInfo

func (f fakeSessions) Sessions() []supervisor.SessionInfo { return f }

func newTestPublisher(t *testing.T, sessions SessionLister) (*Publisher, *fakeMQTT, *health.Registry) {
	t.Helper()
	mq := &fakeMQTT{}
	hr := health.NewRegistry()
	p := NewPublisher(mq, "cams/", hr, sessions, t.TempDir(), time.Hour)
	p.usage = func(string) (float64, error) { return 42.5, nil }
	return p, mq, hr
}

func decode(t *testing.T, m message) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(m.payload, &out); err != nil {
		t.Fatalf("invalid json on %s: %v (%s)", m.topic, err, m.payload)
	}
	return out
}

func TestTopics(t *testing.T) {
	p, _, _ := newTestPublisher(t, nil)
	if got := p.CameraTopic("camera1"); got != "cams/camera1/status" {
		t.Errorf("camera topic: %s", got)
	}
	if got := p.CollectorTopic(); got != "cams/collector/status" {
		t.Errorf("collector topic: %s", got)
	}
}

func TestTransitionsArePublished(t *testing.T) {
	p, mq, hr := newTestPublisher(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	hr.SetState("camera1", health.StateRecording, "")
	hr.SetState("camera1", health.StateRestarting, "stall")

	deadline := time.Now().Add(3 * time.Second)
	for len(mq.byTopic("cams/camera1/status")) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("transitions not published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := mq.byTopic("cams/camera1/status")
	last := decode(t, msgs[len(msgs)-1])
	if last["status"] != "RESTARTING" || last["status_reason"] != "stall" {
		t.Errorf("unexpected payload: %v", last)
	}
	if !msgs[0].retained {
		t.Error("camera status must be retained")
	}

	cancel()
	<-done

	collector := mq.byTopic("cams/collector/status")
	if len(collector) == 0 || string(collector[len(collector)-1].payload) != OfflinePayload {
		t.Error("expected offline collector status on shutdown")
	}
}

func TestPublishAll(t *testing.T) {
	sessions := fakeSessions{{CameraID: "camera1", PID: 4242}}
	p, mq, hr := newTestPublisher(t, sessions)

	hr.SetState("camera1", health.StateRecording, "")
	hr.SetState("camera2", health.StateStopped, "stop requested")

	p.PublishAll(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))

	cam1 := mq.byTopic("cams/camera1/status")
	if len(cam1) != 1 {
		t.Fatalf("expected one camera1 status, got %d", len(cam1))
	}
	if got := decode(t, cam1[0]); got["pid"] != float64(4242) || got["timestamp"] != "2024-01-10T12:00:00Z" {
		t.Errorf("camera1 payload: %v", got)
	}
	cam2 := decode(t, mq.byTopic("cams/camera2/status")[0])
	if _, ok := cam2["pid"]; ok {
		t.Errorf("stopped camera must not carry a pid: %v", cam2)
	}

	col := mq.byTopic("cams/collector/status")
	if len(col) != 1 {
		t.Fatalf("expected collector status, got %d", len(col))
	}
	payload := decode(t, col[0])
	if payload["status"] != "online" || payload["cameras"] != float64(2) || payload["recording"] != float64(1) {
		t.Errorf("collector payload: %v", payload)
	}
	if payload["disk_free_percent"] != 42.5 {
		t.Errorf("disk free: %v", payload["disk_free_percent"])
	}
	pids, _ := payload["capture_pids"].(map[string]interface{})
	if pids["camera1"] != float64(4242) {
		t.Errorf("capture pids: %v", payload["capture_pids"])
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	_, _, hr := newTestPublisher(t, nil)

	done := make(chan struct{})
	go func() {
		// ninguém consome a fila
		for i := 0; i < queueSize*3; i++ {
			hr.SetState("camera1", health.StateRecording, "")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("health transition blocked on full queue")
	}
}
