package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	started  []string
	stopped  []string
	startErr error
	snapshot map[string]health.CameraHealth
}

func (f *fakeController) Start(id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeController) Stop(id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeController) HealthSnapshot() map[string]health.CameraHealth {
	return f.snapshot
}

func newTestServer(ctrl Controller) *Server {
	s := New("127.0.0.1:0", ctrl, "/tmp/none")
	s.usage = func(string) (float64, error) { return 63.2, nil }
	return s
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartStop(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestServer(ctrl).Handler()

	rec := do(t, h, http.MethodGet, "/camera/camera1/start")
	if rec.Code != http.StatusOK || rec.Body.String() != "Recording started for camera1" {
		t.Errorf("start: %d %q", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/camera/camera2/start")
	if rec.Code != http.StatusOK {
		t.Errorf("POST start: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/camera/camera1/stop")
	if rec.Code != http.StatusOK || rec.Body.String() != "Recording stopped for camera1" {
		t.Errorf("stop: %d %q", rec.Code, rec.Body.String())
	}

	if strings.Join(ctrl.started, ",") != "camera1,camera2" || strings.Join(ctrl.stopped, ",") != "camera1" {
		t.Errorf("calls: started=%v stopped=%v", ctrl.started, ctrl.stopped)
	}
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown camera", &supervisor.UnknownCameraError{CameraID: "camera99"}, http.StatusNotFound},
		{"launch failure", &supervisor.LaunchError{CameraID: "camera1", Err: fmt.Errorf("exec: not found")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeController{startErr: tt.err}).Handler()
			rec := do(t, h, http.MethodGet, "/camera/camera99/start")
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d (%s)", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHealthAndCameras(t *testing.T) {
	ctrl := &fakeController{snapshot: map[string]health.CameraHealth{
		"camera1": {CameraID: "camera1", State: health.StateRecording},
	}}
	h := newTestServer(ctrl).Handler()

	rec := do(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	var body struct {
		DiskFreePercent float64                        `json:"diskFreePercent"`
		Cameras         map[string]health.CameraHealth `json:"cameras"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.DiskFreePercent != 63.2 || body.Cameras["camera1"].State != health.StateRecording {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/cameras")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"RECORDING"`) {
		t.Errorf("cameras: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeController{}).Handler()
	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cam_archiver_archive_disk_free_percent") {
		t.Errorf("metrics: %d", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	h := newTestServer(&fakeController{}).Handler()

	rec := do(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `id="cameras"`) || !strings.Contains(body, "/static/app.js") {
		t.Errorf("index page missing dashboard markup: %s", body)
	}

	rec = do(t, h, http.MethodGet, "/static/app.js")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for app.js, got %d", rec.Code)
	}
	for _, want := range []string{"/health", "/cameras", "#2ecc71", "#f1c40f", "#e74c3c"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("app.js missing %q", want)
		}
	}

	if rec := do(t, h, http.MethodGet, "/static/missing.js"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown asset, got %d", rec.Code)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := newTestServer(&fakeController{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
