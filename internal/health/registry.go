// internal/health/registry.go
package health

import (
	"sync"
	"time"
)

// State é o status observável de uma câmera.
type State string

const (
	StateRecording  State = "RECORDING"
	StateRestarting State = "RESTARTING"
	StateStopped    State = "STOPPED"
)

// CameraHealth é uma cópia do estado de uma câmera num instante.
type CameraHealth struct {
	CameraID      string    `json:"cameraId"`
	State         State     `json:"state"`
	LastChange    time.Time `json:"lastChange"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Reason        string    `json:"reason,omitempty"`
}

// ChangeHook recebe cada transição de estado. Não deve bloquear.
type ChangeHook func(CameraHealth)

type Registry struct {
	mu      sync.RWMutex
	cameras map[string]*CameraHealth
	hooks   []ChangeHook
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		cameras: make(map[string]*CameraHealth),
		now:     time.Now,
	}
}

// SetClock troca a fonte de tempo (testes).
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Registry) OnChange(hook ChangeHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// SetState cria o registro se não existir e sobrescreve status, reason e lastChange.
func (r *Registry) SetState(cameraID string, state State, reason string) {
	r.mu.Lock()
	h, ok := r.cameras[cameraID]
	if !ok {
		h = &CameraHealth{CameraID: cameraID}
		r.cameras[cameraID] = h
	}
	h.State = state
	h.Reason = reason
	h.LastChange = r.now().UTC()
	snap := *h
	hooks := r.hooks
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(snap)
	}
}

// TouchHeartbeat marca atividade confirmada sem mudar o status.
// Câmeras sem registro são ignoradas: o registro nasce numa transição de estado.
func (r *Registry) TouchHeartbeat(cameraID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.cameras[cameraID]; ok {
		h.LastHeartbeat = r.now().UTC()
	}
}

func (r *Registry) Get(cameraID string) (CameraHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.cameras[cameraID]
	if !ok {
		return CameraHealth{}, false
	}
	return *h, true
}

// Snapshot devolve cópias; alterar o mapa retornado não afeta o registry.
func (r *Registry) Snapshot() map[string]CameraHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]CameraHealth, len(r.cameras))
	for id, h := range r.cameras {
		out[id] = *h
	}
	return out
}
