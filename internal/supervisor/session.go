// internal/supervisor/session.go
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sua-org/cam-archiver/internal/capture"
)

// Motivos de restart, também usados como label de métrica.
const (
	ReasonExit   = "exit"
	ReasonStall  = "stall"
	ReasonUptime = "uptime"
	// virada de dia: a pasta de saída é fixada no launch
	ReasonRollover = "rollover"
)

// cameraSlot guarda tudo que muda por câmera. Toda transição passa por mu.
type cameraSlot struct {
	mu             sync.Mutex
	session        *session
	autoRestart    bool
	restartPending bool
}

type session struct {
	id        string
	cameraID  string
	source    string
	proc      capture.Process
	startedAt time.Time
	outputDir string

	done   chan struct{} // fechado pelo exit watcher
	cancel context.CancelFunc

	mu                sync.Mutex
	activeFile        string
	activeFileSince   time.Time
	activeFileExpired bool
	lastOutput        time.Time
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) markOutput(t time.Time) {
	s.mu.Lock()
	s.lastOutput = t
	s.mu.Unlock()
}

func (s *session) setActiveFile(path string, at time.Time) {
	s.mu.Lock()
	if s.activeFile != path {
		s.activeFile = path
		s.activeFileSince = at
	}
	s.mu.Unlock()
}

func (s *session) expireActiveFile() {
	s.mu.Lock()
	if s.activeFile == "" {
		s.activeFileExpired = true
	}
	s.mu.Unlock()
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		CameraID:          s.cameraID,
		SessionID:         s.id,
		Source:            s.source,
		PID:               s.proc.PID(),
		StartedAt:         s.startedAt,
		OutputDir:         s.outputDir,
		ActiveFile:        s.activeFile,
		ActiveFileSince:   s.activeFileSince,
		ActiveFileExpired: s.activeFileExpired,
		LastOutput:        s.lastOutput,
	}
}

// SessionInfo é uma cópia do estado de uma sessão de captura.
type SessionInfo struct {
	CameraID  string    `json:"cameraId"`
	SessionID string    `json:"sessionId"`
	Source    string    `json:"-"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	OutputDir string    `json:"outputDir"`
	// ActiveFile fica vazio até o tracker ver o primeiro segmento.
	ActiveFile        string    `json:"activeFile,omitempty"`
	ActiveFileSince   time.Time `json:"-"`
	ActiveFileExpired bool      `json:"-"`
	LastOutput        time.Time `json:"lastOutput"`
}
