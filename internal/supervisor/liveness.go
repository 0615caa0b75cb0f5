// internal/supervisor/liveness.go
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"
)

// LivenessSignal diz quando o processo de captura deu sinal de vida pela última
// vez. ok=false significa "ainda não dá pra saber" e o monitor pula a câmera.
type LivenessSignal interface {
	Name() string
	LastActivity(info SessionInfo) (last time.Time, ok bool)
}

// OutputActivity usa a última linha lida de stdout/stderr do processo.
type OutputActivity struct{}

func (OutputActivity) Name() string { return "output" }

func (OutputActivity) LastActivity(info SessionInfo) (time.Time, bool) {
	if info.LastOutput.IsZero() {
		return time.Time{}, false
	}
	return info.LastOutput, true
}

// FileModTime usa o mtime do segmento ativo.
type FileModTime struct{}

func (FileModTime) Name() string { return "file" }

func (FileModTime) LastActivity(info SessionInfo) (time.Time, bool) {
	if info.ActiveFile == "" {
		if info.ActiveFileExpired {
			// nenhum segmento apareceu: o silêncio conta desde o start
			return info.StartedAt, true
		}
		return time.Time{}, false
	}
	fi, err := os.Stat(info.ActiveFile)
	if errors.Is(err, fs.ErrNotExist) {
		// segmento sumiu (retenção, pasta removida): o processo pode estar
		// escrevendo num arquivo sem nome; conta o silêncio desde que ele virou o ativo
		since := info.ActiveFileSince
		if since.IsZero() {
			since = info.StartedAt
		}
		log.Printf("[liveness] camera %s: segmento ativo %s não existe mais", info.CameraID, info.ActiveFile)
		return since, true
	}
	if err != nil {
		log.Printf("[liveness] camera %s: stat %s: %v", info.CameraID, info.ActiveFile, err)
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

// SignalByName escolhe a implementação uma vez por deploy (LIVENESS_SIGNAL).
func SignalByName(name string) (LivenessSignal, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "output", "stdout":
		return OutputActivity{}, nil
	case "file", "mtime":
		return FileModTime{}, nil
	default:
		return nil, fmt.Errorf("liveness signal %q desconhecido (use output|file)", name)
	}
}

// LivenessMonitor reinicia capturas que ficaram em silêncio além do stall
// timeout e tenta de novo câmeras que ficaram sem processo.
type LivenessMonitor struct {
	sup          *Supervisor
	signal       LivenessSignal
	interval     time.Duration
	stallTimeout time.Duration
}

func NewLivenessMonitor(sup *Supervisor, signal LivenessSignal, interval, stallTimeout time.Duration) *LivenessMonitor {
	if signal == nil {
		signal = OutputActivity{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Second
	}
	return &LivenessMonitor{
		sup:          sup,
		signal:       signal,
		interval:     interval,
		stallTimeout: stallTimeout,
	}
}

func (m *LivenessMonitor) Run(ctx context.Context) error {
	log.Printf("[liveness] signal=%s stallTimeout=%s", m.signal.Name(), m.stallTimeout)
	runEvery(ctx, "liveness", m.interval, m.Tick)
	return nil
}

// Tick faz uma rodada de verificação.
func (m *LivenessMonitor) Tick() {
	now := m.sup.now()

	for _, info := range m.sup.Sessions() {
		last, ok := m.signal.LastActivity(info)
		if !ok {
			continue
		}
		silent := now.Sub(last)
		if silent > m.stallTimeout {
			log.Printf("[liveness] camera %s stalled (silent %s > %s), restarting",
				info.CameraID, silent.Truncate(time.Second), m.stallTimeout)
			m.sup.Restart(info.CameraID, info.SessionID, ReasonStall)
			continue
		}
		m.sup.health.TouchHeartbeat(info.CameraID)
	}

	for _, id := range m.sup.Orphans() {
		log.Printf("[liveness] camera %s should be recording but has no capture, relaunching", id)
		if err := m.sup.Relaunch(id); err != nil {
			log.Printf("[liveness] relaunch %s: %v", id, err)
		}
	}
}
