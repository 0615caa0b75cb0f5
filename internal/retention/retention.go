// internal/retention/retention.go
package retention

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/sua-org/cam-archiver/internal/metrics"
)

// DateLayout é o formato das pastas <root>/<camera>/<data>.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type Policy struct {
	// KeepDays: pastas com data anterior a hoje-KeepDays são removidas (0 desliga).
	KeepDays int
	// MinFreePercent: abaixo disso a passada de espaço apaga as pastas mais antigas.
	MinFreePercent float64
}

// Offloader copia uma pasta de data para fora antes dela ser apagada.
type Offloader interface {
	Offload(ctx context.Context, cameraID, date, dir string) error
}

// Report resume uma rodada de retenção.
type Report struct {
	DeletedByAge   int     `json:"deletedByAge"`
	DeletedBySpace int     `json:"deletedBySpace"`
	Failures       int     `json:"failures"`
	FreePercent    float64 `json:"freePercent"`
}

type Manager struct {
	root      string
	policy    Policy
	interval  time.Duration
	usage     UsageFunc
	offloader Offloader
	removeAll func(string) error
	now       func() time.Time
}

func NewManager(root string, policy Policy, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Manager{
		root:      root,
		policy:    policy,
		interval:  interval,
		usage:     FreePercent,
		removeAll: os.RemoveAll,
		now:       time.Now,
	}
}

// SetOffloader liga o envio das pastas para o object storage antes da remoção.
func (m *Manager) SetOffloader(o Offloader) {
	m.offloader = o
}

// SetUsage troca a medição de espaço livre (testes).
func (m *Manager) SetUsage(f UsageFunc) {
	m.usage = f
}

// SetClock troca a fonte de tempo (testes).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Run faz uma passada imediata e depois uma a cada intervalo.
func (m *Manager) Run(ctx context.Context) error {
	log.Printf("[retention] root=%s keepDays=%d minFree=%.1f%% intervalo=%s",
		m.root, m.policy.KeepDays, m.policy.MinFreePercent, m.interval)

	m.RunOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[retention] loop encerrado (context canceled)")
			return nil
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executa a passada por idade e depois a por espaço. Nunca falha:
// erros ficam no log e no Failures do relatório.
func (m *Manager) RunOnce(ctx context.Context) Report {
	var rep Report
	rep.DeletedByAge, rep.Failures = m.CleanupByAge(ctx)

	deleted, failed, free := m.CleanupBySpace(ctx)
	rep.DeletedBySpace = deleted
	rep.Failures += failed
	rep.FreePercent = free

	if rep.DeletedByAge > 0 || rep.DeletedBySpace > 0 || rep.Failures > 0 {
		log.Printf("[retention] rodada: age=%d space=%d falhas=%d free=%.1f%%",
			rep.DeletedByAge, rep.DeletedBySpace, rep.Failures, rep.FreePercent)
	}
	return rep
}

// CleanupByAge remove toda pasta de data anterior a hoje-KeepDays.
func (m *Manager) CleanupByAge(ctx context.Context) (deleted, failed int) {
	if m.policy.KeepDays <= 0 {
		return 0, 0
	}
	cutoff := m.today().AddDate(0, 0, -m.policy.KeepDays)

	for _, f := range m.listDateFolders() {
		if ctx.Err() != nil {
			return deleted, failed
		}
		if !f.date.Before(cutoff) {
			continue
		}
		if m.deleteFolder(ctx, f, "age") {
			deleted++
		} else {
			failed++
		}
	}
	return deleted, failed
}

// CleanupBySpace apaga a pasta mais antiga (data, depois câmera) enquanto o
// espaço livre estiver abaixo do mínimo. A pasta de hoje nunca entra. A lista
// é montada uma vez, então o loop termina mesmo que remoções falhem.
func (m *Manager) CleanupBySpace(ctx context.Context) (deleted, failed int, free float64) {
	free, err := m.usage(m.root)
	if err != nil {
		log.Printf("[retention] erro medindo espaço livre: %v", err)
		return 0, 0, free
	}
	metrics.DiskFreePercent.Set(free)
	if free >= m.policy.MinFreePercent {
		return 0, 0, free
	}

	today := m.today()
	var eligible []dateFolder
	for _, f := range m.listDateFolders() {
		if !f.date.Before(today) {
			continue
		}
		eligible = append(eligible, f)
	}
	log.Printf("[retention] espaço livre %.1f%% < %.1f%%, %d pastas elegíveis",
		free, m.policy.MinFreePercent, len(eligible))

	for _, f := range eligible {
		if free >= m.policy.MinFreePercent || ctx.Err() != nil {
			break
		}
		if m.deleteFolder(ctx, f, "space") {
			deleted++
		} else {
			failed++
		}

		if free, err = m.usage(m.root); err != nil {
			log.Printf("[retention] erro medindo espaço livre: %v", err)
			break
		}
		metrics.DiskFreePercent.Set(free)
	}

	if free < m.policy.MinFreePercent {
		log.Printf("[retention] sem mais pastas elegíveis, espaço livre segue em %.1f%%", free)
	}
	return deleted, failed, free
}

func (m *Manager) today() time.Time {
	now := m.now().In(time.Local)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
}

func (m *Manager) deleteFolder(ctx context.Context, f dateFolder, pass string) bool {
	if m.offloader != nil {
		if err := m.offloader.Offload(ctx, f.camera, f.name, f.path); err != nil {
			// segue com a remoção: disco cheio é pior que perder a cópia
			log.Printf("[retention] offload %s falhou: %v", f.path, err)
		}
	}

	if err := m.removeAll(f.path); err != nil {
		log.Printf("[retention] erro removendo %s: %v", f.path, err)
		metrics.RetentionFailures.Inc()
		return false
	}
	metrics.RetentionDeleted.WithLabelValues(pass).Inc()
	log.Printf("[retention] removido (%s): %s", pass, f.path)
	return true
}

type dateFolder struct {
	camera string
	name   string
	path   string
	date   time.Time
}

// listDateFolders lista <root>/*/<YYYY-MM-DD> em ordem de data e câmera.
// Pastas com nome fora do padrão (ou datas impossíveis como 2024-13-40) são ignoradas.
func (m *Manager) listDateFolders() []dateFolder {
	cameras, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[retention] erro listando %s: %v", m.root, err)
		}
		return nil
	}

	var out []dateFolder
	for _, cam := range cameras {
		if !cam.IsDir() {
			continue
		}
		camDir := filepath.Join(m.root, cam.Name())
		days, err := os.ReadDir(camDir)
		if err != nil {
			log.Printf("[retention] erro listando %s: %v", camDir, err)
			continue
		}
		for _, d := range days {
			if !d.IsDir() || !datePattern.MatchString(d.Name()) {
				continue
			}
			date, err := time.ParseInLocation(DateLayout, d.Name(), time.Local)
			if err != nil {
				continue
			}
			out = append(out, dateFolder{
				camera: cam.Name(),
				name:   d.Name(),
				path:   filepath.Join(camDir, d.Name()),
				date:   date,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].date.Equal(out[j].date) {
			return out[i].date.Before(out[j].date)
		}
		return out[i].camera < out[j].camera
	})
	return out
}
