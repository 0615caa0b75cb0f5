// internal/status/publisher.go
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/retention"
	"github.com/sua-org/cam-archiver/internal/supervisor"
)

const (
	collectorName  = "cam-archiver"
	OfflinePayload = "offline"
	queueSize      = 64
)

// MessagePublisher é o pedaço do cliente MQTT que o publisher usa.
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// SessionLister fornece os processos de captura vivos (pid por câmera).
type SessionLister interface {
	Sessions() []supervisor.SessionInfo
}

// Publisher espelha o HealthRegistry no MQTT: cada transição vai na hora para
// <base>/<camera>/status e um loop periódico republica tudo junto com o status
// do collector.
type Publisher struct {
	mqtt      MessagePublisher
	baseTopic string
	health    *health.Registry
	sessions  SessionLister
	root      string
	usage     retention.UsageFunc
	interval  time.Duration
	hostname  string
	proc      *process.Process

	queue chan health.CameraHealth
}

func NewPublisher(
	pub MessagePublisher,
	baseTopic string,
	hr *health.Registry,
	sessions SessionLister,
	archiveRoot string,
	interval time.Duration,
) *Publisher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	baseTopic = strings.TrimSuffix(baseTopic, "/")
	if baseTopic == "" {
		baseTopic = "cam-archiver"
	}

	var procHandle *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		procHandle = p
	}

	p := &Publisher{
		mqtt:      pub,
		baseTopic: baseTopic,
		health:    hr,
		sessions:  sessions,
		root:      archiveRoot,
		usage:     retention.FreePercent,
		interval:  interval,
		hostname:  lookupHostname(),
		proc:      procHandle,
		queue:     make(chan health.CameraHealth, queueSize),
	}
	hr.OnChange(p.enqueue)
	return p
}

func lookupHostname() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	h, _ := os.Hostname()
	return h
}

// enqueue roda dentro do lock da câmera no supervisor: nunca bloqueia.
func (p *Publisher) enqueue(h health.CameraHealth) {
	select {
	case p.queue <- h:
	default:
		log.Printf("[status] fila cheia, transição de %s (%s) fica para o próximo ciclo", h.CameraID, h.State)
	}
}

func (p *Publisher) CameraTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/status", p.baseTopic, cameraID)
}

func (p *Publisher) CollectorTopic() string {
	return fmt.Sprintf("%s/collector/status", p.baseTopic)
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("[status] publisher iniciado (intervalo=%s, base=%s)", p.interval, p.baseTopic)
	p.PublishAll(time.Now())

	for {
		select {
		case <-ctx.Done():
			p.drain()
			p.publishOffline()
			log.Printf("[status] publisher encerrado (context canceled)")
			return nil
		case h := <-p.queue:
			p.publishCamera(h, nil, time.Now())
		case t := <-ticker.C:
			p.PublishAll(t)
		}
	}
}

// drain publica as transições que ficaram na fila (ex.: STOPPED do shutdown).
func (p *Publisher) drain() {
	for {
		select {
		case h := <-p.queue:
			p.publishCamera(h, nil, time.Now())
		default:
			return
		}
	}
}

// PublishAll republica o status de todas as câmeras e do collector.
func (p *Publisher) PublishAll(now time.Time) {
	pids := make(map[string]int)
	if p.sessions != nil {
		for _, s := range p.sessions.Sessions() {
			pids[s.CameraID] = s.PID
		}
	}

	snap := p.health.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		var pid *int
		if v, ok := pids[id]; ok {
			pid = &v
		}
		p.publishCamera(snap[id], pid, now)
	}

	if err := p.publishCollector(snap, pids, now); err != nil {
		log.Printf("[status] erro ao publicar status do collector: %v", err)
	}
}

func (p *Publisher) publishCamera(h health.CameraHealth, pid *int, now time.Time) {
	payload := map[string]interface{}{
		"camera_id": h.CameraID,
		"status":    string(h.State),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if !h.LastChange.IsZero() {
		payload["status_since"] = h.LastChange.UTC().Format(time.RFC3339)
	}
	if !h.LastHeartbeat.IsZero() {
		payload["last_heartbeat"] = h.LastHeartbeat.UTC().Format(time.RFC3339)
	}
	if h.Reason != "" {
		payload["status_reason"] = h.Reason
	}
	if pid != nil {
		payload["pid"] = *pid
	}

	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[status] marshal camera status %s: %v", h.CameraID, err)
		return
	}

	topic := p.CameraTopic(h.CameraID)
	if err := p.mqtt.Publish(topic, 1, true, b); err != nil {
		log.Printf("[status] erro ao publicar status da câmera %s: %v", h.CameraID, err)
		return
	}
	log.Printf("[status] camera status published -> %s (%s)", topic, h.State)
}

func (p *Publisher) publishCollector(snap map[string]health.CameraHealth, pids map[string]int, now time.Time) error {
	var (
		cpuPercent  float64
		memPercent  float64
		memRSSBytes uint64
	)
	if p.proc != nil {
		if cpu, err := p.proc.CPUPercent(); err == nil {
			cpuPercent = cpu
		}
		if memInfo, err := p.proc.MemoryInfo(); err == nil {
			memRSSBytes = memInfo.RSS
		}
		if memP, err := p.proc.MemoryPercent(); err == nil {
			memPercent = float64(memP)
		}
	}

	recording := 0
	for _, h := range snap {
		if h.State == health.StateRecording {
			recording++
		}
	}

	payload := map[string]interface{}{
		"collector":        collectorName,
		"status":           "online",
		"timestamp":        now.UTC().Format(time.RFC3339),
		"hostname":         p.hostname,
		"cameras":          len(snap),
		"recording":        recording,
		"capture_pids":     pids,
		"cpu_percent":      cpuPercent,
		"memory_percent":   memPercent,
		"memory_rss_bytes": memRSSBytes,
	}
	if free, err := p.usage(p.root); err == nil {
		payload["disk_free_percent"] = free
	} else {
		log.Printf("[status] espaço livre indisponível: %v", err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal collector status: %w", err)
	}

	topic := p.CollectorTopic()
	if err := p.mqtt.Publish(topic, 1, true, b); err != nil {
		return fmt.Errorf("publish collector status to %s: %w", topic, err)
	}
	return nil
}

// publishOffline faz no shutdown limpo o que o last will faz numa queda.
func (p *Publisher) publishOffline() {
	if err := p.mqtt.Publish(p.CollectorTopic(), 1, true, []byte(OfflinePayload)); err != nil {
		log.Printf("[status] erro ao publicar offline: %v", err)
	}
}
