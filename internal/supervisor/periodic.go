// internal/supervisor/periodic.go
package supervisor

import (
	"context"
	"log"
	"path/filepath"
	"time"
)

// PeriodicRestartScheduler força restart de capturas que passaram de maxUptime,
// mesmo saudáveis, para limitar drift de timestamps e recursos do encoder.
// Também reinicia sessões cuja pasta de data ficou para trás após a meia-noite,
// senão o ffmpeg seguiria gravando na pasta de ontem.
type PeriodicRestartScheduler struct {
	sup       *Supervisor
	interval  time.Duration
	maxUptime time.Duration
}

func NewPeriodicRestartScheduler(sup *Supervisor, interval, maxUptime time.Duration) *PeriodicRestartScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicRestartScheduler{sup: sup, interval: interval, maxUptime: maxUptime}
}

func (p *PeriodicRestartScheduler) Run(ctx context.Context) error {
	if p.maxUptime <= 0 {
		log.Printf("[periodic] restart por uptime desabilitado (MAX_UPTIME=0), só virada de dia")
	}
	runEvery(ctx, "periodic", p.interval, p.Tick)
	return nil
}

func (p *PeriodicRestartScheduler) Tick() {
	now := p.sup.now()
	today := now.Format(DateLayout)
	for _, info := range p.sup.Sessions() {
		if day := filepath.Base(info.OutputDir); info.OutputDir != "" && day != today {
			log.Printf("[periodic] camera %s still writing into %s (today %s), forcing restart",
				info.CameraID, day, today)
			p.sup.Restart(info.CameraID, info.SessionID, ReasonRollover)
			continue
		}
		if p.maxUptime <= 0 {
			continue
		}
		uptime := now.Sub(info.StartedAt)
		if uptime <= p.maxUptime {
			continue
		}
		log.Printf("[periodic] camera %s up for %s (max %s), forcing restart",
			info.CameraID, uptime.Truncate(time.Second), p.maxUptime)
		p.sup.Restart(info.CameraID, info.SessionID, ReasonUptime)
	}
}
