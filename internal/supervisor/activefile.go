// internal/supervisor/activefile.go
package supervisor

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const activeFilePollInterval = time.Second

// trackActiveFile acompanha qual segmento o processo está escrevendo. Usa
// fsnotify no diretório de saída; cada arquivo novo vira o ativo. Se nada
// aparecer até ActiveFileTimeout a sessão é marcada como expirada e o sinal de
// liveness por arquivo passa a contar o silêncio desde o start.
func (s *Supervisor) trackActiveFile(ctx context.Context, sess *session) {
	defer s.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[activefile] camera %s: fsnotify indisponível (%v), usando polling", sess.cameraID, err)
		s.pollActiveFile(ctx, sess)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(sess.outputDir); err != nil {
		log.Printf("[activefile] camera %s: watch %s: %v, usando polling", sess.cameraID, sess.outputDir, err)
		s.pollActiveFile(ctx, sess)
		return
	}

	// segmentos criados antes do watch ficar ativo
	if name := newestFileSince(sess.outputDir, sess.startedAt); name != "" {
		sess.setActiveFile(name, s.now())
	}

	timeout := time.NewTimer(s.opts.ActiveFileTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			if fi, err := os.Stat(ev.Name); err != nil || !fi.Mode().IsRegular() {
				continue
			}
			sess.setActiveFile(ev.Name, s.now())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[activefile] camera %s: watcher error: %v", sess.cameraID, err)
		case <-timeout.C:
			if sess.info().ActiveFile == "" {
				sess.expireActiveFile()
				log.Printf("[activefile] camera %s: nenhum segmento em %s após %s", sess.cameraID, sess.outputDir, s.opts.ActiveFileTimeout)
			}
		}
	}
}

// pollActiveFile é o fallback sem inotify: varre o diretório a cada segundo.
func (s *Supervisor) pollActiveFile(ctx context.Context, sess *session) {
	ticker := time.NewTicker(activeFilePollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(s.opts.ActiveFileTimeout)

	for {
		if name := newestFileSince(sess.outputDir, sess.startedAt); name != "" {
			sess.setActiveFile(name, s.now())
		} else if time.Now().After(deadline) {
			sess.expireActiveFile()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newestFileSince(dir string, since time.Time) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	threshold := since.Truncate(time.Second)
	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		mod := fi.ModTime()
		if mod.Before(threshold) {
			continue
		}
		if newest == "" || mod.After(newestT) {
			newest = filepath.Join(dir, e.Name())
			newestT = mod
		}
	}
	return newest
}
