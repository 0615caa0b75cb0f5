// internal/supervisor/supervisor.go
package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sua-org/cam-archiver/internal/capture"
	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/logging"
	"github.com/sua-org/cam-archiver/internal/metrics"
	"github.com/sua-org/cam-archiver/internal/registry"
)

// DateLayout é o nome das pastas de data dentro de <root>/<camera>/.
const DateLayout = "2006-01-02"

type Options struct {
	ArchiveRoot    string
	SegmentPattern string
	// SettleDelay separa a detecção de uma falha do relançamento.
	SettleDelay time.Duration
	// RestartDebounce ignora restarts de monitor para sessões mais novas que isso (0 desliga).
	RestartDebounce   time.Duration
	ActiveFileTimeout time.Duration
}

type trigger int

const (
	triggerManual trigger = iota
	triggerRestart
)

// Supervisor é dono das sessões de captura. Cada câmera tem seu próprio
// lock e toda transição da câmera passa por ele.
type Supervisor struct {
	registry registry.Resolver
	builder  capture.CommandBuilder
	spawner  capture.Spawner
	health   *health.Registry
	opts     Options
	logs     *logging.CaptureLogs
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	slots map[string]*cameraSlot
}

func New(
	reg registry.Resolver,
	builder capture.CommandBuilder,
	spawner capture.Spawner,
	hr *health.Registry,
	opts Options,
) *Supervisor {
	if opts.SegmentPattern == "" {
		opts.SegmentPattern = "%Y-%m-%d_%H-%M-%S.mp4"
	}
	if opts.ActiveFileTimeout <= 0 {
		opts.ActiveFileTimeout = 30 * time.Second
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: reg,
		builder:  builder,
		spawner:  spawner,
		health:   hr,
		opts:     opts,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(map[string]*cameraSlot),
	}
}

// SetCaptureLogs define para onde vai a saída dos processos de captura.
func (s *Supervisor) SetCaptureLogs(logs *logging.CaptureLogs) {
	s.logs = logs
}

// SetClock troca a fonte de tempo (testes).
func (s *Supervisor) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Supervisor) Health() *health.Registry {
	return s.health
}

func (s *Supervisor) HealthSnapshot() map[string]health.CameraHealth {
	return s.health.Snapshot()
}

// slot devolve (criando se preciso) o slot de uma câmera já validada no registry.
func (s *Supervisor) slot(cameraID string) *cameraSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[cameraID]
	if !ok {
		sl = &cameraSlot{}
		s.slots[cameraID] = sl
	}
	return sl
}

func (s *Supervisor) existingSlot(cameraID string) *cameraSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[cameraID]
}

func (s *Supervisor) slotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start inicia a captura de uma câmera. Se já existe processo vivo, não faz nada.
func (s *Supervisor) Start(cameraID string) error {
	return s.start(cameraID, triggerManual)
}

// Relaunch é o caminho de retry dos monitores: só sobe o processo se a câmera
// ainda quer gravar (autoRestart).
func (s *Supervisor) Relaunch(cameraID string) error {
	return s.start(cameraID, triggerRestart)
}

func (s *Supervisor) start(cameraID string, t trigger) error {
	source, err := s.registry.Resolve(cameraID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return &UnknownCameraError{CameraID: cameraID}
		}
		return fmt.Errorf("resolve %s: %w", cameraID, err)
	}

	sl := s.slot(cameraID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if t == triggerRestart {
		sl.restartPending = false
		// stop pode ter chegado durante o settle delay
		if !sl.autoRestart {
			log.Printf("[supervisor] camera %s stopped meanwhile, skipping relaunch", cameraID)
			return nil
		}
	} else {
		sl.autoRestart = true
	}

	if sl.session != nil && sl.session.alive() {
		return nil
	}

	// sessão morta que o watcher ainda não recolheu, ou lixo de uma corrida
	s.teardownLocked(sl, "stale session")

	sess, err := s.launchLocked(cameraID, source)
	if err != nil {
		metrics.CaptureLaunchFailures.WithLabelValues(cameraID).Inc()
		s.health.SetState(cameraID, health.StateStopped, err.Error())
		log.Printf("[supervisor] %v", err)
		return err
	}

	sl.session = sess
	metrics.CaptureUp.WithLabelValues(cameraID).Set(1)
	s.health.SetState(cameraID, health.StateRecording, "")
	s.health.TouchHeartbeat(cameraID)

	log.Printf("[supervisor] recording started: camera=%s session=%s pid=%d dir=%s",
		cameraID, sess.id, sess.proc.PID(), sess.outputDir)
	return nil
}

func (s *Supervisor) launchLocked(cameraID, source string) (*session, error) {
	now := s.now()
	dir := filepath.Join(s.opts.ArchiveRoot, cameraID, now.Format(DateLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &LaunchError{CameraID: cameraID, Err: fmt.Errorf("create output dir: %w", err)}
	}

	cmd, err := s.builder.Build(source, filepath.Join(dir, s.opts.SegmentPattern))
	if err != nil {
		return nil, &LaunchError{CameraID: cameraID, Err: fmt.Errorf("build command: %w", err)}
	}

	proc, err := s.spawner.Spawn(cameraID, cmd)
	if err != nil {
		return nil, &LaunchError{CameraID: cameraID, Err: err}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		id:         uuid.NewString(),
		cameraID:   cameraID,
		source:     source,
		proc:       proc,
		startedAt:  now,
		outputDir:  dir,
		done:       make(chan struct{}),
		cancel:     cancel,
		lastOutput: now,
	}

	s.wg.Add(3)
	go s.watchExit(sess)
	go s.pumpOutput(sess)
	go s.trackActiveFile(ctx, sess)

	return sess, nil
}

// Stop desliga o autoRestart antes de matar o processo, assim um exit watcher
// ou restart em andamento vê o flag e não relança. Idempotente.
func (s *Supervisor) Stop(cameraID string) error {
	sl := s.existingSlot(cameraID)
	if sl == nil {
		return nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	wasActive := sl.autoRestart || sl.session != nil || sl.restartPending
	sl.autoRestart = false
	s.teardownLocked(sl, "stop requested")
	if !wasActive {
		return nil
	}

	s.health.SetState(cameraID, health.StateStopped, "stop requested")
	log.Printf("[supervisor] recording stopped: camera=%s", cameraID)
	return nil
}

// Restart é chamado pelos monitores para uma sessão específica. Se a sessão já
// foi trocada, a câmera foi parada ou já tem restart pendente, não faz nada.
func (s *Supervisor) Restart(cameraID, sessionID, reason string) bool {
	sl := s.existingSlot(cameraID)
	if sl == nil {
		return false
	}

	sl.mu.Lock()
	sess := sl.session
	if !sl.autoRestart || sl.restartPending || sess == nil || (sessionID != "" && sess.id != sessionID) {
		sl.mu.Unlock()
		return false
	}
	if d := s.opts.RestartDebounce; d > 0 && s.now().Sub(sess.startedAt) < d {
		sl.mu.Unlock()
		log.Printf("[supervisor] camera %s restart (%s) ignored: session younger than %s", cameraID, reason, d)
		return false
	}

	s.teardownLocked(sl, reason)
	sl.restartPending = true
	s.health.SetState(cameraID, health.StateRestarting, reason)
	metrics.CaptureRestarts.WithLabelValues(cameraID, reason).Inc()
	sl.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.relaunchAfterSettle(cameraID, sl, reason)
	}()
	return true
}

func (s *Supervisor) relaunchAfterSettle(cameraID string, sl *cameraSlot, reason string) {
	if !sleepCtx(s.ctx, s.opts.SettleDelay) {
		sl.mu.Lock()
		sl.restartPending = false
		sl.mu.Unlock()
		return
	}
	if err := s.start(cameraID, triggerRestart); err != nil {
		log.Printf("[supervisor] relaunch of %s after %s failed: %v", cameraID, reason, err)
	}
}

// teardownLocked mata o processo da sessão atual e limpa o estado. Não espera
// o processo sair; o exit watcher percebe que a sessão não é mais a atual.
func (s *Supervisor) teardownLocked(sl *cameraSlot, reason string) {
	sess := sl.session
	if sess == nil {
		return
	}
	sl.session = nil
	sess.cancel()
	metrics.CaptureUp.WithLabelValues(sess.cameraID).Set(0)

	if err := sess.proc.Kill(); err != nil && !errors.Is(err, capture.ErrStaleHandle) {
		log.Printf("[supervisor] kill camera %s pid=%d: %v", sess.cameraID, sess.proc.PID(), err)
	}
	log.Printf("[supervisor] session %s of camera %s torn down (%s)", sess.id, sess.cameraID, reason)
}

func (s *Supervisor) watchExit(sess *session) {
	defer s.wg.Done()

	code, err := sess.proc.Wait()
	close(sess.done)
	sess.cancel()
	if err != nil {
		log.Printf("[supervisor] camera %s pid=%d wait error: %v", sess.cameraID, sess.proc.PID(), err)
	}

	sl := s.existingSlot(sess.cameraID)
	if sl == nil {
		return
	}

	sl.mu.Lock()
	if sl.session != sess {
		// derrubada por stop/restart; quem derrubou cuida do resto
		sl.mu.Unlock()
		return
	}
	sl.session = nil
	metrics.CaptureUp.WithLabelValues(sess.cameraID).Set(0)

	if !sl.autoRestart {
		s.health.SetState(sess.cameraID, health.StateStopped, fmt.Sprintf("capture exited (code=%d)", code))
		sl.mu.Unlock()
		return
	}
	if sl.restartPending {
		sl.mu.Unlock()
		return
	}

	sl.restartPending = true
	reason := fmt.Sprintf("capture exited (code=%d)", code)
	s.health.SetState(sess.cameraID, health.StateRestarting, reason)
	metrics.CaptureRestarts.WithLabelValues(sess.cameraID, ReasonExit).Inc()
	sl.mu.Unlock()

	log.Printf("[supervisor] camera %s %s, relaunching in %s", sess.cameraID, reason, s.opts.SettleDelay)
	s.relaunchAfterSettle(sess.cameraID, sl, ReasonExit)
}

func (s *Supervisor) pumpOutput(sess *session) {
	defer s.wg.Done()

	out := sess.proc.Output()
	if out == nil {
		return
	}
	defer out.Close()

	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLinesCR)
	for sc.Scan() {
		sess.markOutput(s.now())
		if line := sc.Text(); line != "" {
			s.logs.WriteLine(sess.cameraID, line)
		}
	}
}

// scanLinesCR quebra em \n e também em \r, que é como o ffmpeg atualiza a
// linha de progresso.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Sessions devolve uma cópia das sessões vivas, ordenada por câmera.
func (s *Supervisor) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, id := range s.slotIDs() {
		sl := s.existingSlot(id)
		sl.mu.Lock()
		if sl.session != nil {
			out = append(out, sl.session.info())
		}
		sl.mu.Unlock()
	}
	return out
}

// Orphans são câmeras que querem gravar mas estão sem sessão e sem restart
// pendente, normalmente depois de uma falha de launch.
func (s *Supervisor) Orphans() []string {
	var out []string
	for _, id := range s.slotIDs() {
		sl := s.existingSlot(id)
		sl.mu.Lock()
		if sl.autoRestart && sl.session == nil && !sl.restartPending {
			out = append(out, id)
		}
		sl.mu.Unlock()
	}
	return out
}

// Shutdown para todas as câmeras e espera as goroutines auxiliares.
func (s *Supervisor) Shutdown() {
	for _, id := range s.slotIDs() {
		_ = s.Stop(id)
	}
	s.cancel()
	s.wg.Wait()
	log.Printf("[supervisor] all captures stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
