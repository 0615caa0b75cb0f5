// internal/logging/logging.go
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// Setup manda o log do processo para stdout e, com logFile, também para um
// arquivo rotacionado.
func Setup(logFile string) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logFile = strings.TrimSpace(logFile)
	if logFile == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	fileLogger := newRotating(logFile)
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	return fileLogger, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newRotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
}

// ProgressInterval limita as linhas de progresso do ffmpeg no log principal.
const ProgressInterval = 30 * time.Second

// CaptureLogs guarda a saída de cada processo de captura.
// Com dir vazio as linhas vão para o log principal com prefixo [capture <id>];
// nesse modo linhas de progresso (frame=/size=) saem no máximo uma por
// ProgressInterval por câmera.
type CaptureLogs struct {
	dir string
	now func() time.Time

	mu           sync.Mutex
	writers      map[string]*lumberjack.Logger
	lastProgress map[string]time.Time
}

func NewCaptureLogs(dir string) *CaptureLogs {
	return &CaptureLogs{
		dir:          strings.TrimSpace(dir),
		now:          time.Now,
		writers:      make(map[string]*lumberjack.Logger),
		lastProgress: make(map[string]time.Time),
	}
}

func isProgressLine(line string) bool {
	l := strings.TrimSpace(line)
	return strings.HasPrefix(l, "frame=") || strings.HasPrefix(l, "size=")
}

// allowProgress devolve false se a câmera já teve uma linha de progresso no
// log principal há menos de ProgressInterval.
func (c *CaptureLogs) allowProgress(cameraID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastProgress[cameraID]; ok && now.Sub(last) < ProgressInterval {
		return false
	}
	c.lastProgress[cameraID] = now
	return true
}

func (c *CaptureLogs) WriteLine(cameraID, line string) {
	if c == nil {
		log.Printf("[capture %s] %s", cameraID, line)
		return
	}
	if c.dir == "" {
		if isProgressLine(line) && !c.allowProgress(cameraID) {
			return
		}
		log.Printf("[capture %s] %s", cameraID, line)
		return
	}

	c.mu.Lock()
	w, ok := c.writers[cameraID]
	if !ok {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			c.mu.Unlock()
			log.Printf("[capture %s] %s (log dir: %v)", cameraID, line, err)
			return
		}
		w = newRotating(filepath.Join(c.dir, cameraID+".log"))
		c.writers[cameraID] = w
	}
	_, err := fmt.Fprintln(w, line)
	c.mu.Unlock()

	if err != nil {
		log.Printf("[capture %s] %s (write: %v)", cameraID, line, err)
	}
}

func (c *CaptureLogs) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, w := range c.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.writers, id)
	}
	return firstErr
}
