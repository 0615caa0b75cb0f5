// internal/registry/registry.go
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("camera not configured")

// Resolver resolve o endereço de captura de uma câmera.
type Resolver interface {
	Resolve(cameraID string) (string, error)
	IDs() []string
}

// Registry é a tabela câmera -> URL RTSP. É carregada uma vez no startup,
// mas Register permite registrar câmeras em runtime sem mexer no supervisor.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]string
}

// File é o formato do CAMERAS_FILE.
//
//	cameras:
//	  camera1: rtsp://192.168.31.196:554/
//	  camera2: rtsp://192.168.31.107:554/
type File struct {
	Cameras map[string]string `yaml:"cameras"`
}

func New(sources map[string]string) (*Registry, error) {
	r := &Registry{sources: make(map[string]string, len(sources))}
	for id, source := range sources {
		if err := r.Register(id, source); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cameras file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cameras file %s: %w", path, err)
	}
	if len(f.Cameras) == 0 {
		return nil, fmt.Errorf("cameras file %s has no cameras", path)
	}
	return New(f.Cameras)
}

func (r *Registry) Register(cameraID, source string) error {
	cameraID = strings.TrimSpace(cameraID)
	source = strings.TrimSpace(source)
	if cameraID == "" {
		return fmt.Errorf("camera id obrigatório")
	}
	if strings.ContainsAny(cameraID, `/\`) || cameraID == "." || cameraID == ".." {
		return fmt.Errorf("camera id %q inválido", cameraID)
	}
	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("source for %s: %w", cameraID, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source for %s: expected scheme://host, got %q", cameraID, source)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[cameraID] = source
	return nil
}

func (r *Registry) Resolve(cameraID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[cameraID]
	if !ok {
		return "", ErrNotFound
	}
	return source, nil
}

// IDs devolve os ids ordenados.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sources))
	for id := range r.sources {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
