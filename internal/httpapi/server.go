// internal/httpapi/server.go
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/retention"
	"github.com/sua-org/cam-archiver/internal/supervisor"
)

// Controller é o que a API precisa do supervisor.
type Controller interface {
	Start(cameraID string) error
	Stop(cameraID string) error
	HealthSnapshot() map[string]health.CameraHealth
}

type Server struct {
	ctrl       Controller
	root       string
	usage      retention.UsageFunc
	httpServer *http.Server
}

func New(addr string, ctrl Controller, archiveRoot string) *Server {
	s := &Server{
		ctrl:  ctrl,
		root:  archiveRoot,
		usage: retention.FreePercent,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler monta as rotas; exposto para testes com httptest.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	index := indexHTML()
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
	r.StaticFS("/static", staticFS())

	cam := r.Group("/camera/:id")
	cam.GET("/start", s.handleStart)
	cam.POST("/start", s.handleStart)
	cam.GET("/stop", s.handleStop)
	cam.POST("/stop", s.handleStop)

	r.GET("/cameras", s.handleCameras)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[http] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Truncate(time.Microsecond))
	}
}

func (s *Server) handleStart(c *gin.Context) {
	id := c.Param("id")
	err := s.ctrl.Start(id)
	switch {
	case err == nil:
		c.String(http.StatusOK, "Recording started for %s", id)
	case errors.Is(err, supervisor.ErrUnknownCamera):
		c.JSON(http.StatusNotFound, gin.H{"error": "camera_not_found", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "launch_failed", "message": err.Error()})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.ctrl.Stop(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stop_failed", "message": err.Error()})
		return
	}
	c.String(http.StatusOK, "Recording stopped for %s", id)
}

func (s *Server) handleCameras(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.HealthSnapshot())
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"cameras": s.ctrl.HealthSnapshot()}
	if free, err := s.usage(s.root); err == nil {
		resp["diskFreePercent"] = free
	} else {
		log.Printf("[http] espaço livre indisponível: %v", err)
		resp["diskFreePercent"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

// Run serve até o ctx ser cancelado e então faz shutdown com timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[http] ouvindo em %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Printf("[http] servidor encerrado")
	return nil
}
