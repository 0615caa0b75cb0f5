// cmd/cam-archiver/run.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sua-org/cam-archiver/internal/capture"
	"github.com/sua-org/cam-archiver/internal/config"
	"github.com/sua-org/cam-archiver/internal/health"
	"github.com/sua-org/cam-archiver/internal/httpapi"
	"github.com/sua-org/cam-archiver/internal/logging"
	"github.com/sua-org/cam-archiver/internal/mqttclient"
	"github.com/sua-org/cam-archiver/internal/retention"
	"github.com/sua-org/cam-archiver/internal/status"
	"github.com/sua-org/cam-archiver/internal/storage"
	"github.com/sua-org/cam-archiver/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inicia supervisor, monitores, retenção e API HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runArchiver(ctx, cfg)
	},
}

func runArchiver(ctx context.Context, cfg *config.Config) error {
	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("cameras: %w", err)
	}
	signalImpl, err := supervisor.SignalByName(cfg.LivenessSignal)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ArchiveRoot, 0o755); err != nil {
		return fmt.Errorf("archive root: %w", err)
	}

	hr := health.NewRegistry()
	sup := supervisor.New(reg, cfg.CommandTemplate(), capture.ExecSpawner{}, hr, cfg.SupervisorOptions())

	captureLogs := logging.NewCaptureLogs(cfg.CaptureLogDir)
	defer captureLogs.Close()
	sup.SetCaptureLogs(captureLogs)

	ret := retention.NewManager(cfg.ArchiveRoot, cfg.RetentionPolicy(), cfg.RetentionInterval)
	if store := newOffloader(ctx, cfg); store != nil {
		ret.SetOffloader(store)
	}

	// o publisher sobe antes do autostart para não perder as primeiras transições
	pubCtx, pubCancel := context.WithCancel(context.Background())
	defer pubCancel()
	pubDone := make(chan struct{})
	if mqttCli := newMQTT(cfg); mqttCli != nil {
		defer mqttCli.Close()
		pub := status.NewPublisher(mqttCli, cfg.MQTTBaseTopic, hr, sup, cfg.ArchiveRoot, cfg.StatusInterval)
		go func() {
			defer close(pubDone)
			_ = pub.Run(pubCtx)
		}()
	} else {
		close(pubDone)
	}

	for _, id := range cfg.AutostartIDs(reg.IDs()) {
		if err := sup.Start(id); err != nil {
			log.Printf("[main] autostart %s falhou: %v", id, err)
		}
	}

	liveness := supervisor.NewLivenessMonitor(sup, signalImpl, cfg.LivenessInterval, cfg.StallTimeout)
	periodic := supervisor.NewPeriodicRestartScheduler(sup, cfg.RestartCheckInterval, cfg.MaxUptime)
	api := httpapi.New(cfg.HTTPAddr, sup, cfg.ArchiveRoot)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return liveness.Run(gctx) })
	g.Go(func() error { return periodic.Run(gctx) })
	g.Go(func() error { return ret.Run(gctx) })
	g.Go(func() error { return api.Run(gctx) })

	log.Printf("[main] cam-archiver rodando: %d câmeras, root=%s", len(reg.IDs()), cfg.ArchiveRoot)
	err = g.Wait()
	if err != nil {
		log.Printf("[main] encerrando por erro: %v", err)
	} else {
		log.Println("[main] sinal recebido, encerrando...")
	}

	sup.Shutdown()
	pubCancel()
	<-pubDone
	return err
}

func newOffloader(ctx context.Context, cfg *config.Config) *storage.MinioStore {
	if !cfg.MinIO.Enabled() {
		return nil
	}
	store, err := storage.NewMinioStore(cfg.MinIO)
	if err == nil {
		err = store.EnsureBucket(ctx)
	}
	if err != nil {
		// segue sem offload; a retenção só apaga
		log.Printf("[main] aviso: MinIO não inicializado: %v", err)
		return nil
	}
	return store
}

func newMQTT(cfg *config.Config) *mqttclient.Client {
	if !cfg.MQTTEnabled() {
		log.Printf("[main] MQTT_HOST vazio, publisher de status desligado")
		return nil
	}
	mc := cfg.MQTT
	mc.WillTopic = cfg.MQTTBaseTopic + "/collector/status"
	mc.WillPayload = status.OfflinePayload

	cli, err := mqttclient.NewClient(mc)
	if err != nil {
		log.Printf("[main] aviso: erro ao conectar no MQTT (%v), seguindo sem status", err)
		return nil
	}
	return cli
}
