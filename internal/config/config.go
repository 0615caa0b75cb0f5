// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sua-org/cam-archiver/internal/capture"
	"github.com/sua-org/cam-archiver/internal/mqttclient"
	"github.com/sua-org/cam-archiver/internal/registry"
	"github.com/sua-org/cam-archiver/internal/retention"
	"github.com/sua-org/cam-archiver/internal/storage"
	"github.com/sua-org/cam-archiver/internal/supervisor"
)

type Config struct {
	ArchiveRoot string
	// Cameras vem do `cameras:` do arquivo de config; CamerasFile tem prioridade.
	Cameras     map[string]string
	CamerasFile string

	CaptureBinary  string
	CaptureArgs    []string
	SegmentPattern string
	SegmentSeconds int
	CaptureLogDir  string

	LivenessSignal       string
	LivenessInterval     time.Duration
	StallTimeout         time.Duration
	RestartCheckInterval time.Duration
	MaxUptime            time.Duration
	SettleDelay          time.Duration
	RestartDebounce      time.Duration
	ActiveFileTimeout    time.Duration

	RetentionKeepDays       int
	RetentionMinFreePercent float64
	RetentionInterval       time.Duration

	// nil = todas as câmeras configuradas
	AutostartCameras []string

	HTTPAddr string
	LogFile  string

	MQTT           mqttclient.Config
	MQTTBaseTopic  string
	StatusInterval time.Duration

	MinIO storage.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive_root", "./recordings")
	v.SetDefault("cameras_file", "")
	v.SetDefault("capture_binary", "/usr/bin/ffmpeg")
	v.SetDefault("capture_args", "")
	v.SetDefault("segment_pattern", "%Y-%m-%d_%H-%M-%S.mp4")
	v.SetDefault("segment_seconds", 300)
	v.SetDefault("capture_log_dir", "")
	v.SetDefault("liveness_signal", "output")
	v.SetDefault("liveness_interval", "10s")
	v.SetDefault("stall_timeout", "30s")
	v.SetDefault("restart_check_interval", "1m")
	v.SetDefault("max_uptime", "2h")
	v.SetDefault("settle_delay", "7s")
	v.SetDefault("restart_debounce", "0s")
	v.SetDefault("active_file_timeout", "30s")
	v.SetDefault("retention_keep_days", 7)
	v.SetDefault("retention_min_free_percent", 15.0)
	v.SetDefault("retention_interval", "30m")
	v.SetDefault("autostart_cameras", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_file", "")
	v.SetDefault("mqtt_host", "")
	v.SetDefault("mqtt_port", 1883)
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_client_id", "cam-archiver")
	v.SetDefault("mqtt_base_topic", "cam-archiver")
	v.SetDefault("status_interval", "30s")
	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "cam-archive")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_public_base_url", "")
}

// LoadDotEnv carrega .env na raiz (se não existir, só loga aviso).
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] aviso: não foi possível carregar .env: %v", err)
	} else {
		log.Printf("[config] .env carregado com sucesso")
	}
}

// Load lê o arquivo de config (opcional) e as variáveis de ambiente, que têm
// prioridade sobre o arquivo.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		log.Printf("[config] usando %s", v.ConfigFileUsed())
	}

	cfg := &Config{
		ArchiveRoot: v.GetString("archive_root"),
		Cameras:     v.GetStringMapString("cameras"),
		CamerasFile: v.GetString("cameras_file"),

		CaptureBinary:  v.GetString("capture_binary"),
		CaptureArgs:    capture.ParseArgs(v.GetString("capture_args")),
		SegmentPattern: v.GetString("segment_pattern"),
		SegmentSeconds: v.GetInt("segment_seconds"),
		CaptureLogDir:  v.GetString("capture_log_dir"),

		LivenessSignal:       v.GetString("liveness_signal"),
		LivenessInterval:     v.GetDuration("liveness_interval"),
		StallTimeout:         v.GetDuration("stall_timeout"),
		RestartCheckInterval: v.GetDuration("restart_check_interval"),
		MaxUptime:            v.GetDuration("max_uptime"),
		SettleDelay:          v.GetDuration("settle_delay"),
		RestartDebounce:      v.GetDuration("restart_debounce"),
		ActiveFileTimeout:    v.GetDuration("active_file_timeout"),

		RetentionKeepDays:       v.GetInt("retention_keep_days"),
		RetentionMinFreePercent: v.GetFloat64("retention_min_free_percent"),
		RetentionInterval:       v.GetDuration("retention_interval"),

		AutostartCameras: splitCSV(v.GetString("autostart_cameras")),

		HTTPAddr: v.GetString("http_addr"),
		LogFile:  v.GetString("log_file"),

		MQTT: mqttclient.Config{
			Host:     v.GetString("mqtt_host"),
			Port:     v.GetInt("mqtt_port"),
			Username: v.GetString("mqtt_username"),
			Password: v.GetString("mqtt_password"),
			ClientID: v.GetString("mqtt_client_id"),
		},
		MQTTBaseTopic:  strings.TrimSuffix(v.GetString("mqtt_base_topic"), "/"),
		StatusInterval: v.GetDuration("status_interval"),

		MinIO: storage.Config{
			Endpoint:      v.GetString("minio_endpoint"),
			AccessKey:     v.GetString("minio_access_key"),
			SecretKey:     v.GetString("minio_secret_key"),
			Bucket:        v.GetString("minio_bucket"),
			UseSSL:        v.GetBool("minio_use_ssl"),
			PublicBaseURL: v.GetString("minio_public_base_url"),
		},
	}
	if len(cfg.CaptureArgs) == 0 {
		cfg.CaptureArgs = capture.DefaultArgs(cfg.SegmentSeconds)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ArchiveRoot) == "" {
		return fmt.Errorf("ARCHIVE_ROOT vazio")
	}
	if _, err := supervisor.SignalByName(c.LivenessSignal); err != nil {
		return err
	}
	positive := map[string]time.Duration{
		"LIVENESS_INTERVAL":      c.LivenessInterval,
		"STALL_TIMEOUT":          c.StallTimeout,
		"RESTART_CHECK_INTERVAL": c.RestartCheckInterval,
		"ACTIVE_FILE_TIMEOUT":    c.ActiveFileTimeout,
		"RETENTION_INTERVAL":     c.RetentionInterval,
		"STATUS_INTERVAL":        c.StatusInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s deve ser > 0 (atual %s)", key, d)
		}
	}
	if c.MaxUptime < 0 || c.SettleDelay < 0 || c.RestartDebounce < 0 {
		return fmt.Errorf("MAX_UPTIME, SETTLE_DELAY e RESTART_DEBOUNCE não podem ser negativos")
	}
	if c.RetentionKeepDays < 0 {
		return fmt.Errorf("RETENTION_KEEP_DAYS não pode ser negativo (atual %d)", c.RetentionKeepDays)
	}
	if c.RetentionMinFreePercent < 0 || c.RetentionMinFreePercent > 100 {
		return fmt.Errorf("RETENTION_MIN_FREE_PERCENT fora de 0..100 (atual %.1f)", c.RetentionMinFreePercent)
	}
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Registry monta o registro de câmeras: CAMERAS_FILE se definido, senão o
// mapa `cameras:` da config.
func (c *Config) Registry() (*registry.Registry, error) {
	if c.CamerasFile != "" {
		return registry.LoadFile(c.CamerasFile)
	}
	if len(c.Cameras) == 0 {
		log.Printf("[config] nenhuma câmera configurada")
	}
	return registry.New(c.Cameras)
}

func (c *Config) CommandTemplate() capture.Template {
	return capture.Template{Binary: c.CaptureBinary, Args: c.CaptureArgs}
}

func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		ArchiveRoot:       c.ArchiveRoot,
		SegmentPattern:    c.SegmentPattern,
		SettleDelay:       c.SettleDelay,
		RestartDebounce:   c.RestartDebounce,
		ActiveFileTimeout: c.ActiveFileTimeout,
	}
}

func (c *Config) RetentionPolicy() retention.Policy {
	return retention.Policy{
		KeepDays:       c.RetentionKeepDays,
		MinFreePercent: c.RetentionMinFreePercent,
	}
}

// AutostartIDs devolve as câmeras a iniciar no boot: AUTOSTART_CAMERAS ou,
// se vazio, todas as configuradas.
func (c *Config) AutostartIDs(configured []string) []string {
	if len(c.AutostartCameras) == 0 {
		return configured
	}
	return c.AutostartCameras
}

// MQTTEnabled: sem MQTT_HOST o publisher de status fica desligado.
func (c *Config) MQTTEnabled() bool {
	return strings.TrimSpace(c.MQTT.Host) != ""
}
