// internal/metrics/metrics.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cam_archiver"

var (
	CaptureRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_restarts_total",
			Help:      "Capture process restarts by camera and reason (exit, stall, uptime, rollover).",
		},
		[]string{"camera", "reason"},
	)
	CaptureLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_launch_failures_total",
			Help:      "Failed attempts to spawn a capture process.",
		},
		[]string{"camera"},
	)
	CaptureUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_up",
			Help:      "1 while a capture session is registered for the camera.",
		},
		[]string{"camera"},
	)
	RetentionDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_folders_total",
			Help:      "Date folders removed by retention, by pass (age, space).",
		},
		[]string{"pass"},
	)
	RetentionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_delete_failures_total",
			Help:      "Date folders retention failed to remove.",
		},
	)
	DiskFreePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_disk_free_percent",
			Help:      "Free space on the archive volume, in percent.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CaptureRestarts,
		CaptureLaunchFailures,
		CaptureUp,
		RetentionDeleted,
		RetentionFailures,
		DiskFreePercent,
	)
}
