// Package metrics defines the Prometheus collectors for the tracking engine.
// All collectors register against the default registry; cmd/server exposes
// them on /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmynk/dosetrack/internal/models"
)

var (
	// CheckIns counts accepted check-ins.
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dosetrack_checkins_total",
		Help: "Number of accepted daily check-ins.",
	})

	// CheckInsRejected counts check-in attempts rejected by the gate,
	// labeled by the gate state that blocked them.
	CheckInsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dosetrack_checkins_rejected_total",
		Help: "Number of check-in attempts rejected by the gate.",
	}, []string{"reason"})

	// WriteRetries counts automatic single retries of failed store writes.
	WriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dosetrack_write_retries_total",
		Help: "Number of automatic retries of failed store writes.",
	})

	// WriteFailures counts writes that failed after their retry.
	WriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dosetrack_write_failures_total",
		Help: "Number of store writes that failed after the automatic retry.",
	})

	// Rollovers counts detected day-boundary changes.
	Rollovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dosetrack_day_rollovers_total",
		Help: "Number of detected local-date rollovers.",
	})

	// SnapshotsDelivered counts full snapshots pushed to subscribers.
	SnapshotsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dosetrack_snapshots_delivered_total",
		Help: "Number of full record snapshots delivered to subscribers.",
	})

	// SyncState reports the current sync status (0 synced, 1 syncing, 2 error).
	SyncState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dosetrack_sync_status",
		Help: "Current sync status: 0 synced, 1 syncing, 2 error.",
	})
)

// SetSyncStatus records the tracker's sync status on the gauge.
func SetSyncStatus(s models.SyncStatus) {
	SyncState.Set(float64(s))
}
