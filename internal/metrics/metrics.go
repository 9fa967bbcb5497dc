// Package metrics exposes the Prometheus collectors of the sync and
// report pipelines, served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts started sync runs per mode (CRM modes plus
	// facebook_ads).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "painel_sync_runs_total",
		Help: "Sync runs started, by mode.",
	}, []string{"mode"})

	// SyncRows counts rows upserted per entity.
	SyncRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "painel_sync_rows_total",
		Help: "Rows upserted by sync runs, by entity.",
	}, []string{"entity"})

	// SyncErrors counts runs that failed or finished with errors.
	SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "painel_sync_errors_total",
		Help: "Sync runs that failed or accumulated errors, by mode.",
	}, []string{"mode"})

	// ReportRequests counts report computations per endpoint, with the
	// cache outcome.
	ReportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "painel_report_requests_total",
		Help: "Report requests, by endpoint and cache outcome.",
	}, []string{"endpoint", "cache"})
)
