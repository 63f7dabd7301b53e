package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
)

// TextfileRecorder keeps per-cycle gauges in a private registry and rewrites a
// node_exporter textfile after every cycle. An empty path keeps metrics in memory.
type TextfileRecorder struct {
	path     string
	registry *prometheus.Registry

	lastRun      *prometheus.GaugeVec
	lastSuccess  *prometheus.GaugeVec
	duration     *prometheus.GaugeVec
	items        *prometheus.GaugeVec
	tierStatus   *prometheus.GaugeVec
	importStatus prometheus.Gauge
	cycles       *prometheus.CounterVec
}

var _ ports.RunRecorder = (*TextfileRecorder)(nil)

// NewTextfileRecorder registers the crawler metrics.
func NewTextfileRecorder(path string) *TextfileRecorder {
	r := &TextfileRecorder{
		path:     path,
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiered_crawler_last_run_timestamp_seconds",
			Help: "Start time of the last crawl cycle.",
		}, []string{"mode"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiered_crawler_last_run_success",
			Help: "1 if the last crawl cycle succeeded.",
		}, []string{"mode"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiered_crawler_tier_duration_seconds",
			Help: "Wall-clock duration of the last task per tier.",
		}, []string{"tier"}),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiered_crawler_items",
			Help: "Items processed by the last fetch per tier and outcome.",
		}, []string{"tier", "outcome"}),
		tierStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiered_crawler_tier_status",
			Help: "1 for the status the tier finished with in the last cycle.",
		}, []string{"tier", "status"}),
		importStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tiered_crawler_last_import_success",
			Help: "1 if the last unified import committed.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiered_crawler_cycles_total",
			Help: "Crawl cycles run by this process.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(r.lastRun, r.lastSuccess, r.duration, r.items, r.tierStatus, r.importStatus, r.cycles)
	return r
}

// Registry exposes the underlying registry.
func (r *TextfileRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordRun updates gauges from a report and flushes the textfile.
func (r *TextfileRecorder) RecordRun(report domain.RunReport) error {
	mode := string(report.Mode)
	r.lastRun.WithLabelValues(mode).Set(float64(report.StartedAt.Unix()))
	r.lastSuccess.WithLabelValues(mode).Set(boolGauge(report.Success))
	r.importStatus.Set(boolGauge(report.Import.Success))

	result := "failure"
	if report.Success {
		result = "success"
	}
	r.cycles.WithLabelValues(result).Inc()

	for _, o := range report.Tiers {
		tier := string(o.Tier)
		r.duration.WithLabelValues(tier).Set(o.Duration.Seconds())
		for _, status := range []domain.TierStatus{domain.TierStatusSuccess, domain.TierStatusSkipped, domain.TierStatusFailed} {
			r.tierStatus.WithLabelValues(tier, string(status)).Set(boolGauge(o.Status == status))
		}
		if o.Fetch != nil {
			r.items.WithLabelValues(tier, "success").Set(float64(o.Fetch.Counts.Success))
			r.items.WithLabelValues(tier, "failed").Set(float64(o.Fetch.Counts.Failed))
			r.items.WithLabelValues(tier, "skipped").Set(float64(o.Fetch.Counts.Skipped))
		}
	}

	if r.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
