package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"lance/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the insights service
type Metrics struct {
	SnapshotBuilds    *prometheus.CounterVec
	BuildDuration     *prometheus.HistogramVec
	PostsAggregated   *prometheus.CounterVec
	CoalescedBuilds   *prometheus.CounterVec
	NarrativeRequests *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	LastBatchUsers    *prometheus.GaugeVec
}

// New registers the service metrics on mc.
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		SnapshotBuilds:    mc.NewCounter("snapshot_builds_total", "Snapshot builds by outcome", []string{"status"}),
		BuildDuration:     mc.NewHistogram("snapshot_build_duration_seconds", "Snapshot build duration", []string{"status"}, nil),
		PostsAggregated:   mc.NewCounter("snapshot_posts_aggregated_total", "Posts folded into snapshots", []string{"outcome"}),
		CoalescedBuilds:   mc.NewCounter("snapshot_builds_coalesced_total", "Build requests that joined an in-flight build", nil),
		NarrativeRequests: mc.NewCounter("narrative_requests_total", "Narrative summaries by outcome", []string{"status"}),
		EventsPublished:   mc.NewCounter("events_published_total", "Snapshot events published", []string{"sink", "status"}),
		LastBatchUsers:    mc.NewGauge("snapshot_batch_users", "Users in the most recent batch run by outcome", []string{"status"}),
	}
}
