// Package metrics holds the Prometheus collectors for ingestion, extraction,
// retrieval and agent runs. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Flush kinds
const (
	FlushVector    = "vector"
	FlushKnowledge = "knowledge"
	FlushStatus    = "status"
)

// Collector groups every metric the service exports
type Collector struct {
	chunksProcessed   *prometheus.CounterVec
	chunksSkipped     *prometheus.CounterVec
	flushFailures     *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	retrievalDuration *prometheus.HistogramVec
	graphDegradations prometheus.Counter
	agentRuns         *prometheus.CounterVec
	agentTokens       *prometheus.CounterVec
	syncRuns          *prometheus.CounterVec
	jobsDequeued      prometheus.Counter
}

// NewCollector registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		chunksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_processed_total",
			Help:      "Chunks read from connectors",
		}, []string{"source_type"}),
		chunksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_skipped_total",
			Help:      "Chunks whose work was skipped by fingerprint",
		}, []string{"stage"}),
		flushFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_flush_failures_total",
			Help:      "Failed batch flushes by kind",
		}, []string{"kind"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Knowledge pipeline stage duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		retrievalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration by channel",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		graphDegradations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_graph_degradations_total",
			Help:      "Queries answered vector-only because the graph channel failed",
		}),
		agentRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by final status",
		}, []string{"final_status"}),
		agentTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_total",
			Help:      "Generation tokens by type",
		}, []string{"type"}),
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Finished sync runs by outcome",
		}, []string{"outcome"}),
		jobsDequeued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_dequeued_total",
			Help:      "Jobs popped from the task queue",
		}),
	}
}

func (c *Collector) ChunkProcessed(sourceType string) {
	if c == nil {
		return
	}
	c.chunksProcessed.WithLabelValues(sourceType).Inc()
}

// ChunkSkipped counts a chunk that skipped stage ("vector" or "knowledge")
func (c *Collector) ChunkSkipped(stage string) {
	if c == nil {
		return
	}
	c.chunksSkipped.WithLabelValues(stage).Inc()
}

func (c *Collector) FlushFailed(kind string) {
	if c == nil {
		return
	}
	c.flushFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) ObserveRetrieval(channel string, d time.Duration) {
	if c == nil {
		return
	}
	c.retrievalDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (c *Collector) GraphDegraded() {
	if c == nil {
		return
	}
	c.graphDegradations.Inc()
}

func (c *Collector) AgentRun(finalStatus string, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.agentRuns.WithLabelValues(finalStatus).Inc()
	c.agentTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	c.agentTokens.WithLabelValues("completion").Add(float64(completionTokens))
}

func (c *Collector) SyncFinished(success bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.syncRuns.WithLabelValues(outcome).Inc()
}

func (c *Collector) JobDequeued() {
	if c == nil {
		return
	}
	c.jobsDequeued.Inc()
}
