// Package metrics holds the prometheus collectors shared by the ingestion
// pipeline, the agent and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "graphagent"

var (
	// chunksProcessed counts chunk extraction outcomes.
	// Labels: status (ok, retried, failed, skipped)
	chunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "chunks_total",
		Help:      "Chunks handled by the ingestion pipeline by outcome",
	}, []string{"status"})

	// graphWrites counts entity and relation writes performed by ingestion.
	// Labels: kind (entity, relation), op (created, merged, dropped)
	graphWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "graph_writes_total",
		Help:      "Entity and relation merge results",
	}, []string{"kind", "op"})

	// ingestDuration measures whole ingestion runs.
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Ingestion run latency in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	// routeDecisions counts agent routing outcomes.
	// Labels: mode (llm, heuristic, always, never), used_graph (true, false)
	routeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "route_decisions_total",
		Help:      "Route decisions taken by the agent",
	}, []string{"mode", "used_graph"})

	// turnDuration measures chat turns by terminal outcome.
	// Labels: outcome (complete, error, canceled)
	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "turn_duration_seconds",
		Help:      "Chat turn latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"outcome"})

	// degradations counts retrieval or routing failures that fell back to a
	// direct answer.
	// Labels: stage (route, retrieval)
	degradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "degradations_total",
		Help:      "Agent failures degraded to a direct answer",
	}, []string{"stage"})

	// httpRequests counts API requests.
	// Labels: method, status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status code",
	}, []string{"method", "status"})

	// projects tracks the number of live projects.
	projects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "projects",
		Help:      "Number of projects currently held in memory",
	})
)

// RecordChunk records one chunk outcome.
func RecordChunk(status string) {
	chunksProcessed.WithLabelValues(status).Inc()
}

// RecordGraphWrites adds n writes of the given kind and op.
func RecordGraphWrites(kind, op string, n int) {
	if n <= 0 {
		return
	}
	graphWrites.WithLabelValues(kind, op).Add(float64(n))
}

// ObserveIngest records the duration of an ingestion run.
func ObserveIngest(d time.Duration) {
	ingestDuration.Observe(d.Seconds())
}

// RecordRoute records a route decision.
func RecordRoute(mode string, usedGraph bool) {
	v := "false"
	if usedGraph {
		v = "true"
	}
	routeDecisions.WithLabelValues(mode, v).Inc()
}

// ObserveTurn records the duration of a chat turn.
func ObserveTurn(outcome string, d time.Duration) {
	turnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordDegradation records a stage that fell back to a direct answer.
func RecordDegradation(stage string) {
	degradations.WithLabelValues(stage).Inc()
}

// RecordRequest records an HTTP request.
func RecordRequest(method string, status int) {
	httpRequests.WithLabelValues(method, statusLabel(status)).Inc()
}

// SetProjects sets the live project gauge.
func SetProjects(n int) {
	projects.Set(float64(n))
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
