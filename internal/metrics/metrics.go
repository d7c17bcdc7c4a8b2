package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stridehq/stride-scheduler/internal/health"
)

var (
	// Engine metrics

	EngineActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stride_scheduler",
		Name:      "engine_active_tasks",
		Help:      "Number of tasks currently registered with the engine.",
	})

	ExecutionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stride_scheduler",
		Name:      "executions_in_flight",
		Help:      "Number of task handlers currently executing.",
	})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stride_scheduler",
		Name:      "execution_duration_seconds",
		Help:      "Duration of task handler executions.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride_scheduler",
		Name:      "executions_total",
		Help:      "Total task executions, by outcome.",
	}, []string{"status"})

	// Provisioning metrics

	TasksProvisionedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride_scheduler",
		Name:      "tasks_provisioned_total",
		Help:      "Tasks created or deleted in reaction to source module events.",
	}, []string{"source_module", "action"})

	ProvisioningSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride_scheduler",
		Name:      "provisioning_skipped_total",
		Help:      "Provisioning events that resulted in a documented no-op.",
	}, []string{"source_module", "reason"})

	// Event bus metrics

	DeadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stride_scheduler",
		Name:      "dead_letters_total",
		Help:      "Event deliveries rejected by a listener.",
	})

	// Lifecycle metrics

	TaskTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride_scheduler",
		Name:      "task_transitions_total",
		Help:      "Task status transitions applied by the orchestration service.",
	}, []string{"to"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stride_scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride_scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		EngineActiveTasks,
		ExecutionsInFlight,
		ExecutionDuration,
		ExecutionsTotal,
		TasksProvisionedTotal,
		ProvisioningSkippedTotal,
		DeadLettersTotal,
		TaskTransitionsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer returns the ops HTTP server: Prometheus metrics plus liveness and
// readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
