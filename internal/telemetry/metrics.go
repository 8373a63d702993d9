package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskrpc/internal/logging"
)

const namespace = "taskrpc"

var (
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_total",
		Help:      "Tasks handled by the worker, by operation and status.",
	}, []string{"operation", "status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "task_duration_seconds",
		Help:      "Time spent executing one task.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	TasksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_expired_total",
		Help:      "Tasks dropped because they expired before execution.",
	})

	PipelineSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "steps_total",
		Help:      "Pipeline steps executed, by operation and status.",
	}, []string{"operation", "status"})

	ClientRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Client requests by operation and outcome.",
	}, []string{"operation", "outcome"})

	EnqueueRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "enqueue_retries_total",
		Help:      "Enqueue attempts repeated after a channel failure.",
	})
)

// Status labels.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusExpired = "expired"
)

// ObserveTask records one finished task.
func ObserveTask(operation string, started time.Time, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	TasksTotal.WithLabelValues(operation, status).Inc()
	TaskDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Expose serves /metrics on port in the background. A zero port disables it.
func Expose(port int) {
	if port <= 0 {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			logging.L().Error("metrics listener stopped", "port", port, "err", err)
		}
	}()
}
