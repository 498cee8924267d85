package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remotedev/internal/logging"
)

const namespace = "remotedev"

// Stage outcome labels.
const (
	OutcomeAdvanced      = "advanced"
	OutcomeCompleted     = "completed"
	OutcomeFailed        = "failed"
	OutcomeClarification = "clarification"
	OutcomeApproval      = "approval"
	OutcomePRWait        = "pr_wait"
)

// Metrics owns a private registry and the collectors recorded into it.
type Metrics struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	stageOutcomes   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	prPolls         *prometheus.CounterVec
	pendingPRs      prometheus.Gauge
	transitions     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "ticks_total",
			Help: "Stepper ticks executed.",
		}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "stage_outcomes_total",
			Help: "Envelopes processed per stage by outcome.",
		}, []string{"stage", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "handler_duration_seconds",
			Help:    "Wall time spent inside stage handlers.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "queue_depth",
			Help: "Envelopes waiting per stage queue at the start of a tick.",
		}, []string{"stage"}),
		prPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "prwait", Name: "poll_results_total",
			Help: "Pull request poll decisions by result.",
		}, []string{"result"}),
		pendingPRs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "prwait", Name: "pending",
			Help: "Registered pull request waits.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orchestrator", Name: "transitions_total",
			Help: "Work item transitions by workflow and event.",
		}, []string{"workflow", "event"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.stageOutcomes, m.handlerDuration, m.queueDepth,
		m.prPolls, m.pendingPRs, m.transitions,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) StageOutcome(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) HandlerDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(stage string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stage).Set(float64(depth))
}

func (m *Metrics) PRPoll(result string) {
	if m == nil {
		return
	}
	m.prPolls.WithLabelValues(result).Inc()
}

func (m *Metrics) PendingPRs(n int) {
	if m == nil {
		return
	}
	m.pendingPRs.Set(float64(n))
}

func (m *Metrics) Transition(workflow, event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(workflow, event).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve runs the /metrics listener until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("metrics listener started", logging.String("listen", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
