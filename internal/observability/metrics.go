// Package observability exposes controller counters to Prometheus.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/internal/status"
	"github.com/unklstewy/vega-mount/pkg/motion"
	"github.com/unklstewy/vega-mount/pkg/tracking"
)

// Collector bundles the controller metrics. It satisfies motion.Metrics,
// tracking.Metrics and command.Metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	ActiveTasks        prometheus.Gauge
	TasksStarted       *prometheus.CounterVec
	TasksFinished      *prometheus.CounterVec
	TaskDurations      *prometheus.HistogramVec
	ForcedTerminations *prometheus.CounterVec
	ThrottledCommands  *prometheus.CounterVec

	TrackingMode     *prometheus.GaugeVec
	TargetsPublished *prometheus.CounterVec
	TargetsRejected  *prometheus.CounterVec

	Commands *prometheus.CounterVec

	healthMu sync.RWMutex
	health   map[string]HealthCheck
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) bool

// healthTimeout bounds one /health request across all checks.
const healthTimeout = 5 * time.Second

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.ActiveTasks, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "motion_active_tasks",
		Help: "Motion tasks currently occupying the slot (0 or 1).",
	}), "motion_active_tasks"); err != nil {
		return nil, err
	}
	if c.TasksStarted, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motion_tasks_started_total",
		Help: "Motion tasks started, labeled by task name.",
	}, []string{"task"}), "motion_tasks_started_total"); err != nil {
		return nil, err
	}
	if c.TasksFinished, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motion_tasks_finished_total",
		Help: "Motion tasks finished, labeled by task name and outcome.",
	}, []string{"task", "outcome"}), "motion_tasks_finished_total"); err != nil {
		return nil, err
	}
	if c.TaskDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "motion_task_duration_seconds",
		Help:    "Motion task run time in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900, 3600},
	}, []string{"task"}), "motion_task_duration_seconds"); err != nil {
		return nil, err
	}
	if c.ForcedTerminations, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motion_forced_terminations_total",
		Help: "Motion tasks abandoned after ignoring a stop request.",
	}, []string{"task"}), "motion_forced_terminations_total"); err != nil {
		return nil, err
	}
	if c.ThrottledCommands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motion_commands_throttled_total",
		Help: "Motion commands dropped inside the debounce window.",
	}, []string{"command"}), "motion_commands_throttled_total"); err != nil {
		return nil, err
	}
	if c.TrackingMode, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracking_mode",
		Help: "1 for the active tracking mode, 0 otherwise.",
	}, []string{"mode"}), "tracking_mode"); err != nil {
		return nil, err
	}
	if c.TargetsPublished, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_targets_published_total",
		Help: "Target recomputations that produced a reachable position.",
	}, []string{"mode"}), "tracking_targets_published_total"); err != nil {
		return nil, err
	}
	if c.TargetsRejected, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_targets_rejected_total",
		Help: "Target recomputations rejected as unreachable or failed.",
	}, []string{"mode"}), "tracking_targets_rejected_total"); err != nil {
		return nil, err
	}
	if c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_handled_total",
		Help: "Command link requests, labeled by command and reply status.",
	}, []string{"command", "status"}), "commands_handled_total"); err != nil {
		return nil, err
	}

	c.ModeChanged(tracking.Idle)
	return c, nil
}

// TaskStarted implements motion.Metrics.
func (c *Collector) TaskStarted(name string) {
	if c == nil {
		return
	}
	c.ActiveTasks.Inc()
	c.TasksStarted.WithLabelValues(name).Inc()
}

// TaskFinished implements motion.Metrics.
func (c *Collector) TaskFinished(name string, outcome motion.Outcome, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ActiveTasks.Dec()
	c.TasksFinished.WithLabelValues(name, string(outcome)).Inc()
	c.TaskDurations.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ForcedTermination implements motion.Metrics.
func (c *Collector) ForcedTermination(name string) {
	if c == nil {
		return
	}
	c.ForcedTerminations.WithLabelValues(name).Inc()
}

// Throttled implements motion.Metrics.
func (c *Collector) Throttled(command string) {
	if c == nil {
		return
	}
	c.ThrottledCommands.WithLabelValues(command).Inc()
}

// ModeChanged implements tracking.Metrics.
func (c *Collector) ModeChanged(mode tracking.Mode) {
	if c == nil {
		return
	}
	for _, m := range []tracking.Mode{tracking.Idle, tracking.Satellite, tracking.Galactic, tracking.Equatorial} {
		v := 0.0
		if m == mode {
			v = 1
		}
		c.TrackingMode.WithLabelValues(m.String()).Set(v)
	}
}

// TargetPublished implements tracking.Metrics.
func (c *Collector) TargetPublished(mode tracking.Mode) {
	if c == nil {
		return
	}
	c.TargetsPublished.WithLabelValues(mode.String()).Inc()
}

// TargetRejected implements tracking.Metrics.
func (c *Collector) TargetRejected(mode tracking.Mode) {
	if c == nil {
		return
	}
	c.TargetsRejected.WithLabelValues(mode.String()).Inc()
}

// CommandHandled implements command.Metrics.
func (c *Collector) CommandHandled(name string, outcome status.Severity) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(name, outcome.String()).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// AddHealthCheck makes /health depend on check. Adding a name twice
// replaces the earlier check.
func (c *Collector) AddHealthCheck(name string, check HealthCheck) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if c.health == nil {
		c.health = make(map[string]HealthCheck)
	}
	c.health[name] = check
}

// unhealthy runs the registered checks and returns the failing names, sorted.
func (c *Collector) unhealthy(ctx context.Context) []string {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()

	var failed []string
	for name, check := range c.health {
		if !check(ctx) {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Mux routes /metrics to the collector and /health to the registered
// health checks. /health answers 200 "ok" or 503 naming what failed.
func (c *Collector) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if failed := c.unhealthy(ctx); len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy: " + strings.Join(failed, ", ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, log logging.Logger) error {
	log = logging.OrNoop(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           c.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "metrics endpoint listening", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
