package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/unklstewy/vega-mount/internal/status"
	"github.com/unklstewy/vega-mount/pkg/motion"
	"github.com/unklstewy/vega-mount/pkg/tracking"
)

func TestTaskLifecycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.TaskStarted("point_to")
	c.TaskFinished("point_to", motion.OutcomeCompleted, 1500*time.Millisecond)
	c.TaskStarted("tracking")
	c.ForcedTermination("tracking")
	c.TaskFinished("tracking", motion.OutcomeTerminated, 5*time.Second)
	c.Throttled("home")
	c.Throttled("home")

	if got := testutil.ToFloat64(c.ActiveTasks); got != 0 {
		t.Fatalf("motion_active_tasks = %v after both finished, want 0", got)
	}
	if got := testutil.ToFloat64(c.TasksStarted.WithLabelValues("point_to")); got != 1 {
		t.Fatalf("motion_tasks_started_total{point_to} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.TasksFinished.WithLabelValues("tracking", "terminated")); got != 1 {
		t.Fatalf("motion_tasks_finished_total{tracking,terminated} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ForcedTerminations.WithLabelValues("tracking")); got != 1 {
		t.Fatalf("motion_forced_terminations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ThrottledCommands.WithLabelValues("home")); got != 2 {
		t.Fatalf("motion_commands_throttled_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "motion_task_duration_seconds", map[string]string{"task": "point_to"}); count != 1 {
		t.Fatalf("motion_task_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestTrackingModeGauge(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	if got := testutil.ToFloat64(c.TrackingMode.WithLabelValues("idle")); got != 1 {
		t.Fatalf("tracking_mode{idle} = %v after construction, want 1", got)
	}

	c.ModeChanged(tracking.Galactic)
	if got := testutil.ToFloat64(c.TrackingMode.WithLabelValues("galactic")); got != 1 {
		t.Fatalf("tracking_mode{galactic} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.TrackingMode.WithLabelValues("idle")); got != 0 {
		t.Fatalf("tracking_mode{idle} = %v, want 0", got)
	}

	c.TargetPublished(tracking.Galactic)
	c.TargetRejected(tracking.Satellite)
	if got := testutil.ToFloat64(c.TargetsPublished.WithLabelValues("galactic")); got != 1 {
		t.Fatalf("tracking_targets_published_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.TargetsRejected.WithLabelValues("satellite")); got != 1 {
		t.Fatalf("tracking_targets_rejected_total = %v, want 1", got)
	}
}

func TestCommandCounter(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.CommandHandled("point_to", status.None)
	c.CommandHandled("point_to", status.Error)
	c.CommandHandled("status", status.Warning)

	if got := testutil.ToFloat64(c.Commands.WithLabelValues("point_to", "error")); got != 1 {
		t.Fatalf("commands_handled_total{point_to,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Commands.WithLabelValues("status", "warning")); got != 1 {
		t.Fatalf("commands_handled_total{status,warning} = %v, want 1", got)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}

	first.Throttled("standby")
	if got := testutil.ToFloat64(second.ThrottledCommands.WithLabelValues("standby")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.TaskStarted("point_to")
	c.TaskFinished("point_to", motion.OutcomeFailed, time.Second)
	c.ForcedTermination("point_to")
	c.Throttled("point_to")
	c.ModeChanged(tracking.Equatorial)
	c.TargetPublished(tracking.Equatorial)
	c.TargetRejected(tracking.Equatorial)
	c.CommandHandled("ping", status.None)
}

func TestMuxServesMetricsAndHealth(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.TaskStarted("home")
	c.CommandHandled("home", status.None)
	if got := testutil.ToFloat64(c.ActiveTasks); got != 1 {
		t.Fatalf("motion_active_tasks = %v, want 1", got)
	}

	mux := c.Mux()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"motion_tasks_started_total",
		"motion_active_tasks",
		"tracking_mode",
		"commands_handled_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("/health = %d %q, want 200 ok", rr.Code, rr.Body.String())
	}
}

func TestHealthReportsFailingChecks(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	journalUp := true
	c.AddHealthCheck("journal", func(context.Context) bool { return journalUp })
	c.AddHealthCheck("mount", func(context.Context) bool { return true })
	mux := c.Mux()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/health = %d %q with all checks passing", rr.Code, rr.Body.String())
	}

	journalUp = false
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/health = %d, want 503", rr.Code)
	}
	if got := rr.Body.String(); got != "unhealthy: journal" {
		t.Fatalf("/health body = %q", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
