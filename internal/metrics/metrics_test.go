package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
)

// value returns the sample of family name whose labels include want.
func value(t *testing.T, c *Collector, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					continue metric
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func TestObserveRun(t *testing.T) {
	t.Parallel()
	c := New(eventbus.New())

	c.observe(eventbus.Event{Data: dispatch.Started{RunID: "r", Total: 4}})
	if got := value(t, c, "hermes_run_active", nil); got != 1 {
		t.Fatalf("run_active = %v", got)
	}
	c.observe(eventbus.Event{Data: dispatch.Delivery{Took: 12 * time.Second}})
	c.observe(eventbus.Event{Data: dispatch.Delivery{Err: errors.New("x"), Took: time.Second}})
	c.observe(eventbus.Event{Data: dispatch.Delivery{Took: 3 * time.Second}})
	c.observe(eventbus.Event{Data: dispatch.Snapshot{State: dispatch.Running, CurrentIndex: 3, Total: 4}})

	if got := value(t, c, "hermes_deliveries_total", map[string]string{"result": "sent"}); got != 2 {
		t.Fatalf("sent = %v", got)
	}
	if got := value(t, c, "hermes_deliveries_total", map[string]string{"result": "failed"}); got != 1 {
		t.Fatalf("failed = %v", got)
	}
	if got := value(t, c, "hermes_delivery_seconds", nil); got != 3 {
		t.Fatalf("histogram count = %v", got)
	}
	if got := value(t, c, "hermes_run_progress_ratio", nil); got != 0.75 {
		t.Fatalf("progress = %v", got)
	}

	c.observe(eventbus.Event{Data: dispatch.Summary{Outcome: dispatch.Canceled}})
	if got := value(t, c, "hermes_run_active", nil); got != 0 {
		t.Fatalf("run_active after finish = %v", got)
	}
	if got := value(t, c, "hermes_runs_total", map[string]string{"outcome": "canceled"}); got != 1 {
		t.Fatalf("runs canceled = %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()
	c := New(eventbus.New())
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{`hermes_deliveries_total{result="sent"} 0`, "hermes_bus_dropped_events_total 0", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition lacks %q", want)
		}
	}
}
