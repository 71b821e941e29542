package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue finds a counter in the gathered families by name and label
// pairs, returning 0 when absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
		}
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if h := m.GetHistogram(); h != nil {
				return h.GetSampleCount()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestPrometheusRecordsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	sess := newInstrumentedSession(t, Prometheus(WithRegistry(reg)))

	if err := sess.Invoke("root.increment"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if err := sess.Invoke("root.increment"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	got := counterValue(t, reg, "syncline_dispatches_total",
		map[string]string{"handler": "root.increment", "status": "success"})
	if got != 2 {
		t.Errorf("dispatches_total(success) = %v, want 2", got)
	}
	if n := histogramCount(t, reg, "syncline_dispatch_duration_seconds",
		map[string]string{"handler": "root.increment"}); n != 2 {
		t.Errorf("duration sample count = %d, want 2", n)
	}
	if got := counterValue(t, reg, "syncline_deltas_emitted_total", nil); got != 2 {
		t.Errorf("deltas_emitted_total = %v, want 2", got)
	}
}

func TestPrometheusRecordsHandlerError(t *testing.T) {
	reg := prometheus.NewRegistry()
	sess := newInstrumentedSession(t, Prometheus(WithRegistry(reg)))

	if err := sess.Invoke("root.fail"); err == nil {
		t.Fatal("expected handler error")
	}

	got := counterValue(t, reg, "syncline_dispatches_total",
		map[string]string{"handler": "root.fail", "status": "error"})
	if got != 1 {
		t.Errorf("dispatches_total(error) = %v, want 1", got)
	}
	got = counterValue(t, reg, "syncline_dispatch_errors_total",
		map[string]string{"handler": "root.fail", "error_type": "handler"})
	if got != 1 {
		t.Errorf("dispatch_errors_total(handler) = %v, want 1", got)
	}
	if got := counterValue(t, reg, "syncline_handler_panics_total", nil); got != 0 {
		t.Errorf("handler_panics_total = %v, want 0", got)
	}
}

func TestPrometheusRecordsPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	sess := newInstrumentedSession(t, Prometheus(WithRegistry(reg)))

	if err := sess.Invoke("root.panic"); err == nil {
		t.Fatal("expected panic to surface as error")
	}

	if got := counterValue(t, reg, "syncline_handler_panics_total", nil); got != 1 {
		t.Errorf("handler_panics_total = %v, want 1", got)
	}
	got := counterValue(t, reg, "syncline_dispatch_errors_total",
		map[string]string{"handler": "root.panic", "error_type": "panic"})
	if got != 1 {
		t.Errorf("dispatch_errors_total(panic) = %v, want 1", got)
	}
}

func TestPrometheusNamespaceOption(t *testing.T) {
	reg := prometheus.NewRegistry()
	sess := newInstrumentedSession(t, Prometheus(
		WithRegistry(reg),
		WithNamespace("myapp"),
		WithSubsystem("sync"),
	))

	if err := sess.Invoke("root.increment"); err != nil {
		t.Fatal(err)
	}
	got := counterValue(t, reg, "myapp_sync_dispatches_total",
		map[string]string{"handler": "root.increment", "status": "success"})
	if got != 1 {
		t.Errorf("namespaced counter = %v, want 1", got)
	}
}
