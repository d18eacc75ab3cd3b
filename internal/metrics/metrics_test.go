package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Acquisition("ok")
	m.Acquisition("ok")
	m.RetryAttempt("retryable")
	m.CatalogLoad(true, 42)
	m.CatalogLoad(false, 0)
	m.ExactLookupSkipped("missing_supplier")
	m.Match("high")

	if got := testutil.ToFloat64(m.acquisitions.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 acquisitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.retryAttempts.WithLabelValues("retryable")); got != 1 {
		t.Fatalf("expected 1 retry attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.catalogSize); got != 42 {
		t.Fatalf("expected catalog size 42, got %v", got)
	}
	if got := testutil.ToFloat64(m.catalogLoads.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed load, got %v", got)
	}
	if got := testutil.ToFloat64(m.exactSkips.WithLabelValues("missing_supplier")); got != 1 {
		t.Fatalf("expected 1 skip, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Acquisition("ok")
	m.RetryAttempt("fatal")
	m.ExtractionRun("ok")
	m.CatalogLoad(true, 1)
	m.ExactLookupSkipped("missing_product")
	m.Match("none")
	m.ObserveRank(0.01)
}
