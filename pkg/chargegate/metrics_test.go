package chargegate

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveBatch(OutcomeCommitted, 3, 2*time.Millisecond)
	rec.ObserveBatch(OutcomeDenied, 1, time.Millisecond)
	rec.ObserveError()

	if got := testutil.ToFloat64(rec.batches.WithLabelValues(OutcomeCommitted)); got != 1 {
		t.Errorf("committed batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.batches.WithLabelValues(OutcomeDenied)); got != 1 {
		t.Errorf("denied batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.requests.WithLabelValues(OutcomeCommitted)); got != 3 {
		t.Errorf("committed requests = %v, want 3", got)
	}
	if got := testutil.ToFloat64(rec.errors); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestLimiterReportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	m, err := NewMemoryLimiter(WithClock(NewFixedClock(1000)), WithRecorder(rec))
	if err != nil {
		t.Fatalf("NewMemoryLimiter() unexpected error: %v", err)
	}

	b := Bucket{Key: "metered", Rate: 1, Size: 5}
	ctx := context.Background()
	if ok, _, err := m.Charge(ctx, b, 5); err != nil || !ok {
		t.Fatalf("Charge(5) failed: ok=%v err=%v", ok, err)
	}
	if ok, _, err := m.Charge(ctx, b, 5); err != nil || ok {
		t.Fatalf("Charge(5) on an empty bucket = (%v, err=%v), want denial", ok, err)
	}

	if got := testutil.ToFloat64(rec.batches.WithLabelValues(OutcomeCommitted)); got != 1 {
		t.Errorf("committed batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.batches.WithLabelValues(OutcomeDenied)); got != 1 {
		t.Errorf("denied batches = %v, want 1", got)
	}
}
