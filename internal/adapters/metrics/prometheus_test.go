package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecordsOperationsAndState(t *testing.T) {
	m := NewPrometheus("hui_test")
	m.ObserveOperation("bid", "success", 5*time.Millisecond)
	m.ObserveOperation("bid", "success", 5*time.Millisecond)
	m.ObserveOperation("bid", "precondition_violation", time.Millisecond)
	m.ObserveEvents("bid.placed", 2)
	m.SetPoolState(3, "COLLECTING", 4, false)
	m.ObserveCache(true)
	m.ObserveHTTP("/v1/pool", "GET", 404)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("bid", "success")); got != 2 {
		t.Fatalf("successful bids = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("bid.placed")); got != 2 {
		t.Fatalf("bid events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("COLLECTING")); got != 1 {
		t.Fatalf("COLLECTING gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("BIDDING")); got != 0 {
		t.Fatalf("BIDDING gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.period); got != 3 {
		t.Fatalf("period gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/pool", "GET", "4xx")); got != 1 {
		t.Fatalf("http 4xx = %v, want 1", got)
	}
}
