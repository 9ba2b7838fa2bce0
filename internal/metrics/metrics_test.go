package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if upstreamFetchesTotal == nil || cacheLookupsTotal == nil ||
		evaluationsTotal == nil || activeEvaluations == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetchCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(upstreamFetchCounter("redirected"))
	ObserveFetch("redirected", 20*time.Millisecond)
	ObserveFetch("redirected", 30*time.Millisecond)
	if got := testutil.ToFloat64(upstreamFetchCounter("redirected")) - before; got != 2 {
		t.Errorf("expected 2 redirected fetches, got %f", got)
	}
}

func TestActiveEvaluationsGauge(t *testing.T) {
	before := gaugeValue()
	IncActiveEvaluations()
	IncActiveEvaluations()
	DecActiveEvaluations()
	if got := gaugeValue() - before; got != 1 {
		t.Errorf("expected gauge delta 1, got %f", got)
	}
	DecActiveEvaluations()
}

func TestObserveCacheLookupAndResolution(t *testing.T) {
	Init()
	hitsBefore := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("fresh"))
	ObserveCacheLookup("fresh")
	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("fresh")) - hitsBefore; got != 1 {
		t.Errorf("expected one fresh lookup, got %f", got)
	}

	resBefore := testutil.ToFloat64(dateResolutionsTotal.WithLabelValues("next", "not_found"))
	ObserveResolution("next", "not_found")
	if got := testutil.ToFloat64(dateResolutionsTotal.WithLabelValues("next", "not_found")) - resBefore; got != 1 {
		t.Errorf("expected one resolution, got %f", got)
	}
}

func upstreamFetchCounter(outcome string) prometheus.Counter {
	Init()
	return upstreamFetchesTotal.WithLabelValues(outcome)
}

func gaugeValue() float64 {
	Init()
	return testutil.ToFloat64(activeEvaluations)
}
