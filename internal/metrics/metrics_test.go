package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	RunsTotal.Reset()
	MovesTotal.Reset()
	RuleActions.Reset()

	RunsTotal.WithLabelValues("primary", "ok").Inc()
	MovesTotal.WithLabelValues("label", "failed").Add(2)
	RuleActions.WithLabelValues("mark_read", "ok").Inc()

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("primary", "ok")); got != 1 {
		t.Errorf("Expected RunsTotal to be 1, got %f", got)
	}
	if got := testutil.ToFloat64(MovesTotal.WithLabelValues("label", "failed")); got != 2 {
		t.Errorf("Expected MovesTotal to be 2, got %f", got)
	}
	if got := testutil.CollectAndCount(RuleActions); got != 1 {
		t.Errorf("Expected 1 RuleActions series, got %d", got)
	}
}

func TestRulesLoadedGauge(t *testing.T) {
	RulesLoaded.Set(4)
	if got := testutil.ToFloat64(RulesLoaded); got != 4 {
		t.Errorf("Expected RulesLoaded to be 4, got %f", got)
	}
}
