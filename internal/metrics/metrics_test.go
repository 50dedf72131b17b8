package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("expected re-registration to be tolerated, got %v", err)
	}
}

func TestObserveStageNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(stageRunsTotal.WithLabelValues("unit", OutcomeSuccess))
	ObserveStage("unit", -time.Second, "bogus")
	if got := testutil.ToFloat64(stageRunsTotal.WithLabelValues("unit", OutcomeSuccess)); got != before+1 {
		t.Fatalf("expected unknown outcome to count as success, got %v", got)
	}
}

func TestObserveAlert(t *testing.T) {
	sent := testutil.ToFloat64(alertsTotal.WithLabelValues("sent"))
	failed := testutil.ToFloat64(alertsTotal.WithLabelValues("error"))
	ObserveAlert(nil)
	ObserveAlert(errors.New("broker down"))
	if testutil.ToFloat64(alertsTotal.WithLabelValues("sent")) != sent+1 {
		t.Fatalf("expected one sent alert")
	}
	if testutil.ToFloat64(alertsTotal.WithLabelValues("error")) != failed+1 {
		t.Fatalf("expected one failed alert")
	}
}

func TestSetModelLoaded(t *testing.T) {
	SetModelLoaded("risk", true)
	if v := testutil.ToFloat64(modelLoaded.WithLabelValues("risk")); v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
	SetModelLoaded("risk", false)
	if v := testutil.ToFloat64(modelLoaded.WithLabelValues("risk")); v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
}
