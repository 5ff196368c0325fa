package anomaly

import (
	"testing"

	"github.com/serversentry/agent/internal/events"
)

func TestInsufficientData(t *testing.T) {
	e := NewEngine()
	cfg := DefaultConfig()
	cfg.MinDataPoints = 10
	window := Window{Values: make([]float64, 9)} // min_data_points - 1
	res := e.Evaluate("cpu", "pct", 50, window, cfg, 0)
	if !res.InsufficientData || res.Anomalous {
		t.Fatalf("expected insufficient data, got %+v", res)
	}
}

// TestScenarioS2NoOutlierWhenStdDevZero covers spec S2 part 1 and the
// std_dev=0 boundary case.
func TestScenarioS2NoOutlierWhenStdDevZero(t *testing.T) {
	e := NewEngine()
	cfg := DefaultConfig()
	cfg.Sensitivity = 2.0
	cfg.MinDataPoints = 10
	cfg.DetectTrends = false
	cfg.DetectSpikes = false

	values := make([]float64, 12)
	for i := range values {
		values[i] = 50
	}
	window := Window{Values: values}

	res := e.Evaluate("cpu", "pct", 85, window, cfg, 0)
	if res.Anomalous {
		t.Fatalf("expected no anomaly when std_dev=0, got %+v", res.Event)
	}
}

func TestScenarioS2HighOutlier(t *testing.T) {
	e := NewEngine()
	cfg := DefaultConfig()
	cfg.Sensitivity = 2.0
	cfg.MinDataPoints = 10
	cfg.NotificationThreshold = 1
	cfg.DetectTrends = false
	cfg.DetectSpikes = false

	values := []float64{48, 51, 49, 50, 52, 50, 49, 51, 48, 52}
	window := Window{Values: values}

	res := e.Evaluate("cpu", "pct", 85, window, cfg, 0)
	if !res.Anomalous {
		t.Fatalf("expected anomaly for outlier value")
	}
	if res.Event.Dominant != events.KindHighOutlier {
		t.Fatalf("expected dominant kind high_outlier, got %v", res.Event.Dominant)
	}
	if res.Event.Confidence != events.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %v", res.Event.Confidence)
	}
}

func TestScenarioS3SteepUpwardTrend(t *testing.T) {
	e := NewEngine()
	cfg := DefaultConfig()
	cfg.Sensitivity = 2.0
	cfg.WindowSize = 10
	cfg.MinDataPoints = 10
	cfg.DetectSpikes = false
	cfg.NotificationThreshold = 1

	values := []float64{10, 12, 14, 16, 18, 20, 22, 24, 26, 28}
	window := Window{Values: values}

	res := e.Evaluate("cpu", "pct", 28, window, cfg, 0)
	if !res.Anomalous {
		t.Fatalf("expected trend anomaly")
	}
	found := false
	for _, k := range res.Event.Kinds {
		if k == events.KindSteepUpwardTrend {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected steep_upward_trend in kinds, got %v", res.Event.Kinds)
	}
}

func TestConsecutiveCountGating(t *testing.T) {
	e := NewEngine()
	cfg := DefaultConfig()
	cfg.Sensitivity = 2.0
	cfg.MinDataPoints = 10
	cfg.NotificationThreshold = 3
	cfg.DetectTrends = false
	cfg.DetectSpikes = false

	values := []float64{48, 51, 49, 50, 52, 50, 49, 51, 48, 52}
	window := Window{Values: values}

	res1 := e.Evaluate("cpu", "pct", 85, window, cfg, 0)
	if res1.Anomalous {
		t.Fatalf("expected no event before threshold reached (count=1)")
	}
	res2 := e.Evaluate("cpu", "pct", 85, window, cfg, 1)
	if res2.Anomalous {
		t.Fatalf("expected no event before threshold reached (count=2)")
	}
	res3 := e.Evaluate("cpu", "pct", 85, window, cfg, 2)
	if !res3.Anomalous {
		t.Fatalf("expected event once counter reaches notification_threshold")
	}

	// A non-anomalous evaluation resets the counter.
	normalValues := values
	e.Evaluate("cpu", "pct", 50, Window{Values: normalValues}, cfg, 3)
	if e.Counter("cpu", "pct") != 0 {
		t.Fatalf("expected counter reset after non-anomalous evaluation")
	}
}

func TestDominantTieBreak(t *testing.T) {
	kinds := []events.AnomalyKind{
		events.KindIQROutlier,
		events.KindExtremePositiveSpike,
		events.KindHighOutlier,
	}
	if got := dominant(kinds); got != events.KindExtremePositiveSpike {
		t.Fatalf("expected extreme spike to dominate, got %v", got)
	}
}
