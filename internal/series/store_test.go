package series

import (
	"math"
	"testing"
)

func TestAppendRejectsInvalidKey(t *testing.T) {
	st := New(10, nil, nil)
	err := st.Append(MetricReading{Plugin: "bad key!", Metric: "x", Value: 1, Timestamp: 1})
	if err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestAppendRejectsNaNAndInf(t *testing.T) {
	st := New(10, nil, nil)
	key := MetricReading{Plugin: "cpu", Metric: "pct", Timestamp: 1}

	bad := key
	bad.Value = math.NaN()
	if err := st.Append(bad); err == nil {
		t.Fatalf("expected error for NaN value")
	}

	bad.Value = math.Inf(1)
	if err := st.Append(bad); err == nil {
		t.Fatalf("expected error for Inf value")
	}
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	st := New(10, nil, nil)
	k := SeriesKey{Plugin: "cpu", Metric: "pct"}
	mustAppend(t, st, k, 10, 1)
	mustAppend(t, st, k, 10, 2)

	err := st.Append(MetricReading{Plugin: k.Plugin, Metric: k.Metric, Value: 5, Timestamp: 1})
	if err == nil {
		t.Fatalf("expected error for out-of-order timestamp")
	}
}

func mustAppend(t *testing.T, st *Store, k SeriesKey, value float64, ts int64) {
	t.Helper()
	if err := st.Append(MetricReading{Plugin: k.Plugin, Metric: k.Metric, Value: value, Timestamp: ts}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRecentAndRange(t *testing.T) {
	st := New(100, nil, nil)
	k := SeriesKey{Plugin: "cpu", Metric: "pct"}
	for i := int64(1); i <= 5; i++ {
		mustAppend(t, st, k, float64(i*10), i)
	}

	recent, err := st.Recent(k, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 || recent[len(recent)-1].Value != 50 {
		t.Fatalf("unexpected recent result: %+v", recent)
	}

	rng, err := st.Range(k, 2, 4)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rng) != 3 {
		t.Fatalf("expected 3 readings in range, got %d", len(rng))
	}

	empty, err := st.Range(k, 100, 200)
	if err != nil {
		t.Fatalf("range with no matches should not error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result, got %d", len(empty))
	}

	_, err = st.Range(SeriesKey{Plugin: "missing", Metric: "x"}, 0, 10)
	if err == nil {
		t.Fatalf("expected error for missing series")
	}
}

// TestRotation verifies scenario S6: MAX_POINTS=4, timestamps 1..6.
func TestRotation(t *testing.T) {
	st := New(4, nil, nil)
	k := SeriesKey{Plugin: "cpu", Metric: "pct"}

	for i := int64(1); i <= 4; i++ {
		mustAppend(t, st, k, float64(i), i)
	}
	if st.Len(k) != 4 {
		t.Fatalf("expected 4 points, got %d", st.Len(k))
	}

	mustAppend(t, st, k, 5, 5)
	if st.Len(k) != 4 {
		t.Fatalf("expected exactly MAX_POINTS after 5th append, got len=%d", st.Len(k))
	}
	recent, err := st.Recent(k, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	assertValues(t, recent, []float64{2, 3, 4, 5})

	mustAppend(t, st, k, 6, 6)
	if st.Len(k) != 4 {
		t.Fatalf("expected exactly MAX_POINTS after 6th append, got len=%d", st.Len(k))
	}
	recent, err = st.Recent(k, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	assertValues(t, recent, []float64{3, 4, 5, 6})
}

func assertValues(t *testing.T, readings []MetricReading, want []float64) {
	t.Helper()
	if len(readings) != len(want) {
		t.Fatalf("expected %d readings, got %d", len(want), len(readings))
	}
	for i, r := range readings {
		if r.Value != want[i] {
			t.Fatalf("expected readings %v, got %v", want, readingValues(readings))
		}
	}
}

func readingValues(readings []MetricReading) []float64 {
	out := make([]float64, len(readings))
	for i, r := range readings {
		out[i] = r.Value
	}
	return out
}

func TestStatistics(t *testing.T) {
	st := New(100, nil, nil)
	k := SeriesKey{Plugin: "cpu", Metric: "pct"}
	values := []float64{48, 51, 49, 50, 52, 50, 49, 51, 48, 52}
	for i, v := range values {
		mustAppend(t, st, k, v, int64(i+1))
	}
	sum, err := st.Statistics(k, 10)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if !sum.Valid || sum.Count != 10 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestExport(t *testing.T) {
	st := New(100, nil, nil)
	for i := int64(1); i <= 3; i++ {
		mustAppend(t, st, SeriesKey{Plugin: "cpu", Metric: "pct"}, float64(i), i)
	}
	mustAppend(t, st, SeriesKey{Plugin: "memory", Metric: "pct"}, 1, 1)

	snap := st.Export("cpu", "", nil, nil)
	if len(snap.Series) != 1 {
		t.Fatalf("expected 1 metric for plugin cpu, got %d", len(snap.Series))
	}
	if len(snap.Series["pct"]) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(snap.Series["pct"]))
	}
}
