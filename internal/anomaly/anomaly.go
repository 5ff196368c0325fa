// Package anomaly implements the statistical anomaly engine (C4): outlier,
// IQR, trend, and spike detection over time-series windows, gated by a
// consecutive-anomalous-evaluation counter. Grounded on the teacher's
// model.DetectAnomalies registry-of-checks shape (model/anomaly.go),
// generalized from a fixed threshold table to the spec's dynamic
// Z-score/IQR/regression tests, and on other_examples anomaly engines
// (ftahirops-xtop engine/anomaly.go, rodolfo-mora-huginn pkg/anomaly)
// for the consecutive-counter gating shape.
package anomaly

import (
	"math"
	"sync"

	"github.com/serversentry/agent/internal/events"
	"github.com/serversentry/agent/internal/stats"
)

// Config is the per-plugin anomaly configuration (spec §3 AnomalyConfig).
type Config struct {
	Enabled                bool
	Sensitivity             float64 // [1.0, 4.0], default 2.0; smaller = more alerts
	WindowSize              int     // >= 3
	MinDataPoints           int     // >= 10
	DetectTrends            bool
	DetectSpikes            bool
	NotificationThreshold   int // consecutive anomalous evaluations required
	CooldownSeconds         int // informational; cooldown itself lives in notify
}

// DefaultConfig returns sensible defaults (spec: sensitivity default 2.0).
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Sensitivity:           2.0,
		WindowSize:            10,
		MinDataPoints:         10,
		DetectTrends:          true,
		DetectSpikes:          true,
		NotificationThreshold: 1,
	}
}

// dominantOrder implements the tie-break ordering from spec §4.4:
// extreme_spike > spike > outlier > iqr_outlier > steep_trend >
// moderate_trend > sudden_change.
var dominantOrder = map[events.AnomalyKind]int{
	events.KindExtremePositiveSpike:  0,
	events.KindExtremeNegativeSpike:  0,
	events.KindPositiveSpike:         1,
	events.KindNegativeSpike:         1,
	events.KindHighOutlier:           2,
	events.KindLowOutlier:            2,
	events.KindIQROutlier:            3,
	events.KindSteepUpwardTrend:      4,
	events.KindSteepDownwardTrend:    4,
	events.KindModerateUpwardTrend:   5,
	events.KindModerateDownwardTrend: 5,
	events.KindSuddenIncrease:        6,
	events.KindSuddenDecrease:        6,
}

func dominant(kinds []events.AnomalyKind) events.AnomalyKind {
	if len(kinds) == 0 {
		return ""
	}
	best := kinds[0]
	bestRank := dominantOrder[best]
	for _, k := range kinds[1:] {
		if r := dominantOrder[k]; r < bestRank {
			best = k
			bestRank = r
		}
	}
	return best
}

func confidenceFor(absZ float64) events.Confidence {
	switch {
	case absZ > 3:
		return events.ConfidenceHigh
	case absZ > 2.5:
		return events.ConfidenceMedium
	default:
		return events.ConfidenceLow
	}
}

// Window is the minimal view over recent readings the engine needs; it
// decouples this package from internal/series.
type Window struct {
	Values   []float64 // oldest first
	Previous float64   // value immediately before Values[len-1] (for sudden-change)
	HasPrev  bool
}

// Engine tracks the consecutive-anomalous-evaluation counter per
// (plugin, metric) — spec §4.4 "Consecutive-count gating". Safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewEngine creates an Engine with an empty counter table.
func NewEngine() *Engine {
	return &Engine{counters: make(map[string]int)}
}

func counterKey(plugin, metric string) string { return plugin + "\x00" + metric }

// Result is the engine's verdict for one evaluation.
type Result struct {
	InsufficientData bool
	Anomalous        bool
	Event            events.AnomalyEvent // valid only if Anomalous
}

// Evaluate runs all enabled tests for one (plugin, metric, current) sample
// against window and the plugin's Config, applying consecutive-count
// gating. timestamp is the current reading's unix-seconds timestamp.
func (e *Engine) Evaluate(plugin, metric string, current float64, window Window, cfg Config, timestamp int64) Result {
	if !cfg.Enabled {
		return Result{}
	}

	n := len(window.Values)
	if n < cfg.MinDataPoints {
		e.reset(plugin, metric)
		return Result{InsufficientData: true}
	}

	summary := stats.Compute(window.Values)

	var kinds []events.AnomalyKind
	var dominantScore float64
	var conf events.Confidence

	// 1. Outlier test (Z-score).
	if summary.StdDev > 0 {
		z, _ := stats.ZScore(current, summary.Mean, summary.StdDev)
		if math.Abs(z) > cfg.Sensitivity {
			if z > 0 {
				kinds = append(kinds, events.KindHighOutlier)
			} else {
				kinds = append(kinds, events.KindLowOutlier)
			}
			conf = confidenceFor(math.Abs(z))
			dominantScore = z
		}
	}

	// 2. IQR test.
	if summary.IQR > 0 {
		low := summary.Q1 - 1.5*summary.IQR
		high := summary.Q3 + 1.5*summary.IQR
		if current < low || current > high {
			kinds = append(kinds, events.KindIQROutlier)
		}
	}

	// 3. Trend test.
	if cfg.DetectTrends {
		windowSize := cfg.WindowSize
		if windowSize > n {
			windowSize = n
		}
		trendWindow := window.Values[n-windowSize:]
		slope, corr := stats.LinearRegression(trendWindow)
		absSlope, absCorr := math.Abs(slope), math.Abs(corr)
		switch {
		case absSlope > cfg.Sensitivity && absCorr > 0.7:
			if slope > 0 {
				kinds = append(kinds, events.KindSteepUpwardTrend)
			} else {
				kinds = append(kinds, events.KindSteepDownwardTrend)
			}
		case absSlope > 0.5*cfg.Sensitivity && absCorr > 0.5:
			if slope > 0 {
				kinds = append(kinds, events.KindModerateUpwardTrend)
			} else {
				kinds = append(kinds, events.KindModerateDownwardTrend)
			}
		}
	}

	// 4. Spike test.
	if cfg.DetectSpikes {
		recentN := 5
		if recentN > n {
			recentN = n
		}
		recentWindow := window.Values[n-recentN:]
		recentStats := stats.Compute(recentWindow)

		if recentStats.StdDev > 0 {
			rz, _ := stats.ZScore(current, recentStats.Mean, recentStats.StdDev)
			if math.Abs(rz) > cfg.Sensitivity {
				if rz > 0 {
					kinds = append(kinds, events.KindPositiveSpike)
				} else {
					kinds = append(kinds, events.KindNegativeSpike)
				}
			}
			if summary.StdDev > 0 {
				bz, _ := stats.ZScore(current, summary.Mean, summary.StdDev)
				if math.Abs(bz) > 1.5*cfg.Sensitivity {
					if bz > 0 {
						kinds = append(kinds, events.KindExtremePositiveSpike)
					} else {
						kinds = append(kinds, events.KindExtremeNegativeSpike)
					}
				}
			}
			if window.HasPrev {
				delta := math.Abs(current-window.Previous) / recentStats.StdDev
				if delta > 2*cfg.Sensitivity {
					if current > window.Previous {
						kinds = append(kinds, events.KindSuddenIncrease)
					} else {
						kinds = append(kinds, events.KindSuddenDecrease)
					}
				}
			}
		}
	}

	if len(kinds) == 0 {
		e.reset(plugin, metric)
		return Result{}
	}

	count := e.increment(plugin, metric)
	if count < cfg.NotificationThreshold {
		return Result{}
	}

	dom := dominant(kinds)
	if conf == "" {
		conf = events.ConfidenceLow
	}

	return Result{
		Anomalous: true,
		Event: events.AnomalyEvent{
			Plugin:     plugin,
			Metric:     metric,
			Value:      current,
			Kinds:      kinds,
			Dominant:   dom,
			Score:      dominantScore,
			Confidence: conf,
			Stats: events.StatisticsSnapshot{
				Count: summary.Count, Mean: summary.Mean, StdDev: summary.StdDev,
				Median: summary.Median, Q1: summary.Q1, Q3: summary.Q3,
				Min: summary.Min, Max: summary.Max, IQR: summary.IQR,
			},
			Timestamp: timestamp,
		},
	}
}

func (e *Engine) increment(plugin, metric string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := counterKey(plugin, metric)
	e.counters[k]++
	return e.counters[k]
}

func (e *Engine) reset(plugin, metric string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.counters, counterKey(plugin, metric))
}

// Counter returns the current consecutive-anomalous-evaluation count for
// (plugin, metric), for inspection/testing.
func (e *Engine) Counter(plugin, metric string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters[counterKey(plugin, metric)]
}
