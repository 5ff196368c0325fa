// Package threshold implements the per-plugin warning/critical comparison
// (C5), generalized from the teacher's fixed DefaultThresholds() table
// (model/anomaly.go: value >= threshold.Critical / .Warning) to the spec's
// dynamic per-plugin thresholds.
package threshold

import "github.com/serversentry/agent/internal/events"

// Thresholds holds one plugin's configured boundaries. HasWarning/HasCritical
// distinguish "not configured" (spec: "Missing thresholds yield status OK
// with a 'no threshold configured' annotation") from a genuine zero value.
type Thresholds struct {
	Warning     float64
	Critical    float64
	HasWarning  bool
	HasCritical bool
}

// priorStatus tracks the previous tick's status per (plugin,metric) so the
// scheduler can detect OK<->non-OK transitions for recovery notifications.
type priorStatus = events.Status

// Evaluate implements spec §4.5 exactly:
//
//	CRITICAL if value >= critical
//	WARNING  if value >= warning
//	OK       otherwise
//
// prior is the previous evaluation's status (events.StatusOK if unknown);
// Evaluate sets Recovery=true on a non-OK -> OK transition.
func Evaluate(plugin, metric string, value float64, th Thresholds, prior priorStatus, timestamp int64) events.StatusEvent {
	ev := events.StatusEvent{
		Plugin:            plugin,
		Metric:            metric,
		Value:             value,
		WarningThreshold:  th.Warning,
		CriticalThreshold: th.Critical,
		HasThresholds:     th.HasWarning || th.HasCritical,
		Timestamp:         timestamp,
	}

	switch {
	case !th.HasWarning && !th.HasCritical:
		ev.Status = events.StatusOK
		ev.Annotation = "no threshold configured"
	case th.HasCritical && value >= th.Critical:
		ev.Status = events.StatusCritical
	case th.HasWarning && value >= th.Warning:
		ev.Status = events.StatusWarning
	default:
		ev.Status = events.StatusOK
	}

	if prior != events.StatusOK && ev.Status == events.StatusOK {
		ev.Recovery = true
	}
	return ev
}
