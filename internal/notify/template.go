package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/serversentry/agent/internal/events"
)

// Placeholders is the template vocabulary from spec §4.8. Missing
// placeholders render empty.
type Placeholders struct {
	Hostname   string
	Plugin     string
	Metric     string
	Value      float64
	HasValue   bool
	Status     string
	Severity   string
	Timestamp  int64
	Mean       float64
	StdDev     float64
	HasStats   bool
	ZScore     float64
	HasZScore  bool
	Confidence string
	RuleName   string
	Expression string
}

func fieldsFor(p Placeholders) map[string]string {
	f := map[string]string{
		"hostname":   p.Hostname,
		"plugin":     p.Plugin,
		"metric":     p.Metric,
		"status":     p.Status,
		"severity":   p.Severity,
		"confidence": p.Confidence,
		"rule_name":  p.RuleName,
		"expression": p.Expression,
	}
	if p.HasValue {
		f["value"] = strconv.FormatFloat(p.Value, 'f', -1, 64)
	} else {
		f["value"] = ""
	}
	if p.Timestamp != 0 {
		f["timestamp"] = time.Unix(p.Timestamp, 0).UTC().Format(time.RFC3339)
	} else {
		f["timestamp"] = ""
	}
	if p.HasStats {
		f["mean"] = strconv.FormatFloat(p.Mean, 'f', 4, 64)
		f["std_dev"] = strconv.FormatFloat(p.StdDev, 'f', 4, 64)
	} else {
		f["mean"] = ""
		f["std_dev"] = ""
	}
	if p.HasZScore {
		f["z_score"] = strconv.FormatFloat(p.ZScore, 'f', 4, 64)
	} else {
		f["z_score"] = ""
	}
	return f
}

// Render substitutes every "{placeholder}" occurrence in tmpl. Unknown
// placeholders are left untouched; known-but-unset ones render empty.
func Render(tmpl string, p Placeholders) string {
	fields := fieldsFor(p)
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		name := tmpl[i+1 : i+end]
		if v, ok := fields[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tmpl[i : i+end+1])
		}
		i += end + 1
	}
	return b.String()
}

// DefaultTemplate returns the built-in template for a channel kind when no
// user override is configured (spec §4.8 "a default ships per channel").
func DefaultTemplate(kind ChannelKind) string {
	switch kind {
	case ChannelSlack:
		return "[{severity}] {hostname} {plugin}.{metric} = {value} ({status})"
	case ChannelTeams, ChannelDiscord:
		return "**{severity}** {hostname}: {plugin}.{metric} is {value} ({status}) at {timestamp}"
	case ChannelEmail:
		return "ServerSentry alert on {hostname}\n\n{plugin}.{metric} = {value}\nstatus: {status}\nrule: {rule_name}\nexpression: {expression}\ntimestamp: {timestamp}"
	default:
		return "{hostname} {plugin}.{metric}={value} status={status} severity={severity}"
	}
}

// FromStatusEvent builds Placeholders from a StatusEvent.
func FromStatusEvent(hostname string, e events.StatusEvent) Placeholders {
	status := e.Status.String()
	if e.Recovery {
		status = "RECOVERED (" + status + ")"
	}
	return Placeholders{
		Hostname: hostname, Plugin: e.Plugin, Metric: e.Metric,
		Value: e.Value, HasValue: true, Status: status,
		Timestamp: e.Timestamp,
	}
}

// FromAnomalyEvent builds Placeholders from an AnomalyEvent.
func FromAnomalyEvent(hostname string, e events.AnomalyEvent) Placeholders {
	return Placeholders{
		Hostname: hostname, Plugin: e.Plugin, Metric: e.Metric,
		Value: e.Value, HasValue: true,
		Status:     string(e.Dominant),
		Mean:       e.Stats.Mean, StdDev: e.Stats.StdDev, HasStats: true,
		ZScore:     e.Score, HasZScore: true,
		Confidence: string(e.Confidence),
		Timestamp:  e.Timestamp,
	}
}

// FromCompositeEvent builds Placeholders from a CompositeEvent.
func FromCompositeEvent(hostname string, e events.CompositeEvent) Placeholders {
	status := "TRIGGERED"
	if e.Recovery {
		status = "RECOVERED"
	}
	return Placeholders{
		Hostname: hostname, Status: status,
		Severity:   fmt.Sprintf("%d", e.Severity),
		RuleName:   e.Rule,
		Expression: e.Rule,
		Timestamp:  e.Timestamp,
	}
}
