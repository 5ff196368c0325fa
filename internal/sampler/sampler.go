// Package sampler implements the sampler registry (C1): the interface
// every metric source implements, and a mutex-guarded registry of named
// samplers. Grounded on the teacher's internal/collector.Collector
// interface and CollectConfig (internal/collector/collector.go),
// generalized from "one-shot 30s collection, many metrics per result" to
// the spec's "one (plugin, metric) reading per sampler per tick" shape.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Reading is a single (metric -> value) sample produced by one Sample call.
// A plugin may report more than one metric (e.g. the cpu plugin reports
// "value" as overall utilization and "load1" as load average).
type Reading struct {
	Metric    string
	Value     float64
	Timestamp int64
}

// Sampler gathers metrics for one plugin (spec §3 Plugin/"cpu", "memory",
// "disk", "process", ...).
type Sampler interface {
	// Name returns the plugin identifier, e.g. "cpu".
	Name() string

	// Sample runs one collection pass and returns every metric reading
	// produced this tick. ctx carries the per-tick deadline (spec §4.9:
	// "call sampler with deadline").
	Sample(ctx context.Context) ([]Reading, error)
}

// Error is the sampler error taxonomy (spec §7 SamplerError): Transient
// failures (procfs temporarily unreadable, command timeout) are retried
// next tick; permanent failures (plugin misconfigured) are logged and the
// plugin is skipped until reload.
type Error struct {
	Plugin    string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("sampler %q: %s error: %v", e.Plugin, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry is a mutex-guarded name -> Sampler table (spec §4.1/§4.9
// "registers samplers"), grounded on the teacher's PIDTracker
// mutex-guarded-map idiom.
type Registry struct {
	mu       sync.RWMutex
	samplers map[string]Sampler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{samplers: make(map[string]Sampler)}
}

// Register adds or replaces a sampler under its own Name().
func (r *Registry) Register(s Sampler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samplers[s.Name()] = s
}

// Get looks up a sampler by plugin name.
func (r *Registry) Get(name string) (Sampler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.samplers[name]
	return s, ok
}

// Names returns every registered plugin name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.samplers))
	for name := range r.samplers {
		names = append(names, name)
	}
	return names
}

// SampleWithDeadline runs one sampler with a per-tick timeout, wrapping
// context.DeadlineExceeded as a transient Error.
func (r *Registry) SampleWithDeadline(ctx context.Context, name string, timeout time.Duration) ([]Reading, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, &Error{Plugin: name, Transient: false, Err: fmt.Errorf("no sampler registered")}
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	readings, err := s.Sample(deadlineCtx)
	if err != nil {
		if deadlineCtx.Err() != nil {
			return nil, &Error{Plugin: name, Transient: true, Err: deadlineCtx.Err()}
		}
		var samplerErr *Error
		if errors.As(err, &samplerErr) {
			return nil, samplerErr
		}
		return nil, &Error{Plugin: name, Transient: true, Err: err}
	}
	return readings, nil
}
