package sampler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSampler struct {
	name     string
	readings []Reading
	err      error
	delay    time.Duration
}

func (f *fakeSampler) Name() string { return f.name }
func (f *fakeSampler) Sample(ctx context.Context) ([]Reading, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSampler{name: "cpu"})
	if _, ok := r.Get("cpu"); !ok {
		t.Fatalf("expected cpu sampler registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected missing sampler to be absent")
	}
}

func TestSampleWithDeadlineSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSampler{name: "cpu", readings: []Reading{{Metric: "value", Value: 42}}})
	readings, err := r.SampleWithDeadline(context.Background(), "cpu", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) != 1 || readings[0].Value != 42 {
		t.Fatalf("unexpected readings: %+v", readings)
	}
}

func TestSampleWithDeadlineTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSampler{name: "slow", delay: 50 * time.Millisecond})
	_, err := r.SampleWithDeadline(context.Background(), "slow", 5*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var samplerErr *Error
	if !errors.As(err, &samplerErr) || !samplerErr.Transient {
		t.Fatalf("expected transient sampler.Error, got %v", err)
	}
}

func TestSampleWithDeadlineMissingSampler(t *testing.T) {
	r := NewRegistry()
	_, err := r.SampleWithDeadline(context.Background(), "nope", time.Second)
	if err == nil {
		t.Fatalf("expected error for unregistered sampler")
	}
}

func TestSampleWithDeadlinePropagatesPermanentError(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSampler{name: "broken", err: &Error{Plugin: "broken", Transient: false, Err: errors.New("bad config")}})
	_, err := r.SampleWithDeadline(context.Background(), "broken", time.Second)
	var samplerErr *Error
	if !errors.As(err, &samplerErr) || samplerErr.Transient {
		t.Fatalf("expected permanent sampler.Error, got %v", err)
	}
}
