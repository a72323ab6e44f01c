// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type InstrumentationProvider interface {
	NewInstrumentation(name string) *Instrumentation
	Close() error
}

type Instrumentation struct {
	Meter  metric.Meter
	Tracer trace.Tracer
}

func (i *Instrumentation) IsEnabled() bool {
	return i != nil && (i.Meter != nil || i.Tracer != nil)
}

// Int64Histogram returns a histogram with the given name, or nil if the
// instrumentation has no meter.
func (i *Instrumentation) Int64Histogram(name, unit, description string) (metric.Int64Histogram, error) {
	if i == nil || i.Meter == nil {
		return nil, nil
	}
	h, err := i.Meter.Int64Histogram(name, metric.WithUnit(unit), metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", name, err)
	}
	return h, nil
}

// Int64Counter returns a counter with the given name, or nil if the
// instrumentation has no meter.
func (i *Instrumentation) Int64Counter(name, unit, description string) (metric.Int64Counter, error) {
	if i == nil || i.Meter == nil {
		return nil, nil
	}
	c, err := i.Meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", name, err)
	}
	return c, nil
}

// SpanTracer returns the tracer of the instrumentation. It is safe to call on
// a nil instrumentation.
func (i *Instrumentation) SpanTracer() trace.Tracer {
	if i == nil {
		return nil
	}
	return i.Tracer
}

type noopProvider struct{}

func (p *noopProvider) NewInstrumentation(name string) *Instrumentation {
	return nil
}

func (p *noopProvider) Close() error {
	return nil
}

func NewInstrumentationProvider(cfg *Config) (InstrumentationProvider, error) {
	// no metrics or traces configured means instrumentation is disabled
	if cfg == nil || (cfg.Metrics == nil && cfg.Traces == nil) {
		return &noopProvider{}, nil
	}
	return NewProvider(cfg)
}
