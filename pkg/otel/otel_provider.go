// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Provider exports the metrics and traces of the pipeline stages over OTLP
// gRPC. Signals that are not configured use noop providers.
type Provider struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	shutdownFns    []shutdownFn
}

type shutdownFn func(context.Context) error

const (
	serviceName     = "relnorm"
	shutdownTimeout = 5 * time.Second
)

func NewProvider(cfg *Config) (*Provider, error) {
	ctx := context.Background()
	res := newResource()
	o := &Provider{}

	mp, shutdownMeter, err := newMeterProvider(ctx, res, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("creating meter provider: %w", err)
	}
	o.meterProvider = mp
	o.addShutdown(shutdownMeter)

	tp, shutdownTracer, err := newTracerProvider(ctx, res, cfg.Traces)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating tracer provider: %w", err), o.Close())
	}
	o.tracerProvider = tp
	o.addShutdown(shutdownTracer)

	otel.SetMeterProvider(o.meterProvider)
	otel.SetTracerProvider(o.tracerProvider)
	return o, nil
}

func (o *Provider) Meter(name string) metric.Meter {
	return o.meterProvider.Meter(name)
}

func (o *Provider) Tracer(name string) trace.Tracer {
	return o.tracerProvider.Tracer(name)
}

func (o *Provider) NewInstrumentation(name string) *Instrumentation {
	return &Instrumentation{
		Meter:  o.Meter(name),
		Tracer: o.Tracer(name),
	}
}

// Close flushes and shuts down the exporters. All of them are shut down even
// if one fails.
func (o *Provider) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	for _, fn := range o.shutdownFns {
		errs = errors.Join(errs, fn(ctx))
	}
	return errs
}

func (o *Provider) addShutdown(fn shutdownFn) {
	if fn != nil {
		o.shutdownFns = append(o.shutdownFns, fn)
	}
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg *MetricsConfig) (metric.MeterProvider, shutdownFn, error) {
	if cfg == nil {
		return metricnoop.NewMeterProvider(), nil, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithTemporalitySelector(deltaSelector),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.collectionInterval()))))

	// go runtime metrics (memory, gc, goroutines) of the normalize workers
	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("starting runtime metrics: %w", err), mp.Shutdown(ctx))
	}
	return mp, mp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg *TracesConfig) (trace.TracerProvider, shutdownFn, error) {
	if cfg == nil {
		return tracenoop.NewTracerProvider(), nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio()))))
	return tp, tp.Shutdown, nil
}

func newResource() *resource.Resource {
	return resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(buildVersion()),
	)
}

// deltaSelector exports counters and histograms with delta temporality, so
// data points recorded while the collector starts are not lost. Up-down
// counters stay cumulative.
func deltaSelector(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	switch kind {
	case sdkmetric.InstrumentKindUpDownCounter,
		sdkmetric.InstrumentKindObservableUpDownCounter:
		return metricdata.CumulativeTemporality
	default:
		return metricdata.DeltaTemporality
	}
}
