// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"
	"fmt"
	"time"

	"github.com/xataio/relnorm/pkg/extract"
	"github.com/xataio/relnorm/pkg/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Extractor struct {
	inner   extract.Extractor
	tracer  trace.Tracer
	metrics *metrics
}

type metrics struct {
	writeLatency metric.Int64Histogram
	writeErrors  metric.Int64Counter
}

func NewExtractor(inner extract.Extractor, instrumentation *otel.Instrumentation) (extract.Extractor, error) {
	if instrumentation == nil {
		return inner, nil
	}

	e := &Extractor{
		inner:   inner,
		tracer:  instrumentation.Tracer,
		metrics: &metrics{},
	}
	if err := e.initMetrics(instrumentation); err != nil {
		return nil, fmt.Errorf("initialising extractor metrics: %w", err)
	}
	return e, nil
}

func (e *Extractor) WriteItems(ctx context.Context, resource *extract.Resource, items any, meta any) (err error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "extractor.WriteItems", trace.WithAttributes(otel.ResourceKey.String(resource.Name())))
	startTime := time.Now()
	defer func() {
		otel.CloseSpan(span, err)
		attrs := metric.WithAttributes(otel.ResourceKey.String(resource.Name()))
		if e.metrics.writeLatency != nil {
			e.metrics.writeLatency.Record(ctx, time.Since(startTime).Milliseconds(), attrs)
		}
		if err != nil && e.metrics.writeErrors != nil {
			e.metrics.writeErrors.Add(ctx, 1, attrs)
		}
	}()
	return e.inner.WriteItems(ctx, resource, items, meta)
}

func (e *Extractor) WriteEmptyItemsFile(tableName string) error {
	return e.inner.WriteEmptyItemsFile(tableName)
}

func (e *Extractor) ResourcesWithItems() []string {
	return e.inner.ResourcesWithItems()
}

func (e *Extractor) ResourcesWithEmpty() []string {
	return e.inner.ResourcesWithEmpty()
}

func (e *Extractor) TableCounts() map[string]int {
	return e.inner.TableCounts()
}

func (e *Extractor) initMetrics(instrumentation *otel.Instrumentation) error {
	var err error
	e.metrics.writeLatency, err = instrumentation.Int64Histogram("relnorm.extract.write.latency", "ms",
		"Distribution of the time taken to write the items of a resource")
	if err != nil {
		return err
	}

	e.metrics.writeErrors, err = instrumentation.Int64Counter("relnorm.extract.write.errors", "{error}",
		"Number of resource writes that failed")
	if err != nil {
		return err
	}

	return nil
}
