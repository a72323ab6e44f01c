// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/xataio/relnorm/pkg/normalize"
	"github.com/xataio/relnorm/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type ItemsNormalizer struct {
	inner   normalize.ItemsNormalizer
	tracer  trace.Tracer
	metrics *metrics
}

type metrics struct {
	fileLatency   metric.Int64Histogram
	fileErrors    metric.Int64Counter
	schemaUpdates metric.Int64Counter
}

func NewItemsNormalizer(inner normalize.ItemsNormalizer, instrumentation *otel.Instrumentation) (normalize.ItemsNormalizer, error) {
	if instrumentation == nil {
		return inner, nil
	}

	n := &ItemsNormalizer{
		inner:   inner,
		tracer:  instrumentation.Tracer,
		metrics: &metrics{},
	}
	if err := n.initMetrics(instrumentation); err != nil {
		return nil, fmt.Errorf("initialising items normalizer metrics: %w", err)
	}
	return n, nil
}

func (n *ItemsNormalizer) Normalize(ctx context.Context, file string, rootTable string) (updates []normalize.SchemaUpdate, err error) {
	attrs := []attribute.KeyValue{
		otel.TableKey.String(rootTable),
		otel.FileKey.String(filepath.Base(file)),
	}
	ctx, span := otel.StartSpan(ctx, n.tracer, "itemsNormalizer.Normalize", trace.WithAttributes(attrs...))
	startTime := time.Now()
	defer func() {
		otel.CloseSpan(span, err)
		tableAttr := metric.WithAttributes(otel.TableKey.String(rootTable))
		if n.metrics.fileLatency != nil {
			n.metrics.fileLatency.Record(ctx, time.Since(startTime).Milliseconds(), tableAttr)
		}
		if err != nil && n.metrics.fileErrors != nil {
			n.metrics.fileErrors.Add(ctx, 1, tableAttr)
		}
		if n.metrics.schemaUpdates != nil {
			partials := 0
			for _, u := range updates {
				partials += len(u)
			}
			n.metrics.schemaUpdates.Add(ctx, int64(partials), tableAttr)
		}
	}()
	return n.inner.Normalize(ctx, file, rootTable)
}

func (n *ItemsNormalizer) initMetrics(instrumentation *otel.Instrumentation) error {
	var err error
	n.metrics.fileLatency, err = instrumentation.Int64Histogram("relnorm.normalize.file.latency", "ms",
		"Distribution of the time taken to normalize an extracted file")
	if err != nil {
		return err
	}

	n.metrics.fileErrors, err = instrumentation.Int64Counter("relnorm.normalize.file.errors", "{error}",
		"Number of extracted files that failed to normalize")
	if err != nil {
		return err
	}

	n.metrics.schemaUpdates, err = instrumentation.Int64Counter("relnorm.normalize.schema.updates", "{table}",
		"Number of partial tables added to the schema while normalizing")
	if err != nil {
		return err
	}

	return nil
}
