// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"

	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/schema"
	"go.opentelemetry.io/otel/trace"
)

type Store struct {
	inner  schema.Store
	tracer trace.Tracer
}

func NewStore(inner schema.Store, instrumentation *otel.Instrumentation) schema.Store {
	if instrumentation == nil {
		return inner
	}

	return &Store{
		inner:  inner,
		tracer: instrumentation.Tracer,
	}
}

func (s *Store) Load(ctx context.Context, name string) (sc *schema.Schema, err error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "schemastore.Load", trace.WithAttributes(otel.SchemaKey.String(name)))
	defer func() { otel.CloseSpan(span, err) }()
	return s.inner.Load(ctx, name)
}

func (s *Store) Save(ctx context.Context, sc *schema.Schema) (err error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "schemastore.Save", trace.WithAttributes(otel.SchemaKey.String(sc.Name())))
	defer func() { otel.CloseSpan(span, err) }()
	return s.inner.Save(ctx, sc)
}

func (s *Store) Exists(ctx context.Context, name string) (exists bool, err error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "schemastore.Exists", trace.WithAttributes(otel.SchemaKey.String(name)))
	defer func() { otel.CloseSpan(span, err) }()
	return s.inner.Exists(ctx, name)
}
