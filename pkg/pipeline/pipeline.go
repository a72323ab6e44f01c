// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/xataio/relnorm/pkg/extract"
	extractinstrumentation "github.com/xataio/relnorm/pkg/extract/instrumentation"
	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/normalize"
	normalizeinstrumentation "github.com/xataio/relnorm/pkg/normalize/instrumentation"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/schema"
	schemainstrumentation "github.com/xataio/relnorm/pkg/schema/instrumentation"
	"github.com/xataio/relnorm/pkg/storage"
)

// Pipeline extracts the items of its resources into new loads of a load
// package and normalizes them into relational rows. The pipeline schema is
// kept in the schema store between runs.
type Pipeline struct {
	config    *Config
	pkg       *storage.LoadPackage
	store     schema.Store
	resources map[string]*extract.Resource

	clock            clockwork.Clock
	logger           loglib.Logger
	instrumentation  *otel.Instrumentation
	progressTracking bool
}

// Source is a batch of items for a resource. Meta is passed along to the
// extractor (table name or hints meta).
type Source struct {
	Resource string
	Items    any
	Meta     any
}

type ExtractResult struct {
	LoadID             string
	SchemaName         string
	ResourcesWithItems []string
	ResourcesWithEmpty []string
	TableCounts        map[string]int
}

type RunResult struct {
	Extract   *ExtractResult
	Normalize *normalize.Result
}

type Option func(*Pipeline)

func WithLogger(l loglib.Logger) Option {
	return func(p *Pipeline) {
		p.logger = loglib.NewModuleLogger(l, "pipeline")
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

func WithInstrumentation(i *otel.Instrumentation) Option {
	return func(p *Pipeline) {
		p.instrumentation = i
	}
}

func WithProgressTracking() Option {
	return func(p *Pipeline) {
		p.progressTracking = true
	}
}

func New(cfg *Config, pkg *storage.LoadPackage, store schema.Store, opts ...Option) (*Pipeline, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:    cfg,
		pkg:       pkg,
		store:     store,
		resources: make(map[string]*extract.Resource, len(cfg.Resources)),
		clock:     clockwork.NewRealClock(),
		logger:    loglib.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, rc := range cfg.Resources {
		resource, err := extract.NewResource(rc.Name, rc.Hints)
		if err != nil {
			return nil, fmt.Errorf("%w: resource %s: %w", ErrInvalidConfig, rc.Name, err)
		}
		p.resources[rc.Name] = resource
	}

	if p.instrumentation.IsEnabled() {
		p.store = schemainstrumentation.NewStore(p.store, p.instrumentation)
	}
	return p, nil
}

// DocumentSource returns a source with the items of the json documents,
// selected with the items path of the resource.
func (p *Pipeline) DocumentSource(resource string, docs ...[]byte) (Source, error) {
	rc, err := p.resourceConfig(resource)
	if err != nil {
		return Source{}, err
	}
	items := []any{}
	for i, doc := range docs {
		docItems, err := extract.ItemsFromDocument(doc, rc.ItemsPath)
		if err != nil {
			return Source{}, fmt.Errorf("document %d: %w", i, err)
		}
		items = append(items, docItems...)
	}
	return Source{Resource: resource, Items: items}, nil
}

// Schema returns the pipeline schema from the store, or a new one when it
// hasn't been stored yet. The configured normalizer settings are merged in.
func (p *Pipeline) Schema(ctx context.Context) (*schema.Schema, error) {
	name := p.config.schemaName()
	exists, err := p.store.Exists(ctx, name)
	if err != nil {
		return nil, err
	}

	var sc *schema.Schema
	if exists {
		sc, err = p.store.Load(ctx, name)
	} else {
		sc, err = schema.New(name,
			schema.WithSettings(p.config.Schema.Settings),
			schema.WithNormalizers(schema.NormalizersConfig{
				Names:               p.config.Schema.Naming,
				MaxIdentifierLength: p.config.Schema.MaxIdentifierLength,
			}))
	}
	if err != nil {
		return nil, err
	}

	if p.config.Normalizer != nil {
		if err := relational.UpdateNormalizerConfig(sc, p.config.Normalizer); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// Extract writes the sources to a new load and saves the schema with the
// tables computed from the resources.
func (p *Pipeline) Extract(ctx context.Context, sources ...Source) (*ExtractResult, error) {
	loadID := NewLoadID(p.clock)
	sc, err := p.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pipeline schema: %w", err)
	}
	if err := p.pkg.CreateLoad(loadID); err != nil {
		return nil, err
	}

	writer := p.pkg.NewItemWriter()
	var extractor extract.Extractor = extract.NewObjectExtractor(loadID, sc, writer, extract.WithLogger(p.logger))
	if p.instrumentation.IsEnabled() {
		if extractor, err = extractinstrumentation.NewExtractor(extractor, p.instrumentation); err != nil {
			return nil, errors.Join(err, writer.Close())
		}
	}

	if err := p.extractSources(ctx, extractor, sources); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing item writer: %w", err)
	}

	if err := p.store.Save(ctx, sc); err != nil {
		return nil, fmt.Errorf("saving pipeline schema: %w", err)
	}

	result := &ExtractResult{
		LoadID:             loadID,
		SchemaName:         sc.Name(),
		ResourcesWithItems: extractor.ResourcesWithItems(),
		ResourcesWithEmpty: extractor.ResourcesWithEmpty(),
		TableCounts:        extractor.TableCounts(),
	}
	p.logger.Info("load extracted", loglib.Fields{
		loglib.LoadIDField: loadID,
		loglib.SchemaField: sc.Name(),
		"tables":           result.TableCounts,
	})
	return result, nil
}

func (p *Pipeline) extractSources(ctx context.Context, extractor extract.Extractor, sources []Source) error {
	for _, src := range sources {
		resource, found := p.resources[src.Resource]
		if !found {
			return fmt.Errorf("%w: %s", ErrResourceNotFound, src.Resource)
		}
		if err := extractor.WriteItems(ctx, resource, src.Items, src.Meta); err != nil {
			return fmt.Errorf("extracting resource %s: %w", src.Resource, err)
		}
	}

	// materialized empty lists still create their table
	for _, name := range extractor.ResourcesWithEmpty() {
		resource := p.resources[name]
		if resource.HasDynamicTableName() {
			continue
		}
		if err := extractor.WriteEmptyItemsFile(resource.TableName()); err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
	}
	return nil
}

// Normalize normalizes the extracted files of the load.
func (p *Pipeline) Normalize(ctx context.Context, loadID string) (*normalize.Result, error) {
	opts := []normalize.StageOption{
		normalize.WithStageLogger(p.logger),
		normalize.WithWorkers(p.config.Workers),
		normalize.WithClock(p.clock),
	}
	if p.instrumentation.IsEnabled() {
		opts = append(opts, normalize.WithItemsNormalizerWrapper(func(n normalize.ItemsNormalizer) (normalize.ItemsNormalizer, error) {
			return normalizeinstrumentation.NewItemsNormalizer(n, p.instrumentation)
		}))
	}
	if p.progressTracking {
		opts = append(opts, normalize.WithProgressTracking())
	}
	return normalize.NewStage(p.pkg, p.store, opts...).Run(ctx, loadID)
}

// Run extracts the sources into a new load and normalizes it.
func (p *Pipeline) Run(ctx context.Context, sources ...Source) (*RunResult, error) {
	extracted, err := p.Extract(ctx, sources...)
	if err != nil {
		return nil, err
	}
	normalized, err := p.Normalize(ctx, extracted.LoadID)
	if err != nil {
		return nil, fmt.Errorf("normalizing load %s: %w", extracted.LoadID, err)
	}
	return &RunResult{
		Extract:   extracted,
		Normalize: normalized,
	}, nil
}

// ResourceNames returns the names of the configured resources, in
// configuration order.
func (p *Pipeline) ResourceNames() []string {
	names := make([]string, 0, len(p.config.Resources))
	for _, rc := range p.config.Resources {
		names = append(names, rc.Name)
	}
	return names
}

func (p *Pipeline) resourceConfig(name string) (*ResourceConfig, error) {
	for i := range p.config.Resources {
		if p.config.Resources[i].Name == name {
			return &p.config.Resources[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
}
