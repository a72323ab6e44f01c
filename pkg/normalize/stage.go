// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xataio/relnorm/internal/progress"
	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// Stage normalizes the extracted files of a load package. Files are
// normalized concurrently, every worker on its own copy of the schema. The
// schema updates found by the workers are then merged into the stored schema
// in file order. When the updates of two workers conflict, the load is
// normalized again by a single worker.
type Stage struct {
	pkg     *storage.LoadPackage
	store   schema.Store
	workers uint
	clock   clockwork.Clock
	logger  loglib.Logger

	wrapNormalizer     func(ItemsNormalizer) (ItemsNormalizer, error)
	rowStorageBuilder  func() storage.RowStorage
	progressTracking   bool
	progressBarBuilder func(totalBytes int64, description string) progress.Bar
}

// Result summarises the normalization of a load.
type Result struct {
	LoadID   string
	Schemas  map[string]*SchemaResult
	Duration time.Duration
}

type SchemaResult struct {
	Files int
	// Rows written per table. Tables created empty have no rows.
	Rows          map[string]int64
	SchemaUpdates int
	Version       int
}

// ErrSchemaUpdateConflict is returned when the schema updates of a file
// cannot be merged into the schema.
var ErrSchemaUpdateConflict = errors.New("conflicting schema updates")

type StageOption func(*Stage)

const defaultWorkers = 1

func NewStage(pkg *storage.LoadPackage, store schema.Store, opts ...StageOption) *Stage {
	s := &Stage{
		pkg:            pkg,
		store:          store,
		workers:        defaultWorkers,
		clock:          clockwork.NewRealClock(),
		logger:         loglib.NewNoopLogger(),
		wrapNormalizer: func(n ItemsNormalizer) (ItemsNormalizer, error) { return n, nil },
		rowStorageBuilder: func() storage.RowStorage {
			return pkg.NewRowWriter()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithStageLogger(l loglib.Logger) StageOption {
	return func(s *Stage) {
		s.logger = loglib.NewModuleLogger(l, "normalize_stage")
	}
}

func WithWorkers(workers uint) StageOption {
	return func(s *Stage) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

func WithClock(c clockwork.Clock) StageOption {
	return func(s *Stage) {
		s.clock = c
	}
}

// WithItemsNormalizerWrapper wraps every items normalizer created by the
// stage, used to instrument them.
func WithItemsNormalizerWrapper(wrap func(ItemsNormalizer) (ItemsNormalizer, error)) StageOption {
	return func(s *Stage) {
		s.wrapNormalizer = wrap
	}
}

func WithProgressTracking() StageOption {
	return func(s *Stage) {
		s.progressTracking = true
		s.progressBarBuilder = func(totalBytes int64, description string) progress.Bar {
			return progress.NewBytesBar(totalBytes, description)
		}
	}
}

// Run normalizes all the extracted files of the load, schema by schema, and
// saves the updated schemas.
func (s *Stage) Run(ctx context.Context, loadID string) (*Result, error) {
	start := s.clock.Now()
	files, err := s.pkg.ListExtractedFiles(loadID)
	if err != nil {
		return nil, err
	}

	bySchema := map[string][]extractedFile{}
	for _, path := range files {
		name, err := storage.ParseFileName(path)
		if err != nil {
			return nil, err
		}
		bySchema[name.SchemaName] = append(bySchema[name.SchemaName], extractedFile{path: path, table: name.TableName})
	}
	schemaNames := make([]string, 0, len(bySchema))
	for name := range bySchema {
		schemaNames = append(schemaNames, name)
	}
	sort.Strings(schemaNames)

	result := &Result{
		LoadID:  loadID,
		Schemas: make(map[string]*SchemaResult, len(bySchema)),
	}
	for _, name := range schemaNames {
		schemaResult, err := s.normalizeSchema(ctx, loadID, name, bySchema[name])
		if err != nil {
			return nil, fmt.Errorf("normalizing schema %s: %w", name, err)
		}
		result.Schemas[name] = schemaResult
	}
	result.Duration = s.clock.Since(start)

	s.logger.Info("load normalized", loglib.Fields{
		loglib.LoadIDField: loadID,
		"schemas":          schemaNames,
		"files":            len(files),
		"duration":         result.Duration.String(),
	})
	return result, nil
}

type extractedFile struct {
	path  string
	table string
}

type fileResult struct {
	updates []SchemaUpdate
}

type workerResult struct {
	metrics map[string]storage.WriterMetrics
}

func (s *Stage) normalizeSchema(ctx context.Context, loadID, schemaName string, files []extractedFile) (*SchemaResult, error) {
	result, sc, err := s.normalizeFiles(ctx, loadID, schemaName, files, s.workers)
	if errors.Is(err, ErrSchemaUpdateConflict) && s.workers > 1 {
		s.logger.Warn(err, "schema updates conflict, normalizing the load with a single worker", loglib.Fields{
			loglib.LoadIDField: loadID,
			loglib.SchemaField: schemaName,
		})
		if err := s.pkg.DeleteNormalizedFiles(loadID, schemaName); err != nil {
			return nil, err
		}
		result, sc, err = s.normalizeFiles(ctx, loadID, schemaName, files, 1)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, sc); err != nil {
		return nil, fmt.Errorf("saving schema: %w", err)
	}
	result.Version = sc.Version()
	return result, nil
}

// normalizeFiles normalizes the files with the given number of workers and
// returns the loaded schema updated with the results.
func (s *Stage) normalizeFiles(ctx context.Context, loadID, schemaName string, files []extractedFile, workers uint) (*SchemaResult, *schema.Schema, error) {
	sc, err := s.store.Load(ctx, schemaName)
	if err != nil {
		return nil, nil, fmt.Errorf("loading schema: %w", err)
	}
	// normalizer config and default hints are stored with the schema
	if _, err := relational.New(sc); err != nil {
		return nil, nil, err
	}

	if workers > uint(len(files)) {
		workers = uint(len(files))
	}

	var bar progress.Bar
	if s.progressTracking {
		bar = s.progressBarBuilder(s.totalSize(files), fmt.Sprintf("normalizing %s", schemaName))
		defer bar.Close()
	}

	fileResults := make([]fileResult, len(files))
	workerResults := make([]workerResult, workers)
	clones := make([]*schema.Schema, workers)
	for i := range clones {
		clones[i] = sc.Clone()
	}

	errGroup, ctx := errgroup.WithContext(ctx)
	filesChan := make(chan int)
	for w := uint(0); w < workers; w++ {
		errGroup.Go(func() error {
			metrics, err := s.runWorker(ctx, loadID, clones[w], files, filesChan, fileResults, bar)
			workerResults[w] = workerResult{metrics: metrics}
			return err
		})
	}
	errGroup.Go(func() error {
		defer close(filesChan)
		for i := range files {
			select {
			case filesChan <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	if err := errGroup.Wait(); err != nil {
		return nil, nil, err
	}

	result := &SchemaResult{
		Files: len(files),
		Rows:  map[string]int64{},
	}
	for i, fr := range fileResults {
		for _, update := range fr.updates {
			for _, partial := range update {
				if _, err := sc.UpdateTable(partial, false, false); err != nil {
					return nil, nil, fmt.Errorf("%w: file %s: %w", ErrSchemaUpdateConflict, filepath.Base(files[i].path), err)
				}
				result.SchemaUpdates++
			}
		}
	}

	for _, wr := range workerResults {
		for table, m := range wr.metrics {
			if m.ItemsCount == 0 {
				continue
			}
			result.Rows[table] += m.ItemsCount
			if err := sc.MarkSeenData(table); err != nil {
				return nil, nil, err
			}
		}
	}
	return result, sc, nil
}

// runWorker normalizes the files received on the channel with its own schema
// and row writer, and returns what the writer wrote.
func (s *Stage) runWorker(ctx context.Context, loadID string, sc *schema.Schema, files []extractedFile, filesChan <-chan int, results []fileResult, bar progress.Bar) (map[string]storage.WriterMetrics, error) {
	rows := s.rowStorageBuilder()
	inner, err := NewJSONLItemsNormalizer(loadID, sc, s.pkg, rows, WithLogger(s.logger))
	if err != nil {
		return nil, errors.Join(err, rows.Close())
	}
	normalizer, err := s.wrapNormalizer(inner)
	if err != nil {
		return nil, errors.Join(err, rows.Close())
	}

	for i := range filesChan {
		f := files[i]
		updates, err := normalizer.Normalize(ctx, f.path, f.table)
		if err != nil {
			s.logger.Error(err, "normalizing file", loglib.Fields{
				loglib.LoadIDField: loadID,
				loglib.FileField:   f.path,
			})
			return nil, errors.Join(fmt.Errorf("file %s: %w", filepath.Base(f.path), err), rows.Close())
		}
		results[i] = fileResult{updates: updates}
		if bar != nil {
			size, _ := s.pkg.FileSize(f.path)
			_ = bar.Add64(size)
		}
	}

	if err := rows.Close(); err != nil {
		return nil, err
	}
	return rows.Metrics(), nil
}

func (s *Stage) totalSize(files []extractedFile) int64 {
	var total int64
	for _, f := range files {
		size, err := s.pkg.FileSize(f.path)
		if err != nil {
			continue
		}
		total += size
	}
	return total
}
