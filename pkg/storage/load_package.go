// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/xataio/relnorm/internal/json"
	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/schema"
)

// LoadPackage lays out the files of each load under a base directory:
//
//	<dir>/<load id>/extracted/<schema>.<table>.<file id>.jsonl
//	<dir>/<load id>/normalized/<schema>.<table>.<file id>.jsonl
//
// Extracted files hold one json array of items per line, normalized files
// one json object per row.
type LoadPackage struct {
	fs     afero.Fs
	dir    string
	clock  clockwork.Clock
	logger loglib.Logger
}

type Option func(*LoadPackage)

const (
	extractedDir  = "extracted"
	normalizedDir = "normalized"

	readBufferSize = 64 * 1024
)

func NewLoadPackage(fsys afero.Fs, dir string, opts ...Option) *LoadPackage {
	p := &LoadPackage{
		fs:     fsys,
		dir:    dir,
		clock:  clockwork.NewRealClock(),
		logger: loglib.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func WithLogger(l loglib.Logger) Option {
	return func(p *LoadPackage) {
		p.logger = loglib.NewModuleLogger(l, "load_package")
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(p *LoadPackage) {
		p.clock = c
	}
}

func (p *LoadPackage) LoadDir(loadID string) string {
	return filepath.Join(p.dir, loadID)
}

func (p *LoadPackage) ExtractedDir(loadID string) string {
	return filepath.Join(p.dir, loadID, extractedDir)
}

func (p *LoadPackage) NormalizedDir(loadID string) string {
	return filepath.Join(p.dir, loadID, normalizedDir)
}

// CreateLoad creates the directories of a new load, so loads without items
// can still be normalized.
func (p *LoadPackage) CreateLoad(loadID string) error {
	if err := p.fs.MkdirAll(p.ExtractedDir(loadID), 0o755); err != nil {
		return fmt.Errorf("creating load %s: %w", loadID, err)
	}
	return nil
}

func (p *LoadPackage) Exists(loadID string) (bool, error) {
	return afero.DirExists(p.fs, p.LoadDir(loadID))
}

// ListLoads returns the load ids in the package directory, oldest first.
// Load ids start with a timestamp so they sort by creation time.
func (p *LoadPackage) ListLoads() ([]string, error) {
	entries, err := afero.ReadDir(p.fs, p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing loads: %w", err)
	}
	loads := []string{}
	for _, e := range entries {
		if e.IsDir() {
			loads = append(loads, e.Name())
		}
	}
	sort.Strings(loads)
	return loads, nil
}

// ListExtractedFiles returns the paths of the extracted files of the load,
// sorted by name.
func (p *LoadPackage) ListExtractedFiles(loadID string) ([]string, error) {
	return p.listFiles(loadID, p.ExtractedDir(loadID))
}

func (p *LoadPackage) ListNormalizedFiles(loadID string) ([]string, error) {
	return p.listFiles(loadID, p.NormalizedDir(loadID))
}

func (p *LoadPackage) listFiles(loadID, dir string) ([]string, error) {
	exists, err := p.Exists(loadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLoadNotFound, loadID)
	}
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	files := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := ParseFileName(e.Name()); err != nil {
			p.logger.Warn(err, "ignoring unknown file in load package", loglib.Fields{
				loglib.LoadIDField: loadID,
				loglib.FileField:   e.Name(),
			})
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// DeleteNormalizedFiles removes the normalized files of the schema from the
// load, so the load can be normalized again.
func (p *LoadPackage) DeleteNormalizedFiles(loadID, schemaName string) error {
	files, err := p.ListNormalizedFiles(loadID)
	if err != nil {
		return err
	}
	for _, f := range files {
		name, err := ParseFileName(f)
		if err != nil || name.SchemaName != schemaName {
			continue
		}
		if err := p.fs.Remove(f); err != nil {
			return fmt.Errorf("removing %s: %w", f, err)
		}
	}
	return nil
}

func (p *LoadPackage) FileSize(path string) (int64, error) {
	info, err := p.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadItems calls fn with the items of every line of an extracted file, in
// file order. Integer numbers are decoded as int64. The context is checked
// between lines.
func (p *LoadPackage) ReadItems(ctx context.Context, path string, fn func(items []any) error) error {
	return p.readLines(ctx, path, func(line []byte) error {
		items := []any{}
		if err := json.UnmarshalItems(line, &items); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidItemsLine, err)
		}
		return fn(items)
	})
}

// ReadRows calls fn with every row of a normalized file.
func (p *LoadPackage) ReadRows(ctx context.Context, path string, fn func(row schema.Row) error) error {
	return p.readLines(ctx, path, func(line []byte) error {
		row := schema.Row{}
		if err := json.UnmarshalItems(line, &row); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidItemsLine, err)
		}
		return fn(row)
	})
}

func (p *LoadPackage) readLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := p.fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, readBufferSize)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading %s: %w", path, readErr)
		}
		if len(bytes.TrimSpace(line)) > 0 {
			if err := fn(line); err != nil {
				return fmt.Errorf("%s line %d: %w", filepath.Base(path), lineNo, err)
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

// NewItemWriter returns a writer of extracted items. Every writer creates its
// own files so writers can be used concurrently, one per goroutine.
func (p *LoadPackage) NewItemWriter() *ItemWriter {
	return &ItemWriter{
		files: p.newFileWriters(p.ExtractedDir),
	}
}

// NewRowWriter returns a writer of normalized rows. Every writer creates its
// own files so writers can be used concurrently, one per goroutine.
func (p *LoadPackage) NewRowWriter() *RowWriter {
	return &RowWriter{
		files: p.newFileWriters(p.NormalizedDir),
	}
}

func (p *LoadPackage) newFileWriters(dirFn func(loadID string) string) *fileWriters {
	return &fileWriters{
		fs:     p.fs,
		clock:  p.clock,
		logger: p.logger,
		dirFn:  dirFn,
		files:  map[writerKey]*fileWriter{},
	}
}
