// SPDX-License-Identifier: Apache-2.0

package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/schema"
)

// Store keeps each schema in a <name>.schema.yaml file under a directory.
type Store struct {
	fs     afero.Fs
	dir    string
	logger loglib.Logger
}

type Option func(*Store)

const fileSuffix = ".schema.yaml"

func NewStore(fsys afero.Fs, dir string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:     fsys,
		dir:    dir,
		logger: loglib.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating schema store directory: %w", err)
	}
	return s, nil
}

func WithLogger(l loglib.Logger) Option {
	return func(s *Store) {
		s.logger = loglib.NewModuleLogger(l, "schema_file_store")
	}
}

// Path returns the file a schema with the given name is stored in.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+fileSuffix)
}

func (s *Store) Load(_ context.Context, name string) (*schema.Schema, error) {
	b, err := afero.ReadFile(s.fs, s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", schema.ErrSchemaNotFound, name)
		}
		return nil, fmt.Errorf("reading schema %s: %w", name, err)
	}
	sc, err := schema.FromYAML(b)
	if err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", name, err)
	}
	if sc.Name() != name {
		return nil, fmt.Errorf("loading schema %s: %w: file holds schema %s", name, schema.ErrInvalidSchema, sc.Name())
	}
	return sc, nil
}

// Save bumps the schema version if its content changed and writes it. The
// file is written to a temporary file first and renamed, so readers never
// see a partial schema.
func (s *Store) Save(_ context.Context, sc *schema.Schema) error {
	version, hash, err := sc.BumpVersion()
	if err != nil {
		return fmt.Errorf("bumping schema version: %w", err)
	}
	b, err := schema.ToYAML(sc)
	if err != nil {
		return fmt.Errorf("encoding schema %s: %w", sc.Name(), err)
	}

	path := s.Path(sc.Name())
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing schema %s: %w", sc.Name(), err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing schema %s: %w", sc.Name(), err)
	}

	s.logger.Debug("schema saved", loglib.Fields{
		loglib.SchemaField: sc.Name(),
		"version":          version,
		"version_hash":     hash,
	})
	return nil
}

func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	return afero.Exists(s.fs, s.Path(name))
}

// LoadFile loads a schema from a file path, outside of any store directory.
func LoadFile(fsys afero.Fs, path string) (*schema.Schema, error) {
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	return schema.FromYAML(b)
}
