// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"errors"
	"fmt"
)

// Store persists schemas by name.
type Store interface {
	Load(ctx context.Context, name string) (*Schema, error)
	Save(ctx context.Context, s *Schema) error
	Exists(ctx context.Context, name string) (bool, error)
}

var ErrSchemaNotFound = errors.New("schema not found")

// StoreCache is a wrapper around a schema Store that keeps the last loaded or
// saved version of each schema in memory. Loads return clones so callers can
// mutate them freely. It is not concurrency safe.
type StoreCache struct {
	store Store
	cache map[string]*Schema
}

func NewStoreCache(store Store) *StoreCache {
	return &StoreCache{
		store: store,
		cache: make(map[string]*Schema),
	}
}

func (s *StoreCache) Load(ctx context.Context, name string) (*Schema, error) {
	cached := s.cache[name]
	if cached == nil {
		var err error
		cached, err = s.store.Load(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("store cache load: %w", err)
		}
		s.cache[name] = cached
	}
	return cached.Clone(), nil
}

func (s *StoreCache) Save(ctx context.Context, schema *Schema) error {
	if err := s.store.Save(ctx, schema); err != nil {
		return fmt.Errorf("store cache save: %w", err)
	}
	s.cache[schema.Name()] = schema.Clone()
	return nil
}

func (s *StoreCache) Exists(ctx context.Context, name string) (bool, error) {
	if _, found := s.cache[name]; found {
		return true, nil
	}
	return s.store.Exists(ctx, name)
}
