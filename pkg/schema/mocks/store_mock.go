// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync/atomic"

	"github.com/xataio/relnorm/pkg/schema"
)

type Store struct {
	LoadFn    func(ctx context.Context, name string) (*schema.Schema, error)
	SaveFn    func(ctx context.Context, s *schema.Schema) error
	ExistsFn  func(ctx context.Context, name string) (bool, error)
	loadCalls uint64
	saveCalls uint64
}

var _ schema.Store = (*Store)(nil)

func (m *Store) Load(ctx context.Context, name string) (*schema.Schema, error) {
	atomic.AddUint64(&m.loadCalls, 1)
	return m.LoadFn(ctx, name)
}

func (m *Store) Save(ctx context.Context, s *schema.Schema) error {
	atomic.AddUint64(&m.saveCalls, 1)
	return m.SaveFn(ctx, s)
}

func (m *Store) Exists(ctx context.Context, name string) (bool, error) {
	return m.ExistsFn(ctx, name)
}

func (m *Store) GetLoadCalls() uint64 {
	return atomic.LoadUint64(&m.loadCalls)
}

func (m *Store) GetSaveCalls() uint64 {
	return atomic.LoadUint64(&m.saveCalls)
}
