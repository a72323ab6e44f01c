// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"sync/atomic"
)

// Bar records the progress added to it, safe for concurrent use by the
// normalize workers. The optional func fields inject errors.
type Bar struct {
	AddFn   func(int) error
	Add64Fn func(int64) error
	CloseFn func() error

	total  int64
	added  atomic.Int64
	closed atomic.Bool
}

// NewBar returns a bar expecting the given total.
func NewBar(total int64) *Bar {
	return &Bar{total: total}
}

func (b *Bar) Add(n int) error {
	b.added.Add(int64(n))
	if b.AddFn != nil {
		return b.AddFn(n)
	}
	return nil
}

func (b *Bar) Add64(n int64) error {
	b.added.Add(n)
	if b.Add64Fn != nil {
		return b.Add64Fn(n)
	}
	return nil
}

func (b *Bar) Close() error {
	b.closed.Store(true)
	if b.CloseFn != nil {
		return b.CloseFn()
	}
	return nil
}

func (b *Bar) Total() int64 {
	return b.total
}

func (b *Bar) Added() int64 {
	return b.added.Load()
}

func (b *Bar) Closed() bool {
	return b.closed.Load()
}
