// SPDX-License-Identifier: Apache-2.0

package naming

import (
	"strings"
	"sync"

	synclib "github.com/xataio/relnorm/internal/sync"
)

// Cache memoizes the normalization calls made for every key of every row.
// Entries are only valid for one schema instance, so the cache is scoped to
// it and starts empty whenever the scope changes.
type Cache struct {
	mu         sync.Mutex
	scope      string
	convention Convention
	paths      *synclib.Memo[string, string]
	tables     *synclib.Memo[string, string]
	fragments  *synclib.Memo[string, string]
}

const (
	// fragmentSep cannot appear in a normalized identifier of any convention.
	fragmentSep = "\x00"
	// bounds the memory used by documents with unbounded key sets
	maxCacheEntries = 100_000
)

func NewCache(scope string, convention Convention) *Cache {
	c := &Cache{}
	c.reset(scope, convention)
	return c
}

// Scope makes sure the cache holds entries for the given scope and
// convention, dropping everything memoized for a previous one.
func (c *Cache) Scope(scope string, convention Convention) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == scope && c.convention == convention {
		return
	}
	c.reset(scope, convention)
}

func (c *Cache) reset(scope string, convention Convention) {
	c.scope = scope
	c.convention = convention
	c.paths = synclib.NewMemo[string, string](maxCacheEntries)
	c.tables = synclib.NewMemo[string, string](maxCacheEntries)
	c.fragments = synclib.NewMemo[string, string](maxCacheEntries)
}

func (c *Cache) Convention() Convention {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convention
}

func (c *Cache) NormalizePath(path string) string {
	return c.paths.GetOrCompute(path, c.Convention().NormalizePath)
}

func (c *Cache) NormalizeTableIdentifier(identifier string) string {
	return c.tables.GetOrCompute(identifier, c.Convention().NormalizeTableIdentifier)
}

func (c *Cache) ShortenFragments(fragments ...string) string {
	switch len(fragments) {
	case 0:
		return ""
	case 1:
		if c.Convention().MaxLength() == 0 {
			return fragments[0]
		}
	}
	conv := c.Convention()
	return c.fragments.GetOrCompute(strings.Join(fragments, fragmentSep), func(string) string {
		return conv.ShortenFragments(fragments...)
	})
}

// Len returns the number of memoized entries.
func (c *Cache) Len() int {
	return c.paths.Len() + c.tables.Len() + c.fragments.Len()
}
