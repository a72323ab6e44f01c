// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"

	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/storage"
)

// ObjectExtractor extracts items decoded as Go values: maps, lists and
// scalars. Items are buffered as they are and normalized later.
type ObjectExtractor struct {
	*contractCore
}

var _ Extractor = (*ObjectExtractor)(nil)

func NewObjectExtractor(loadID string, s *schema.Schema, itemStorage storage.ItemStorage, opts ...Option) *ObjectExtractor {
	e := &ObjectExtractor{
		contractCore: newContractCore(loadID, s, itemStorage, opts...),
	}
	e.writer = e
	return e
}

// WriteItems writes a single item, a list of items or a
// MaterializedEmptyList. The meta can be a TableNameMeta or a HintsMeta.
func (e *ObjectExtractor) WriteItems(ctx context.Context, resource *Resource, items any, meta any) error {
	list, materialized := objectItems(items)
	return e.writeItems(ctx, resource, list, materialized, meta)
}

func objectItems(items any) ([]any, bool) {
	switch v := items.(type) {
	case nil:
		return []any{}, false
	case MaterializedEmptyList:
		return []any(v), true
	case []any:
		return v, false
	case []map[string]any:
		list := make([]any, 0, len(v))
		for _, item := range v {
			list = append(list, item)
		}
		return list, false
	default:
		return []any{items}, false
	}
}

func (e *ObjectExtractor) tableColumns([]any) []*schema.Column {
	return nil
}

func (e *ObjectExtractor) writeTableItems(table string, resource *Resource, items []any, materialized bool) error {
	return e.writeDataItem(table, resource, items, materialized, false)
}
