// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"fmt"

	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/storage"
)

// ColumnarBatch is a batch of rows sharing the same columns, as produced by
// columnar sources.
type ColumnarBatch struct {
	Columns []string
	// Types optionally declares the data type of each column. Empty types
	// are inferred at normalization time.
	Types []schema.DataType
	Rows  [][]any
}

func (b *ColumnarBatch) validate() error {
	if len(b.Types) > 0 && len(b.Types) != len(b.Columns) {
		return fmt.Errorf("%w: %d types for %d columns", ErrUnsupportedItems, len(b.Types), len(b.Columns))
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", ErrUnsupportedItems, i, len(row), len(b.Columns))
		}
	}
	return nil
}

// ColumnarExtractor extracts columnar batches. Column names are normalized
// and contract filters applied at extraction time, so the batches are
// buffered as rows ready to be normalized. The contract cache is not used
// for static tables, the table is recomputed with every batch.
type ColumnarExtractor struct {
	*contractCore
}

var _ Extractor = (*ColumnarExtractor)(nil)

func NewColumnarExtractor(loadID string, s *schema.Schema, itemStorage storage.ItemStorage, opts ...Option) *ColumnarExtractor {
	e := &ColumnarExtractor{
		contractCore: newContractCore(loadID, s, itemStorage, opts...),
	}
	e.writer = e
	e.resetOnStaticWrite = true
	return e
}

// WriteItems writes a *ColumnarBatch or a []*ColumnarBatch.
func (e *ColumnarExtractor) WriteItems(ctx context.Context, resource *Resource, items any, meta any) error {
	var batches []*ColumnarBatch
	switch v := items.(type) {
	case *ColumnarBatch:
		batches = []*ColumnarBatch{v}
	case ColumnarBatch:
		batches = []*ColumnarBatch{&v}
	case []*ColumnarBatch:
		batches = v
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedItems, items)
	}

	e.names.Scope(e.schema.InstanceID().String(), e.schema.Naming())
	list := make([]any, 0, len(batches))
	for _, b := range batches {
		if err := b.validate(); err != nil {
			return err
		}
		list = append(list, e.normalizeBatch(b))
	}
	return e.writeItems(ctx, resource, list, false, meta)
}

// normalizeBatch returns a copy of the batch with normalized column names and
// without the columns that have no values.
func (e *ColumnarExtractor) normalizeBatch(b *ColumnarBatch) *ColumnarBatch {
	keep := make([]int, 0, len(b.Columns))
	for i := range b.Columns {
		for _, row := range b.Rows {
			if row[i] != nil {
				keep = append(keep, i)
				break
			}
		}
	}

	normalized := &ColumnarBatch{
		Columns: make([]string, 0, len(keep)),
		Rows:    make([][]any, 0, len(b.Rows)),
	}
	for _, i := range keep {
		normalized.Columns = append(normalized.Columns, e.names.NormalizePath(b.Columns[i]))
		if len(b.Types) > 0 {
			normalized.Types = append(normalized.Types, b.Types[i])
		}
	}
	for _, row := range b.Rows {
		values := make([]any, 0, len(keep))
		for _, i := range keep {
			values = append(values, row[i])
		}
		normalized.Rows = append(normalized.Rows, values)
	}
	return normalized
}

func (e *ColumnarExtractor) tableColumns(items []any) []*schema.Column {
	var columns []*schema.Column
	seen := map[string]struct{}{}
	for _, item := range items {
		b, ok := item.(*ColumnarBatch)
		if !ok {
			continue
		}
		for i, name := range b.Columns {
			if len(b.Types) == 0 || b.Types[i] == "" {
				continue
			}
			if _, found := seen[name]; found {
				continue
			}
			seen[name] = struct{}{}
			columns = append(columns, &schema.Column{Name: name, DataType: b.Types[i]})
		}
	}
	return columns
}

func (e *ColumnarExtractor) writeTableItems(table string, resource *Resource, items []any, _ bool) error {
	loadIDColumn := e.names.NormalizePath(schema.ColumnDltLoadID)
	rows := []any{}
	for _, item := range items {
		b, ok := item.(*ColumnarBatch)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnsupportedItems, item)
		}
		for _, row := range e.applyContractFilters(table, b) {
			if e.addLoadID {
				row[loadIDColumn] = e.loadID
			}
			rows = append(rows, row)
		}
	}
	return e.writeDataItem(table, resource, rows, false, true)
}

// applyContractFilters returns the rows of the batch as maps, without the
// rows that have values in discard_row columns and without the filtered
// columns.
func (e *ColumnarExtractor) applyContractFilters(table string, b *ColumnarBatch) []map[string]any {
	filtered := e.filteredColumns[table]
	rows := make([]map[string]any, 0, len(b.Rows))
rowLoop:
	for _, values := range b.Rows {
		row := make(map[string]any, len(b.Columns))
		for i, name := range b.Columns {
			mode, isFiltered := filtered[name]
			if !isFiltered {
				row[name] = values[i]
				continue
			}
			if mode == schema.ContractDiscardRow && values[i] != nil {
				continue rowLoop
			}
		}
		rows = append(rows, row)
	}
	return rows
}
