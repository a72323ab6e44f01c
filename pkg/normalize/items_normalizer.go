// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"context"
	"fmt"

	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/storage"
)

// SchemaUpdate holds the partial tables added to the schema while
// normalizing one line of items, in the order they were found. Parent tables
// always come before their nested tables.
type SchemaUpdate []*schema.Table

// ItemsNormalizer normalizes the items of one extracted file into rows.
type ItemsNormalizer interface {
	Normalize(ctx context.Context, file string, rootTable string) ([]SchemaUpdate, error)
}

// ItemsReader reads the items of extracted files line by line.
type ItemsReader interface {
	ReadItems(ctx context.Context, path string, fn func(items []any) error) error
}

// JSONLItemsNormalizer walks the items buffered at extraction time, coerces
// every row into the schema and writes the rows to the row storage. New
// columns and tables are checked against the schema contract and added to
// the schema. It is not safe for concurrent use.
type JSONLItemsNormalizer struct {
	loadID     string
	schema     *schema.Schema
	normalizer *relational.Normalizer
	reader     ItemsReader
	storage    storage.RowStorage
	logger     loglib.Logger

	tableContracts  map[string]schema.Contract
	filteredTables  map[string]struct{}
	filteredColumns map[string]map[string]schema.ContractMode
}

var _ ItemsNormalizer = (*JSONLItemsNormalizer)(nil)

type Option func(*JSONLItemsNormalizer)

func WithLogger(l loglib.Logger) Option {
	return func(n *JSONLItemsNormalizer) {
		n.logger = loglib.NewModuleLogger(l, "items_normalizer")
	}
}

// NewJSONLItemsNormalizer installs a relational normalizer on the schema,
// which must not be shared with other goroutines.
func NewJSONLItemsNormalizer(loadID string, s *schema.Schema, reader ItemsReader, rows storage.RowStorage, opts ...Option) (*JSONLItemsNormalizer, error) {
	n := &JSONLItemsNormalizer{
		loadID:          loadID,
		schema:          s,
		reader:          reader,
		storage:         rows,
		logger:          loglib.NewNoopLogger(),
		tableContracts:  map[string]schema.Contract{},
		filteredTables:  map[string]struct{}{},
		filteredColumns: map[string]map[string]schema.ContractMode{},
	}
	for _, opt := range opts {
		opt(n)
	}

	var err error
	if n.normalizer, err = relational.New(s, relational.WithLogger(n.logger)); err != nil {
		return nil, fmt.Errorf("creating relational normalizer: %w", err)
	}
	return n, nil
}

// Normalize normalizes every line of the file. An empty file for a root
// table already in the schema still creates the table: if the table never
// saw data, an empty item is normalized without writing it so the table gets
// its system columns.
func (n *JSONLItemsNormalizer) Normalize(ctx context.Context, file string, rootTable string) ([]SchemaUpdate, error) {
	updates := []SchemaUpdate{}
	lines := 0
	err := n.reader.ReadItems(ctx, file, func(items []any) error {
		lines++
		update, err := n.normalizeChunk(ctx, rootTable, items, false)
		if err != nil {
			return err
		}
		if len(update) > 0 {
			updates = append(updates, update)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.logger.Debug("file normalized", loglib.Fields{
		loglib.FileField:      file,
		loglib.TableField:     rootTable,
		loglib.LineCountField: lines,
	})

	if lines > 0 {
		return updates, nil
	}

	root, found := n.schema.Table(rootTable)
	if !found {
		n.logger.Debug("empty file for unknown table", loglib.Fields{loglib.TableField: rootTable})
		return updates, nil
	}
	if !root.HasSeenData() {
		update, err := n.normalizeChunk(ctx, rootTable, []any{map[string]any{}}, true)
		if err != nil {
			return nil, err
		}
		if len(update) > 0 {
			updates = append(updates, update)
		}
		root, _ = n.schema.Table(rootTable)
	}
	if err := n.storage.WriteEmptyTable(n.loadID, n.schema.Name(), rootTable, &root.Columns); err != nil {
		return nil, fmt.Errorf("writing empty table %s: %w", rootTable, err)
	}
	return updates, nil
}

func (n *JSONLItemsNormalizer) normalizeChunk(ctx context.Context, rootTable string, items []any, skipWrite bool) (SchemaUpdate, error) {
	update := SchemaUpdate{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := n.normalizer.NormalizeItem(item, n.loadID, rootTable, func(table relational.TableIdentity, row schema.Row) (relational.DescendDecision, error) {
			return n.processRow(table, row, &update, skipWrite)
		})
		if err != nil {
			return nil, err
		}
	}
	return update, nil
}

// processRow coerces and writes one row. Rows discarded by the contract are
// not descended into.
func (n *JSONLItemsNormalizer) processRow(ident relational.TableIdentity, row schema.Row, update *SchemaUpdate, skipWrite bool) (relational.DescendDecision, error) {
	table := ident.Name
	if n.isFilteredTable(table) {
		return relational.Skip, nil
	}
	if n.discardFilteredColumns(table, row) {
		return relational.Skip, nil
	}

	row = n.schema.FilterRow(table, row)
	// rows emptied by the filters are not processed, nor are their children
	if len(row) == 0 {
		return relational.Skip, nil
	}
	coerced, partial, err := n.schema.CoerceRow(table, ident.Parent, row)
	if err != nil {
		return relational.Skip, err
	}

	if partial != nil {
		var filters []schema.Filter
		partial, filters, err = n.schema.ApplySchemaContract(n.contract(table, partial), partial, row)
		if err != nil {
			return relational.Skip, err
		}
		n.addFilters(table, filters)
		if partial == nil {
			return relational.Skip, nil
		}
		// columns filtered by this very row
		if n.discardFilteredColumns(table, coerced) {
			return relational.Skip, nil
		}
		if _, exists := n.schema.Table(table); !exists || partial.Columns.Len() > 0 {
			if _, err := n.schema.UpdateTable(partial, false, false); err != nil {
				return relational.Skip, fmt.Errorf("updating table %s: %w", table, err)
			}
			*update = append(*update, partial)
		}
	}

	if skipWrite {
		return relational.Descend, nil
	}

	var columns *schema.Columns
	if t, found := n.schema.Table(table); found {
		columns = &t.Columns
	}
	if err := n.storage.WriteRow(n.loadID, n.schema.Name(), table, coerced, columns); err != nil {
		return relational.Skip, fmt.Errorf("writing row of table %s: %w", table, err)
	}
	return relational.Descend, nil
}

// discardFilteredColumns removes the discard_value columns from the row and
// reports whether the row has a value for a discard_row column.
func (n *JSONLItemsNormalizer) discardFilteredColumns(table string, row schema.Row) bool {
	filtered := n.filteredColumns[table]
	for name, mode := range filtered {
		v, found := row[name]
		if !found {
			continue
		}
		if mode == schema.ContractDiscardRow && v != nil {
			n.logger.Trace("row discarded by contract", loglib.Fields{
				loglib.TableField:  table,
				loglib.ColumnField: name,
			})
			return true
		}
		delete(row, name)
	}
	return false
}

func (n *JSONLItemsNormalizer) contract(table string, partial *schema.Table) schema.Contract {
	contract, found := n.tableContracts[table]
	if !found {
		contract = n.schema.ResolveContractSettingsForTable(table, partial)
		n.tableContracts[table] = contract
	}
	return contract
}

func (n *JSONLItemsNormalizer) addFilters(table string, filters []schema.Filter) {
	for _, f := range filters {
		n.logger.Warn(nil, "schema contract filter", loglib.Fields{
			loglib.TableField:    table,
			loglib.ContractField: string(f.Mode),
			"entity":             string(f.Entity),
			"name":               f.Name,
		})
		switch f.Entity {
		case schema.EntityTables:
			n.filteredTables[f.Name] = struct{}{}
		case schema.EntityColumns, schema.EntityDataType:
			if n.filteredColumns[table] == nil {
				n.filteredColumns[table] = map[string]schema.ContractMode{}
			}
			n.filteredColumns[table][f.Name] = f.Mode
		}
	}
}

func (n *JSONLItemsNormalizer) isFilteredTable(table string) bool {
	_, filtered := n.filteredTables[table]
	return filtered
}
