// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"fmt"
	"sort"

	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/naming"
	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/storage"
)

// Extractor writes the items of resources to the item storage of a load,
// computing the schema of the tables they go to and enforcing the schema
// contracts. Extractors are not safe for concurrent use.
type Extractor interface {
	WriteItems(ctx context.Context, resource *Resource, items any, meta any) error
	WriteEmptyItemsFile(tableName string) error
	ResourcesWithItems() []string
	ResourcesWithEmpty() []string
	TableCounts() map[string]int
}

// itemsWriter is the part of the extraction that depends on the kind of
// items.
type itemsWriter interface {
	// tableColumns returns the columns the items declare, if any.
	tableColumns(items []any) []*schema.Column
	writeTableItems(table string, resource *Resource, items []any, materialized bool) error
}

// contractCore holds the schema computation and contract state shared by the
// extractors. Contracts and filters are cached per table and reset whenever
// the resource hints change.
type contractCore struct {
	loadID  string
	schema  *schema.Schema
	names   *naming.Cache
	storage storage.ItemStorage
	logger  loglib.Logger
	writer  itemsWriter

	// static tables are recomputed for every write
	resetOnStaticWrite bool
	addLoadID          bool

	tableContracts  map[string]schema.Contract
	filteredTables  map[string]struct{}
	filteredColumns map[string]map[string]schema.ContractMode

	resourcesWithItems map[string]struct{}
	resourcesWithEmpty map[string]struct{}
	tableCounts        map[string]int
}

type Option func(*contractCore)

func WithLogger(l loglib.Logger) Option {
	return func(c *contractCore) {
		c.logger = loglib.NewModuleLogger(l, "extractor")
	}
}

// WithLoadIDColumn adds the load id column to the rows of columnar batches.
func WithLoadIDColumn() Option {
	return func(c *contractCore) {
		c.addLoadID = true
	}
}

func newContractCore(loadID string, s *schema.Schema, itemStorage storage.ItemStorage, opts ...Option) *contractCore {
	c := &contractCore{
		loadID:             loadID,
		schema:             s,
		names:              naming.NewCache(s.InstanceID().String(), s.Naming()),
		storage:            itemStorage,
		logger:             loglib.NewNoopLogger(),
		tableContracts:     map[string]schema.Contract{},
		filteredTables:     map[string]struct{}{},
		filteredColumns:    map[string]map[string]schema.ContractMode{},
		resourcesWithItems: map[string]struct{}{},
		resourcesWithEmpty: map[string]struct{}{},
		tableCounts:        map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// writeItems writes the items to their static or dynamic tables. Materialized
// lists track the resource as empty when they have no items.
func (c *contractCore) writeItems(ctx context.Context, resource *Resource, items []any, materialized bool, meta any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.names.Scope(c.schema.InstanceID().String(), c.schema.Naming())

	if hm, ok := meta.(HintsMeta); ok {
		if err := resource.MergeHints(hm.Hints, hm.CreateTableVariant); err != nil {
			return err
		}
		if hm.CreateTableVariant {
			meta = TableNameMeta{TableName: hm.Hints.TableName}
		}
		c.resetContractsCache()
	}

	if table, static := c.staticTableName(resource, meta); static {
		return c.writeToStaticTable(resource, table, items, materialized, meta)
	}
	return c.writeToDynamicTable(resource, items)
}

func (c *contractCore) staticTableName(resource *Resource, meta any) (string, bool) {
	if resource.HasDynamicTableName() {
		return "", false
	}
	name := resource.TableName()
	if m, ok := meta.(TableNameMeta); ok {
		name = m.TableName
	}
	return c.names.NormalizeTableIdentifier(name), true
}

func (c *contractCore) writeToStaticTable(resource *Resource, table string, items []any, materialized bool, meta any) error {
	if c.resetOnStaticWrite {
		c.resetContractsCache()
	}
	if _, found := c.tableContracts[table]; !found {
		var item any
		if len(items) > 0 {
			item = items[0]
		}
		if err := c.computeAndUpdateTable(resource, table, item, items, meta); err != nil {
			return err
		}
	}
	if c.isFilteredTable(table) {
		return nil
	}
	return c.writer.writeTableItems(table, resource, items, materialized)
}

func (c *contractCore) writeToDynamicTable(resource *Resource, items []any) error {
	for _, item := range items {
		name, err := resource.ResolveTableName(item)
		if err != nil {
			return err
		}
		table := c.names.NormalizeTableIdentifier(name)
		if c.isFilteredTable(table) {
			continue
		}
		if _, found := c.tableContracts[table]; !found || resource.HasOtherDynamicHints() {
			if err := c.computeAndUpdateTable(resource, table, item, []any{item}, TableNameMeta{TableName: table}); err != nil {
				return err
			}
		}
		if c.isFilteredTable(table) {
			continue
		}
		if err := c.writer.writeTableItems(table, resource, []any{item}, false); err != nil {
			return err
		}
	}
	return nil
}

// computeAndUpdateTable computes the table from the resource hints, checks
// it against the contract and merges what the contract allows into the
// schema. Filters returned by the contract are cached for the following
// items.
func (c *contractCore) computeAndUpdateTable(resource *Resource, table string, item any, items []any, meta any) error {
	computed, err := resource.ComputeTableSchema(item, meta)
	if err != nil {
		return err
	}
	for _, col := range c.writer.tableColumns(items) {
		if existing, found := computed.Columns.Get(col.Name); found {
			col = schema.MergeColumn(col, existing)
		}
		computed.Columns.Set(col)
	}
	computed = c.schema.NormalizeTableIdentifiers(computed)
	computed.Name = table

	contract, found := c.tableContracts[table]
	if !found {
		contract = c.schema.ResolveContractSettingsForTable(table, computed)
		c.tableContracts[table] = contract
	}

	if contract.Columns != schema.ContractEvolve && c.schema.IsNewTable(table) {
		if computed.Normalizer == nil {
			computed.Normalizer = &schema.NormalizerHints{}
		}
		computed.Normalizer.EvolveColumnsOnce = true
	}

	diff := computed
	existing, exists := c.schema.Table(table)
	if exists {
		if diff, err = schema.DiffTable(c.schema.Name(), existing, computed); err != nil {
			return err
		}
	}

	diff, filters, err := c.schema.ApplySchemaContract(contract, diff, item)
	if err != nil {
		return err
	}
	if diff != nil {
		if _, err := c.schema.UpdateTable(diff, false, exists); err != nil {
			return fmt.Errorf("updating table %s: %w", table, err)
		}
	}

	for _, f := range filters {
		c.logger.Warn(nil, "schema contract filter", loglib.Fields{
			loglib.TableField:    table,
			loglib.ContractField: string(f.Mode),
			"entity":             string(f.Entity),
			"name":               f.Name,
		})
		switch f.Entity {
		case schema.EntityTables:
			c.filteredTables[f.Name] = struct{}{}
		case schema.EntityColumns:
			if c.filteredColumns[table] == nil {
				c.filteredColumns[table] = map[string]schema.ContractMode{}
			}
			c.filteredColumns[table][f.Name] = f.Mode
		}
	}
	return nil
}

func (c *contractCore) isFilteredTable(table string) bool {
	_, filtered := c.filteredTables[table]
	return filtered
}

func (c *contractCore) resetContractsCache() {
	clear(c.tableContracts)
	clear(c.filteredTables)
	clear(c.filteredColumns)
}

// writeDataItem writes the items to the item storage and tracks the resource.
func (c *contractCore) writeDataItem(table string, resource *Resource, items []any, materialized, alwaysTrack bool) error {
	count, err := c.storage.WriteDataItem(c.loadID, c.schema.Name(), table, items)
	if err != nil {
		return fmt.Errorf("writing items of table %s: %w", table, err)
	}
	c.tableCounts[table] += count
	switch {
	case count > 0 || alwaysTrack:
		c.resourcesWithItems[resource.Name()] = struct{}{}
	case materialized:
		c.resourcesWithEmpty[resource.Name()] = struct{}{}
	}
	c.logger.Trace("items written", loglib.Fields{
		loglib.TableField:    table,
		loglib.ResourceField: resource.Name(),
		loglib.RowCountField: count,
	})
	return nil
}

func (c *contractCore) WriteEmptyItemsFile(tableName string) error {
	table := c.names.NormalizeTableIdentifier(tableName)
	return c.storage.WriteEmptyItemsFile(c.loadID, c.schema.Name(), table)
}

func (c *contractCore) ResourcesWithItems() []string {
	return sortedSet(c.resourcesWithItems)
}

func (c *contractCore) ResourcesWithEmpty() []string {
	return sortedSet(c.resourcesWithEmpty)
}

// TableCounts returns the number of items written per table.
func (c *contractCore) TableCounts() map[string]int {
	counts := make(map[string]int, len(c.tableCounts))
	for k, v := range c.tableCounts {
		counts[k] = v
	}
	return counts
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
