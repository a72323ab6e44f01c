// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"github.com/xataio/relnorm/pkg/schema"
)

// RowIDType is the way the id of a row is computed.
type RowIDType string

const (
	RowIDRandom  RowIDType = "random"
	RowIDKeyHash RowIDType = "key_hash"
	RowIDRowHash RowIDType = "row_hash"
)

type nestedRowID struct {
	idType RowIDType
	link   bool
}

type nestedTypeKey struct {
	table  string
	column string
}

// tableView holds the values derived from the schema tables and config. It is
// valid for a single schema revision and rebuilt lazily when the schema
// changes.
type tableView struct {
	revision uint64
	config   *Config

	rootIDTypes   map[string]RowIDType
	nestedIDTypes map[string]nestedRowID
	primaryKeys   map[string][]string
	nesting       map[string]int
	nestedTypes   map[nestedTypeKey]bool
}

func (n *Normalizer) view() *tableView {
	revision := n.schema.Revision()
	if n.tables != nil && n.tables.revision == revision {
		return n.tables
	}
	cfg, err := GetNormalizerConfig(n.schema)
	if err != nil {
		// the config was validated when the normalizer was created and on
		// every update since
		n.logger.Error(err, "reading normalizer config, using defaults")
		cfg = &Config{}
	}
	n.tables = &tableView{
		revision:      revision,
		config:        cfg,
		rootIDTypes:   map[string]RowIDType{},
		nestedIDTypes: map[string]nestedRowID{},
		primaryKeys:   map[string][]string{},
		nesting:       map[string]int{},
		nestedTypes:   map[nestedTypeKey]bool{},
	}
	return n.tables
}

// rootRowIDType returns key_hash for upsert tables, row_hash for scd2 tables
// versioning rows with the row id and random otherwise.
func (n *Normalizer) rootRowIDType(table string) RowIDType {
	v := n.view()
	if idType, found := v.rootIDTypes[table]; found {
		return idType
	}
	idType := RowIDRandom
	switch n.schema.MergeStrategy(table) {
	case schema.MergeStrategyUpsert:
		idType = RowIDKeyHash
	case schema.MergeStrategySCD2:
		if t, found := n.schema.Table(table); found {
			// only the first row version column counts
			for _, c := range t.Columns.All() {
				if c.RowVersion {
					if c.Name == n.cDltID {
						idType = RowIDRowHash
					}
					break
				}
			}
		}
	}
	v.rootIDTypes[table] = idType
	return idType
}

// nestedRowIDType returns the id type of the rows of a nested table and
// whether they are linked to their parent row. Rows of known root tables not
// using a hashed merge strategy get random ids. Everything else gets a
// deterministic id derived from the parent id and the list position.
func (n *Normalizer) nestedRowIDType(table string) (RowIDType, bool) {
	v := n.view()
	if r, found := v.nestedIDTypes[table]; found {
		return r.idType, r.link
	}
	r := nestedRowID{idType: RowIDRowHash, link: true}
	if t, found := n.schema.Table(table); found && !t.IsNested() {
		switch n.schema.MergeStrategy(table) {
		case schema.MergeStrategyUpsert, schema.MergeStrategySCD2:
		default:
			r = nestedRowID{idType: RowIDRandom}
		}
	}
	v.nestedIDTypes[table] = r
	return r.idType, r.link
}

func (n *Normalizer) primaryKey(table string) []string {
	v := n.view()
	if pk, found := v.primaryKeys[table]; found {
		return pk
	}
	pk := n.schema.PrimaryKey(table)
	v.primaryKeys[table] = pk
	return pk
}

// tableNesting returns the depth budget of the root table, set with the
// table max_nesting hint or the normalizer config.
func (n *Normalizer) tableNesting(table string) int {
	v := n.view()
	if depth, found := v.nesting[table]; found {
		return depth
	}
	depth := v.config.maxNesting()
	if t, found := n.schema.Table(table); found {
		if maxNesting, ok := t.MaxNesting(); ok {
			depth = maxNesting
		}
	}
	v.nesting[table] = depth
	return depth
}

// isNestedType reports whether a container value must be kept as is rather
// than flattened or turned into a nested table: the depth budget is spent or
// the column is typed as json.
func (n *Normalizer) isNestedType(table, column string, depth int) bool {
	if depth <= 0 {
		return true
	}
	v := n.view()
	key := nestedTypeKey{table: table, column: column}
	if isJSON, found := v.nestedTypes[key]; found {
		return isJSON
	}
	dataType := n.schema.PreferredType(column)
	if t, found := n.schema.Table(table); found {
		if c, found := t.Columns.Get(column); found && c.IsComplete() {
			dataType = c.DataType
		}
	}
	isJSON := dataType == schema.TypeJSON
	v.nestedTypes[key] = isJSON
	return isJSON
}
