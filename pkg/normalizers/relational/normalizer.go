// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"errors"
	"fmt"
	"maps"
	"reflect"

	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/naming"
	"github.com/xataio/relnorm/pkg/schema"
)

// Columns added by the normalizer, before normalization with the schema
// naming convention.
const (
	ColumnDltRootID   = "_dlt_root_id"
	ColumnDltParentID = "_dlt_parent_id"
	ColumnDltListIdx  = "_dlt_list_idx"
	ColumnValue       = "value"

	// listWrapperKey wraps lists found inside lists so they get a tracking
	// table of their own
	listWrapperKey = "list"
)

// TableIdentity is the table a row belongs to and its parent table, empty
// for root tables.
type TableIdentity struct {
	Name   string
	Parent string
}

func (t TableIdentity) IsRoot() bool {
	return t.Parent == ""
}

// DescendDecision tells the normalizer whether to process the nested tables
// of the row just visited.
type DescendDecision int

const (
	Descend DescendDecision = iota
	Skip
)

// RowVisitor is called with every row produced from an item, parents before
// their nested rows. The row can be modified by the visitor. Returning Skip
// prunes all the nested rows of the visited row. Returning an error aborts
// the normalization of the item.
type RowVisitor func(table TableIdentity, row schema.Row) (DescendDecision, error)

type NormalizedRow struct {
	Table TableIdentity
	Row   schema.Row
}

// Normalizer turns nested records into rows of a root table and of nested
// tables, one per list found in the record. It is bound to one schema and is
// not safe for concurrent use.
type Normalizer struct {
	schema *schema.Schema
	logger loglib.Logger
	names  *naming.Cache

	cDltID       string
	cDltLoadID   string
	cDltRootID   string
	cDltParentID string
	cDltListIdx  string
	cValue       string

	tables *tableView
}

type Option func(*Normalizer)

func WithLogger(l loglib.Logger) Option {
	return func(n *Normalizer) {
		n.logger = loglib.NewModuleLogger(l, "relational_normalizer")
	}
}

// New creates a normalizer for the schema, validating the normalizer config
// stored in it. The normalizer registers itself with the schema and extends
// it with the hints for the system columns.
func New(s *schema.Schema, opts ...Option) (*Normalizer, error) {
	if err := ensureRelationalNormalizer(s); err != nil {
		return nil, err
	}
	conv := s.Naming()
	if conv == nil {
		return nil, ErrMissingNaming
	}

	n := &Normalizer{
		schema:       s,
		logger:       loglib.NewNoopLogger(),
		names:        naming.NewCache(s.InstanceID().String(), conv),
		cDltID:       conv.NormalizeIdentifier(schema.ColumnDltID),
		cDltLoadID:   conv.NormalizeIdentifier(schema.ColumnDltLoadID),
		cDltRootID:   conv.NormalizeIdentifier(ColumnDltRootID),
		cDltParentID: conv.NormalizeIdentifier(ColumnDltParentID),
		cDltListIdx:  conv.NormalizeIdentifier(ColumnDltListIdx),
		cValue:       conv.NormalizeIdentifier(ColumnValue),
	}
	for _, opt := range opts {
		opt(n)
	}

	s.SetItemNormalizer(n)
	if err := n.ExtendSchema(); err != nil {
		return nil, err
	}
	return n, nil
}

// ExtendSchema normalizes and validates the normalizer config, adds the
// default hints of the system columns and extends all the tables.
func (n *Normalizer) ExtendSchema() error {
	cfg, err := GetNormalizerConfig(n.schema)
	if err != nil {
		return err
	}
	// rewrite the config with normalized identifiers
	if err := UpdateNormalizerConfig(n.schema, cfg); err != nil {
		return err
	}

	if err := n.schema.MergeHints(map[schema.Hint][]string{
		schema.HintNotNull: {
			n.cDltID, n.cDltRootID, n.cDltParentID, n.cDltListIdx, n.cDltLoadID,
		},
		schema.HintParentKey: {n.cDltParentID},
		schema.HintRootKey:   {n.cDltRootID},
		schema.HintUnique:    {n.cDltID},
		schema.HintRowKey:    {n.cDltID},
	}); err != nil {
		return err
	}

	for _, name := range n.schema.TableNames() {
		n.ExtendTable(name)
	}
	return nil
}

// ExtendTable propagates the row id of root tables using the merge write
// disposition as the root key of all their nested rows.
func (n *Normalizer) ExtendTable(tableName string) {
	table, found := n.schema.Table(tableName)
	if !found || table.IsNested() || table.WriteDisposition != schema.WriteDispositionMerge {
		return
	}
	err := UpdateNormalizerConfig(n.schema, &Config{
		Propagation: &PropagationConfig{
			Tables: map[string]map[string]string{
				tableName: {n.cDltID: n.cDltRootID},
			},
		},
	})
	if err != nil {
		n.logger.Error(err, "extending table propagation", loglib.Fields{loglib.TableField: tableName})
	}
}

// NormalizeItemRows normalizes the item and returns all the rows, always
// descending into nested tables.
func (n *Normalizer) NormalizeItemRows(item any, loadID, tableName string) ([]NormalizedRow, error) {
	rows := []NormalizedRow{}
	err := n.NormalizeItem(item, loadID, tableName, func(table TableIdentity, row schema.Row) (DescendDecision, error) {
		rows = append(rows, NormalizedRow{Table: table, Row: row})
		return Descend, nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type frameKind uint8

const (
	rowFrame frameKind = iota
	listFrame
)

// frame is a pending unit of work of the walk. Row frames hold a record to
// flatten into one row, list frames iterate over the elements of a nested
// list. Frames are processed from a stack, which yields parent rows first
// and then the nested rows depth first, in list order.
type frame struct {
	kind frameKind

	record map[string]any
	items  []any
	next   int

	identPath  []string
	parentPath []string
	parentID   string
	pos        int
	depth      int
	isRoot     bool
	// extend holds the values propagated from the ancestors. It is never
	// modified, frames adding propagated values get a copy.
	extend schema.Row
}

// NormalizeItem normalizes one item into rows of the root table and its
// nested tables, calling the visitor with every row. Items that are not
// mappings are wrapped in a value column. The load id is stamped on the
// root row. The item itself is not modified.
func (n *Normalizer) NormalizeItem(item any, loadID, tableName string, visit RowVisitor) error {
	n.names.Scope(n.schema.InstanceID().String(), n.schema.Naming())

	record, ok := asMap(item)
	if ok {
		record = maps.Clone(record)
	} else {
		record = map[string]any{n.cValue: item}
	}
	record[n.cDltLoadID] = loadID

	rootTable := n.names.NormalizeTableIdentifier(tableName)
	stack := []frame{{
		kind:      rowFrame,
		record:    record,
		identPath: []string{rootTable},
		depth:     n.tableNesting(rootTable),
		isRoot:    true,
		extend:    schema.Row{},
	}}

	for len(stack) > 0 {
		top := len(stack) - 1
		if stack[top].kind == listFrame {
			if stack[top].next >= len(stack[top].items) {
				stack = stack[:top]
				continue
			}
			lf := stack[top]
			stack[top].next++
			next, err := n.listElement(lf, visit)
			if err != nil {
				return err
			}
			if next != nil {
				stack = append(stack, *next)
			}
			continue
		}

		rf := stack[top]
		stack = stack[:top]
		children, err := n.normalizeRow(rf, visit)
		if err != nil {
			return err
		}
		// reversed so the first list is processed first
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// listElement processes the next element of a list frame. Mappings and
// lists return a row frame to process, scalars are wrapped in a value column
// and visited right away.
func (n *Normalizer) listElement(lf frame, visit RowVisitor) (*frame, error) {
	idx := lf.next
	elem := lf.items[idx]

	if m, ok := asMap(elem); ok {
		return &frame{
			kind:       rowFrame,
			record:     m,
			identPath:  lf.identPath,
			parentPath: lf.parentPath,
			parentID:   lf.parentID,
			pos:        idx,
			depth:      lf.depth,
			extend:     lf.extend,
		}, nil
	}
	if l, ok := asList(elem); ok {
		return &frame{
			kind:       rowFrame,
			record:     map[string]any{listWrapperKey: l},
			identPath:  lf.identPath,
			parentPath: lf.parentPath,
			parentID:   lf.parentID,
			pos:        idx,
			depth:      lf.depth - 1,
			extend:     lf.extend,
		}, nil
	}

	table := n.names.ShortenFragments(appendPath(lf.parentPath, lf.identPath...)...)
	row := schema.Row{n.cValue: elem}
	maps.Copy(row, lf.extend)
	if _, err := n.addRowID(table, row, row, lf.parentID, idx, false); err != nil {
		return nil, err
	}
	// scalars have no nested tables, the decision is irrelevant
	if _, err := visit(TableIdentity{Name: table, Parent: n.names.ShortenFragments(lf.parentPath...)}, row); err != nil {
		return nil, err
	}
	return nil, nil
}

// normalizeRow flattens the record of the frame into a row, assigns its id,
// visits it and returns the list frames of its nested tables unless the
// visitor skipped them.
func (n *Normalizer) normalizeRow(rf frame, visit RowVisitor) ([]frame, error) {
	path := appendPath(rf.parentPath, rf.identPath...)
	table := n.names.ShortenFragments(path...)

	row, lists, err := n.flatten(table, rf.record, rf.depth)
	if err != nil {
		return nil, err
	}
	maps.Copy(row, rf.extend)

	rowID, hasID := existingRowID(row[n.cDltID])
	if !hasID {
		if rowID, err = n.addRowID(table, rf.record, row, rf.parentID, rf.pos, rf.isRoot); err != nil {
			return nil, err
		}
	}

	extend := rf.extend
	if propagated := n.propagatedValues(table, row, rf.isRoot); len(propagated) > 0 {
		extend = maps.Clone(rf.extend)
		maps.Copy(extend, propagated)
	}

	identity := TableIdentity{Name: table, Parent: n.names.ShortenFragments(rf.parentPath...)}
	decision, err := visit(identity, row)
	if err != nil {
		return nil, err
	}
	if decision == Skip || len(lists) == 0 {
		return nil, nil
	}

	children := make([]frame, 0, len(lists))
	for _, l := range lists {
		children = append(children, frame{
			kind:       listFrame,
			items:      l.items,
			identPath:  l.path,
			parentPath: path,
			parentID:   rowID,
			depth:      rf.depth - 1,
			extend:     extend,
		})
	}
	return children, nil
}

// existingRowID returns the row id set by the item itself. Zero values such
// as 0, false or empty containers are not ids.
func existingRowID(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return id, id != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "", false
		}
	default:
		if rv.IsZero() {
			return "", false
		}
	}
	return fmt.Sprint(v), true
}

// addRowID computes the id of the row according to the row id type of the
// table and stores it in the flattened row. Nested rows linked to their
// parent also get the parent id and list position.
func (n *Normalizer) addRowID(table string, record map[string]any, row schema.Row, parentID string, pos int, isRoot bool) (string, error) {
	var rowID string
	if isRoot {
		switch n.rootRowIDType(table) {
		case RowIDKeyHash:
			id, err := KeyHash(row, n.primaryKey(table))
			if err != nil {
				var pkErr *PrimaryKeyMissingError
				if errors.As(err, &pkErr) {
					pkErr.Table = table
				}
				return "", err
			}
			rowID = id
		case RowIDRowHash:
			// hashing the record instead of the flattened row makes changes
			// in nested tables produce a new id
			id, err := RowHash(record, nil)
			if err != nil {
				return "", err
			}
			rowID = id
		default:
			rowID = GenerateID()
		}
	} else {
		idType, link := n.nestedRowIDType(table)
		if idType == RowIDRowHash {
			rowID = NestedRowHash(parentID, table, pos)
			if link {
				row[n.cDltParentID] = parentID
				row[n.cDltListIdx] = pos
			}
		} else {
			rowID = GenerateID()
		}
	}
	row[n.cDltID] = rowID
	return rowID, nil
}

// propagatedValues returns the values of the row to copy into its nested
// rows, renamed per the propagation config.
func (n *Normalizer) propagatedValues(table string, row schema.Row, isRoot bool) schema.Row {
	propagation := n.view().config.Propagation
	if propagation == nil {
		return nil
	}
	mappings := map[string]string{}
	if isRoot {
		maps.Copy(mappings, propagation.Root)
	}
	maps.Copy(mappings, propagation.Tables[table])

	var extend schema.Row
	for from, as := range mappings {
		if v, found := row[from]; found {
			if extend == nil {
				extend = schema.Row{}
			}
			extend[as] = v
		}
	}
	return extend
}
