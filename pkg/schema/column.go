// SPDX-License-Identifier: Apache-2.0

package schema

import "slices"

type DataType string

const (
	TypeText      DataType = "text"
	TypeBigint    DataType = "bigint"
	TypeDouble    DataType = "double"
	TypeBool      DataType = "bool"
	TypeTimestamp DataType = "timestamp"
	TypeDate      DataType = "date"
	TypeTime      DataType = "time"
	TypeDecimal   DataType = "decimal"
	TypeBinary    DataType = "binary"
	TypeJSON      DataType = "json"
	TypeWei       DataType = "wei"
)

var dataTypes = []DataType{
	TypeText, TypeBigint, TypeDouble, TypeBool, TypeTimestamp, TypeDate,
	TypeTime, TypeDecimal, TypeBinary, TypeJSON, TypeWei,
}

func (d DataType) IsValid() bool {
	return slices.Contains(dataTypes, d)
}

// Hint is a column property that can be inferred from the column name using
// the schema default hints.
type Hint string

const (
	HintNotNull    Hint = "not_null"
	HintPrimaryKey Hint = "primary_key"
	HintMergeKey   Hint = "merge_key"
	HintUnique     Hint = "unique"
	HintParentKey  Hint = "parent_key"
	HintRootKey    Hint = "root_key"
	HintRowKey     Hint = "row_key"
	HintHardDelete Hint = "hard_delete"
	HintDedupSort  Hint = "dedup_sort"
)

// columnHints are applied in this order when inferring a new column.
var columnHints = []Hint{
	HintPrimaryKey, HintMergeKey, HintUnique, HintParentKey, HintRootKey,
	HintRowKey, HintHardDelete, HintDedupSort,
}

type Column struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	DataType   DataType `yaml:"data_type,omitempty" mapstructure:"data_type"`
	Nullable   *bool    `yaml:"nullable,omitempty" mapstructure:"nullable"`
	PrimaryKey bool     `yaml:"primary_key,omitempty" mapstructure:"primary_key"`
	MergeKey   bool     `yaml:"merge_key,omitempty" mapstructure:"merge_key"`
	Unique     bool     `yaml:"unique,omitempty" mapstructure:"unique"`
	ParentKey  bool     `yaml:"parent_key,omitempty" mapstructure:"parent_key"`
	RootKey    bool     `yaml:"root_key,omitempty" mapstructure:"root_key"`
	RowKey     bool     `yaml:"row_key,omitempty" mapstructure:"row_key"`
	RowVersion bool     `yaml:"x-row-version,omitempty" mapstructure:"row_version"`
	HardDelete bool     `yaml:"hard_delete,omitempty" mapstructure:"hard_delete"`
	DedupSort  bool     `yaml:"dedup_sort,omitempty" mapstructure:"dedup_sort"`
	Variant    bool     `yaml:"variant,omitempty" mapstructure:"-"`
}

// IsNullable defaults to true when nullability was never set.
func (c *Column) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// IsComplete reports whether the column has a data type. Incomplete columns
// only carry hints and are completed once data is seen.
func (c *Column) IsComplete() bool {
	return c.DataType != ""
}

func (c *Column) HasHint(h Hint) bool {
	switch h {
	case HintNotNull:
		return !c.IsNullable()
	case HintPrimaryKey:
		return c.PrimaryKey
	case HintMergeKey:
		return c.MergeKey
	case HintUnique:
		return c.Unique
	case HintParentKey:
		return c.ParentKey
	case HintRootKey:
		return c.RootKey
	case HintRowKey:
		return c.RowKey
	case HintHardDelete:
		return c.HardDelete
	case HintDedupSort:
		return c.DedupSort
	default:
		return false
	}
}

func (c *Column) SetHint(h Hint) {
	switch h {
	case HintNotNull:
		c.Nullable = boolPtr(false)
	case HintPrimaryKey:
		c.PrimaryKey = true
	case HintMergeKey:
		c.MergeKey = true
	case HintUnique:
		c.Unique = true
	case HintParentKey:
		c.ParentKey = true
	case HintRootKey:
		c.RootKey = true
	case HintRowKey:
		c.RowKey = true
	case HintHardDelete:
		c.HardDelete = true
	case HintDedupSort:
		c.DedupSort = true
	}
}

func (c *Column) Clone() *Column {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Nullable != nil {
		clone.Nullable = boolPtr(*c.Nullable)
	}
	return &clone
}

func (c *Column) Equal(other *Column) bool {
	if c == nil || other == nil {
		return c == other
	}
	a, b := *c, *other
	a.Nullable, b.Nullable = nil, nil
	return a == b && c.IsNullable() == other.IsNullable()
}

// MergeColumn returns a copy of dst updated with the properties set on src.
// Hints are additive, data type and nullability are taken from src when set.
func MergeColumn(dst, src *Column) *Column {
	merged := dst.Clone()
	if src.DataType != "" {
		merged.DataType = src.DataType
	}
	if src.Nullable != nil {
		merged.Nullable = boolPtr(*src.Nullable)
	}
	for _, h := range columnHints {
		if src.HasHint(h) {
			merged.SetHint(h)
		}
	}
	merged.RowVersion = merged.RowVersion || src.RowVersion
	merged.Variant = merged.Variant || src.Variant
	return merged
}

func boolPtr(b bool) *bool {
	return &b
}

// Columns keeps table columns in insertion order.
type Columns struct {
	names []string
	byKey map[string]*Column
}

func NewColumns(cols ...*Column) Columns {
	c := Columns{}
	for _, col := range cols {
		c.Set(col)
	}
	return c
}

func (c *Columns) Get(name string) (*Column, bool) {
	if c == nil || c.byKey == nil {
		return nil, false
	}
	col, found := c.byKey[name]
	return col, found
}

// Set adds the column, or replaces the existing one with the same name
// keeping its position.
func (c *Columns) Set(col *Column) {
	if c.byKey == nil {
		c.byKey = make(map[string]*Column)
	}
	if _, found := c.byKey[col.Name]; !found {
		c.names = append(c.names, col.Name)
	}
	c.byKey[col.Name] = col
}

func (c *Columns) Delete(name string) {
	if _, found := c.Get(name); !found {
		return
	}
	delete(c.byKey, name)
	c.names = slices.DeleteFunc(c.names, func(n string) bool { return n == name })
}

func (c *Columns) Names() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.names)
}

func (c *Columns) All() []*Column {
	if c == nil {
		return nil
	}
	cols := make([]*Column, 0, len(c.names))
	for _, name := range c.names {
		cols = append(cols, c.byKey[name])
	}
	return cols
}

func (c *Columns) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

func (c *Columns) Clone() Columns {
	clone := Columns{}
	for _, col := range c.All() {
		clone.Set(col.Clone())
	}
	return clone
}
