// SPDX-License-Identifier: Apache-2.0

package schema

import "slices"

type WriteDisposition string

const (
	WriteDispositionAppend  WriteDisposition = "append"
	WriteDispositionReplace WriteDisposition = "replace"
	WriteDispositionMerge   WriteDisposition = "merge"
	WriteDispositionSkip    WriteDisposition = "skip"
)

const DefaultWriteDisposition = WriteDispositionAppend

func (w WriteDisposition) IsValid() bool {
	switch w {
	case WriteDispositionAppend, WriteDispositionReplace, WriteDispositionMerge, WriteDispositionSkip:
		return true
	default:
		return false
	}
}

type MergeStrategy string

const (
	MergeStrategyDeleteInsert MergeStrategy = "delete-insert"
	MergeStrategyUpsert       MergeStrategy = "upsert"
	MergeStrategySCD2         MergeStrategy = "scd2"
)

const DefaultMergeStrategy = MergeStrategyDeleteInsert

func (m MergeStrategy) IsValid() bool {
	switch m {
	case MergeStrategyDeleteInsert, MergeStrategyUpsert, MergeStrategySCD2:
		return true
	default:
		return false
	}
}

// TableFilters hold simple regexes matched against column paths. Includes
// are exceptions to excludes.
type TableFilters struct {
	Excludes []string `yaml:"excludes,omitempty"`
	Includes []string `yaml:"includes,omitempty"`
}

// NormalizerHints are table level settings read by the item normalizers.
type NormalizerHints struct {
	MaxNesting        *int `yaml:"max_nesting,omitempty"`
	EvolveColumnsOnce bool `yaml:"evolve-columns-once,omitempty"`
	SeenData          bool `yaml:"seen-data,omitempty"`
}

type Table struct {
	Name             string           `yaml:"name"`
	Parent           string           `yaml:"parent,omitempty"`
	Description      string           `yaml:"description,omitempty"`
	WriteDisposition WriteDisposition `yaml:"write_disposition,omitempty"`
	MergeStrategy    MergeStrategy    `yaml:"x-merge-strategy,omitempty"`
	Resource         string           `yaml:"resource,omitempty"`
	SchemaContract   *Contract        `yaml:"schema_contract,omitempty"`
	Filters          *TableFilters    `yaml:"filters,omitempty"`
	Columns          Columns          `yaml:"columns"`
	Normalizer       *NormalizerHints `yaml:"x-normalizer,omitempty"`
}

// NewTable creates a table. Root tables get the default write disposition,
// nested tables inherit it from their root.
func NewTable(name, parent string, cols ...*Column) *Table {
	t := &Table{
		Name:    name,
		Parent:  parent,
		Columns: NewColumns(cols...),
	}
	if parent == "" {
		t.WriteDisposition = DefaultWriteDisposition
	}
	return t
}

func (t *Table) IsNested() bool {
	return t.Parent != ""
}

func (t *Table) HasCompleteColumns() bool {
	for _, c := range t.Columns.All() {
		if c.IsComplete() {
			return true
		}
	}
	return false
}

// ColumnsWithHint returns the names of the columns with the hint, including
// incomplete columns.
func (t *Table) ColumnsWithHint(h Hint) []string {
	names := []string{}
	for _, c := range t.Columns.All() {
		if c.HasHint(h) {
			names = append(names, c.Name)
		}
	}
	return names
}

func (t *Table) HasSeenData() bool {
	return t.Normalizer != nil && t.Normalizer.SeenData
}

func (t *Table) EvolveColumnsOnce() bool {
	return t.Normalizer != nil && t.Normalizer.EvolveColumnsOnce
}

func (t *Table) MaxNesting() (int, bool) {
	if t.Normalizer == nil || t.Normalizer.MaxNesting == nil {
		return 0, false
	}
	return *t.Normalizer.MaxNesting, true
}

// WithoutColumns returns a copy of the table properties with no columns.
func (t *Table) WithoutColumns() *Table {
	clone := t.Clone()
	clone.Columns = Columns{}
	return clone
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Columns = t.Columns.Clone()
	if t.SchemaContract != nil {
		contract := *t.SchemaContract
		clone.SchemaContract = &contract
	}
	if t.Filters != nil {
		clone.Filters = &TableFilters{
			Excludes: slices.Clone(t.Filters.Excludes),
			Includes: slices.Clone(t.Filters.Includes),
		}
	}
	if t.Normalizer != nil {
		hints := *t.Normalizer
		if t.Normalizer.MaxNesting != nil {
			maxNesting := *t.Normalizer.MaxNesting
			hints.MaxNesting = &maxNesting
		}
		clone.Normalizer = &hints
	}
	return &clone
}

// MergeTable merges the partial table into a copy of the table. Columns are
// merged one by one, table properties set on the partial override the
// existing ones. Incompatible tables return an error.
func MergeTable(schemaName string, table, partial *Table) (*Table, error) {
	if err := ensureCompatibleTables(schemaName, table, partial); err != nil {
		return nil, err
	}
	return mergeDiff(table, partial), nil
}

// mergeDiff merges a partial table computed with DiffTable, which is known to
// be compatible.
func mergeDiff(table, partial *Table) *Table {
	merged := table.Clone()
	mergeTableProperties(merged, partial)
	for _, col := range partial.Columns.All() {
		if existing, found := merged.Columns.Get(col.Name); found {
			merged.Columns.Set(MergeColumn(existing, col))
			continue
		}
		merged.Columns.Set(col.Clone())
	}
	return merged
}

// DiffTable returns a partial table with the columns and table properties of
// b that are new or different from a.
func DiffTable(schemaName string, a, b *Table) (*Table, error) {
	if err := ensureCompatibleTables(schemaName, a, b); err != nil {
		return nil, err
	}

	partial := &Table{Name: a.Name, Parent: a.Parent}
	for _, col := range b.Columns.All() {
		existing, found := a.Columns.Get(col.Name)
		if !found {
			partial.Columns.Set(col.Clone())
			continue
		}
		if merged := MergeColumn(existing, col); !merged.Equal(existing) {
			partial.Columns.Set(merged)
		}
	}

	if b.Description != "" && b.Description != a.Description {
		partial.Description = b.Description
	}
	if b.WriteDisposition != "" && b.WriteDisposition != a.WriteDisposition {
		partial.WriteDisposition = b.WriteDisposition
	}
	if b.MergeStrategy != "" && b.MergeStrategy != a.MergeStrategy {
		partial.MergeStrategy = b.MergeStrategy
	}
	if b.Resource != "" && b.Resource != a.Resource {
		partial.Resource = b.Resource
	}
	if b.SchemaContract != nil && (a.SchemaContract == nil || *a.SchemaContract != *b.SchemaContract) {
		contract := *b.SchemaContract
		partial.SchemaContract = &contract
	}
	if b.Filters != nil {
		partial.Filters = b.Clone().Filters
	}
	if b.Normalizer != nil {
		partial.Normalizer = b.Clone().Normalizer
	}
	return partial, nil
}

func mergeTableProperties(dst, src *Table) {
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.WriteDisposition != "" {
		dst.WriteDisposition = src.WriteDisposition
	}
	if src.MergeStrategy != "" {
		dst.MergeStrategy = src.MergeStrategy
	}
	if src.Resource != "" {
		dst.Resource = src.Resource
	}
	if src.SchemaContract != nil {
		contract := *src.SchemaContract
		dst.SchemaContract = &contract
	}
	if src.Filters != nil {
		dst.Filters = src.Clone().Filters
	}
	if src.Normalizer != nil {
		if dst.Normalizer == nil {
			dst.Normalizer = &NormalizerHints{}
		}
		if src.Normalizer.MaxNesting != nil {
			maxNesting := *src.Normalizer.MaxNesting
			dst.Normalizer.MaxNesting = &maxNesting
		}
		dst.Normalizer.EvolveColumnsOnce = dst.Normalizer.EvolveColumnsOnce || src.Normalizer.EvolveColumnsOnce
		dst.Normalizer.SeenData = dst.Normalizer.SeenData || src.Normalizer.SeenData
	}
}

func ensureCompatibleTables(schemaName string, a, b *Table) error {
	if a.Name != b.Name {
		return &TablePropertiesConflictError{
			Schema:   schemaName,
			Table:    a.Name,
			Property: "name",
			Existing: a.Name,
			New:      b.Name,
		}
	}
	if a.Parent != b.Parent {
		return &TablePropertiesConflictError{
			Schema:   schemaName,
			Table:    a.Name,
			Property: "parent",
			Existing: a.Parent,
			New:      b.Parent,
		}
	}
	for _, colB := range b.Columns.All() {
		colA, found := a.Columns.Get(colB.Name)
		if !found || !colA.IsComplete() || !colB.IsComplete() {
			continue
		}
		if colA.DataType != colB.DataType {
			return &CannotCoerceColumnError{
				Schema:   schemaName,
				Table:    a.Name,
				Column:   colB.Name,
				FromType: colB.DataType,
				ToType:   colA.DataType,
			}
		}
	}
	return nil
}
