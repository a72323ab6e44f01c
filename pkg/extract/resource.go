// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/xataio/relnorm/pkg/schema"
)

// TableHints are the table properties applied to the tables a resource
// writes to.
type TableHints struct {
	TableName         string                  `mapstructure:"table_name"`
	// TableNameTemplate resolves the table name from each item. The item is
	// the template data, sprig functions are available.
	TableNameTemplate string                  `mapstructure:"table_name_template"`
	Parent            string                  `mapstructure:"parent"`
	Description       string                  `mapstructure:"description"`
	WriteDisposition  schema.WriteDisposition `mapstructure:"write_disposition"`
	MergeStrategy     schema.MergeStrategy    `mapstructure:"merge_strategy"`
	PrimaryKey        []string                `mapstructure:"primary_key"`
	MergeKey          []string                `mapstructure:"merge_key"`
	Columns           []*schema.Column        `mapstructure:"columns"`
	SchemaContract    *schema.Contract        `mapstructure:"-"`
	MaxNesting        *int                    `mapstructure:"max_nesting"`
}

func (h TableHints) validate() error {
	if h.WriteDisposition != "" && !h.WriteDisposition.IsValid() {
		return fmt.Errorf("%w: write disposition %q", ErrInvalidHints, h.WriteDisposition)
	}
	if h.MergeStrategy != "" && !h.MergeStrategy.IsValid() {
		return fmt.Errorf("%w: merge strategy %q", ErrInvalidHints, h.MergeStrategy)
	}
	if h.MaxNesting != nil && *h.MaxNesting < 0 {
		return fmt.Errorf("%w: negative max nesting", ErrInvalidHints)
	}
	if h.SchemaContract != nil {
		if err := h.SchemaContract.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHints, err)
		}
	}
	for _, c := range h.Columns {
		if c == nil || strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: column without name", ErrInvalidHints)
		}
	}
	return nil
}

// merge returns a copy of the hints with the values set in update.
func (h TableHints) merge(update TableHints) TableHints {
	merged := h.clone()
	if update.TableName != "" {
		merged.TableName = update.TableName
	}
	if update.TableNameTemplate != "" {
		merged.TableNameTemplate = update.TableNameTemplate
	}
	if update.Parent != "" {
		merged.Parent = update.Parent
	}
	if update.Description != "" {
		merged.Description = update.Description
	}
	if update.WriteDisposition != "" {
		merged.WriteDisposition = update.WriteDisposition
	}
	if update.MergeStrategy != "" {
		merged.MergeStrategy = update.MergeStrategy
	}
	if update.PrimaryKey != nil {
		merged.PrimaryKey = slices.Clone(update.PrimaryKey)
	}
	if update.MergeKey != nil {
		merged.MergeKey = slices.Clone(update.MergeKey)
	}
	if update.SchemaContract != nil {
		contract := *update.SchemaContract
		merged.SchemaContract = &contract
	}
	if update.MaxNesting != nil {
		maxNesting := *update.MaxNesting
		merged.MaxNesting = &maxNesting
	}
	for _, c := range update.Columns {
		idx := slices.IndexFunc(merged.Columns, func(existing *schema.Column) bool { return existing.Name == c.Name })
		if idx < 0 {
			merged.Columns = append(merged.Columns, c.Clone())
			continue
		}
		merged.Columns[idx] = schema.MergeColumn(merged.Columns[idx], c)
	}
	return merged
}

func (h TableHints) clone() TableHints {
	clone := h
	clone.PrimaryKey = slices.Clone(h.PrimaryKey)
	clone.MergeKey = slices.Clone(h.MergeKey)
	clone.Columns = make([]*schema.Column, 0, len(h.Columns))
	for _, c := range h.Columns {
		clone.Columns = append(clone.Columns, c.Clone())
	}
	if h.SchemaContract != nil {
		contract := *h.SchemaContract
		clone.SchemaContract = &contract
	}
	if h.MaxNesting != nil {
		maxNesting := *h.MaxNesting
		clone.MaxNesting = &maxNesting
	}
	return clone
}

// TableNameFunc resolves the table name of an item.
type TableNameFunc func(item any) (string, error)

// HintsFunc computes hints from an item. The returned hints are merged over
// the resource hints.
type HintsFunc func(item any) (TableHints, error)

// Resource is a named source of items with the hints of the tables the items
// are written to. It is not safe for concurrent use.
type Resource struct {
	name        string
	hints       TableHints
	variants    map[string]TableHints
	tableNameFn TableNameFunc
	hintsFn     HintsFunc
}

type ResourceOption func(*Resource)

// WithTableNameFunc resolves the table name of every item with fn. It takes
// precedence over the table name template.
func WithTableNameFunc(fn TableNameFunc) ResourceOption {
	return func(r *Resource) {
		r.tableNameFn = fn
	}
}

// WithHintsFunc computes additional hints for every item.
func WithHintsFunc(fn HintsFunc) ResourceOption {
	return func(r *Resource) {
		r.hintsFn = fn
	}
}

func NewResource(name string, hints TableHints, opts ...ResourceOption) (*Resource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty resource name", ErrInvalidHints)
	}
	if err := hints.validate(); err != nil {
		return nil, fmt.Errorf("resource %s: %w", name, err)
	}
	r := &Resource{
		name:     name,
		hints:    hints.clone(),
		variants: map[string]TableHints{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tableNameFn == nil && hints.TableNameTemplate != "" {
		fn, err := templateTableName(name, hints.TableNameTemplate)
		if err != nil {
			return nil, err
		}
		r.tableNameFn = fn
	}
	return r, nil
}

func templateTableName(resource, text string) (TableNameFunc, error) {
	tmpl, err := template.New(resource + " table name").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w: parsing table name template: %w", resource, ErrInvalidHints, err)
	}
	return func(item any) (string, error) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, item); err != nil {
			return "", fmt.Errorf("resource %s: resolving table name: %w", resource, err)
		}
		return buf.String(), nil
	}, nil
}

func (r *Resource) Name() string {
	return r.name
}

// Hints returns a copy of the resource hints.
func (r *Resource) Hints() TableHints {
	return r.hints.clone()
}

// TableName returns the static table name of the resource.
func (r *Resource) TableName() string {
	if r.hints.TableName != "" {
		return r.hints.TableName
	}
	return r.name
}

func (r *Resource) HasDynamicTableName() bool {
	return r.tableNameFn != nil
}

// HasOtherDynamicHints reports whether hints other than the table name are
// computed from the items, in which case the table schema is computed for
// every item.
func (r *Resource) HasOtherDynamicHints() bool {
	return r.hintsFn != nil
}

// ResolveTableName returns the table name of the item.
func (r *Resource) ResolveTableName(item any) (string, error) {
	if r.tableNameFn == nil {
		return r.TableName(), nil
	}
	if item == nil {
		return "", fmt.Errorf("resource %s: %w", r.name, ErrDataItemRequired)
	}
	name, err := r.tableNameFn(item)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("resource %s: %w", r.name, ErrEmptyTableName)
	}
	return name, nil
}

// MergeHints updates the resource hints, or the hints of the table variant
// named after the hints table name.
func (r *Resource) MergeHints(hints TableHints, createVariant bool) error {
	if err := hints.validate(); err != nil {
		return fmt.Errorf("resource %s: %w", r.name, err)
	}
	if !createVariant {
		r.hints = r.hints.merge(hints)
		if hints.TableNameTemplate != "" {
			fn, err := templateTableName(r.name, hints.TableNameTemplate)
			if err != nil {
				return err
			}
			r.tableNameFn = fn
		}
		return nil
	}
	if hints.TableName == "" {
		return fmt.Errorf("resource %s: %w", r.name, ErrVariantNameMissing)
	}
	base, found := r.variants[hints.TableName]
	if !found {
		base = r.hints
	}
	r.variants[hints.TableName] = base.merge(hints)
	return nil
}

// ComputeTableSchema builds the table the item is written to from the
// resource hints. Items for dynamic hints must be provided.
func (r *Resource) ComputeTableSchema(item any, meta any) (*schema.Table, error) {
	hints := r.hints
	if m, ok := meta.(TableNameMeta); ok {
		if variant, found := r.variants[m.TableName]; found {
			hints = variant
		}
	}

	if r.hintsFn != nil {
		if item == nil {
			return nil, fmt.Errorf("resource %s: %w", r.name, ErrDataItemRequired)
		}
		dynamic, err := r.hintsFn(item)
		if err != nil {
			return nil, fmt.Errorf("resource %s: computing hints: %w", r.name, err)
		}
		if err := dynamic.validate(); err != nil {
			return nil, fmt.Errorf("resource %s: %w", r.name, err)
		}
		hints = hints.merge(dynamic)
	}

	name := hints.TableName
	if name == "" {
		name = r.name
	}
	if r.tableNameFn != nil {
		var err error
		if name, err = r.ResolveTableName(item); err != nil {
			return nil, err
		}
	}
	return newTableFromHints(name, r.name, hints), nil
}

// Columns added to scd2 tables to track the validity of row versions.
const (
	ColumnValidFrom = "_dlt_valid_from"
	ColumnValidTo   = "_dlt_valid_to"
)

func newTableFromHints(name, resource string, hints TableHints) *schema.Table {
	table := schema.NewTable(name, hints.Parent)
	table.Resource = resource
	table.Description = hints.Description
	if hints.WriteDisposition != "" {
		table.WriteDisposition = hints.WriteDisposition
	}
	if table.WriteDisposition == schema.WriteDispositionMerge {
		table.MergeStrategy = hints.MergeStrategy
	}
	if hints.SchemaContract != nil {
		contract := *hints.SchemaContract
		table.SchemaContract = &contract
	}
	if hints.MaxNesting != nil {
		maxNesting := *hints.MaxNesting
		table.Normalizer = &schema.NormalizerHints{MaxNesting: &maxNesting}
	}
	for _, c := range hints.Columns {
		table.Columns.Set(c.Clone())
	}

	mergeKeys(table, hints.PrimaryKey, func(c *schema.Column) { c.PrimaryKey = true })
	mergeKeys(table, hints.MergeKey, func(c *schema.Column) { c.MergeKey = true })

	if table.MergeStrategy == schema.MergeStrategySCD2 {
		notNull := false
		nullable := true
		for _, validity := range []string{ColumnValidFrom, ColumnValidTo} {
			table.Columns.Set(&schema.Column{Name: validity, DataType: schema.TypeTimestamp, Nullable: &nullable})
		}
		version := &schema.Column{Name: schema.ColumnDltID, Nullable: &notNull, RowVersion: true}
		if existing, found := table.Columns.Get(schema.ColumnDltID); found {
			version = schema.MergeColumn(existing, version)
		}
		table.Columns.Set(version)
	}
	return table
}

// mergeKeys flags the key columns, adding incomplete not null columns for the
// keys not declared as columns.
func mergeKeys(table *schema.Table, keys []string, flag func(*schema.Column)) {
	for _, key := range keys {
		col, found := table.Columns.Get(key)
		if !found {
			notNull := false
			col = &schema.Column{Name: key, Nullable: &notNull}
		} else {
			col = col.Clone()
			if col.Nullable == nil {
				notNull := false
				col.Nullable = &notNull
			}
		}
		flag(col)
		table.Columns.Set(col)
	}
}

