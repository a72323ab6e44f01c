// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/xataio/relnorm/pkg/naming"
)

// Row is a flat mapping of normalized column names to values.
type Row = map[string]any

// System columns added to every row.
const (
	DltPrefix       = "_dlt"
	ColumnDltID     = "_dlt_id"
	ColumnDltLoadID = "_dlt_load_id"
)

// Schema is a versioned collection of tables with the settings used to
// normalize identifiers, infer types and enforce contracts. A schema is not
// safe for concurrent use, concurrent workers operate on clones.
type Schema struct {
	name        string
	version     int
	versionHash string
	settings    Settings
	tables      map[string]*Table
	normalizers NormalizersConfig
	naming      naming.Convention

	instanceID uuid.UUID
	revision   uint64
	compiled   *compiledRules

	itemNormalizer ItemNormalizer
}

type compiledRules struct {
	hints     map[Hint][]*regexp.Regexp
	preferred []typeRule
	excludes  map[string][]*regexp.Regexp
	includes  map[string][]*regexp.Regexp
}

type Option func(*Schema)

func WithSettings(settings Settings) Option {
	return func(s *Schema) {
		s.settings = settings.clone()
	}
}

// WithNormalizers sets the naming convention and the json normalizer config.
func WithNormalizers(cfg NormalizersConfig) Option {
	return func(s *Schema) {
		s.normalizers = cfg.clone()
	}
}

func New(name string, opts ...Option) (*Schema, error) {
	s := &Schema{
		name:   name,
		tables: map[string]*Table{},
		normalizers: NormalizersConfig{
			Names: naming.SnakeCaseName,
			JSON: JSONNormalizerConfig{
				Module: DefaultJSONNormalizerModule,
			},
		},
		instanceID: uuid.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) init() error {
	if strings.TrimSpace(s.name) == "" {
		return fmt.Errorf("%w: empty schema name", ErrInvalidSchema)
	}
	if s.normalizers.JSON.Module == "" {
		s.normalizers.JSON.Module = DefaultJSONNormalizerModule
	}
	conv, err := naming.NewConvention(s.normalizers.Names, s.normalizers.MaxIdentifierLength)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	s.naming = conv
	s.normalizers.Names = conv.Name()
	if err := s.settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return nil
}

func (s *Schema) Name() string {
	return s.name
}

func (s *Schema) Version() int {
	return s.version
}

func (s *Schema) VersionHash() string {
	return s.versionHash
}

// InstanceID identifies this in-memory schema object. Clones get a new one.
func (s *Schema) InstanceID() uuid.UUID {
	return s.instanceID
}

// Revision is bumped on every mutation of the schema.
func (s *Schema) Revision() uint64 {
	return s.revision
}

func (s *Schema) Naming() naming.Convention {
	return s.naming
}

func (s *Schema) Settings() Settings {
	return s.settings.clone()
}

func (s *Schema) NormalizersConfig() NormalizersConfig {
	return s.normalizers.clone()
}

// JSONNormalizerConfig returns a copy of the json normalizer config.
func (s *Schema) JSONNormalizerConfig() map[string]any {
	return deepCopyMap(s.normalizers.JSON.Config)
}

func (s *Schema) SetJSONNormalizerConfig(cfg map[string]any) {
	s.normalizers.JSON.Config = deepCopyMap(cfg)
	s.bump()
}

func (s *Schema) SetItemNormalizer(n ItemNormalizer) {
	s.itemNormalizer = n
}

func (s *Schema) ItemNormalizer() ItemNormalizer {
	return s.itemNormalizer
}

func (s *Schema) Table(name string) (*Table, bool) {
	t, found := s.tables[name]
	return t, found
}

// TableNames returns all the table names sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DataTableNames returns the sorted names of the tables holding data, which
// have at least one complete column.
func (s *Schema) DataTableNames() []string {
	names := []string{}
	for _, name := range s.TableNames() {
		if t := s.tables[name]; t.HasCompleteColumns() && !strings.HasPrefix(name, DltPrefix) {
			names = append(names, name)
		}
	}
	return names
}

// IsNewTable reports whether the table is missing or has no complete
// columns.
func (s *Schema) IsNewTable(name string) bool {
	t, found := s.tables[name]
	return !found || !t.HasCompleteColumns()
}

// RootTable walks the parent chain up to the root table.
func (s *Schema) RootTable(name string) (*Table, error) {
	t, found := s.tables[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	for t.Parent != "" {
		parent, found := s.tables[t.Parent]
		if !found {
			return nil, fmt.Errorf("%w: %s (parent of %s)", ErrParentTableNotFound, t.Parent, t.Name)
		}
		t = parent
	}
	return t, nil
}

// WriteDisposition returns the write disposition of the table, inherited
// from its ancestors when not set.
func (s *Schema) WriteDisposition(name string) WriteDisposition {
	if wd := inheritedHint(s.tables, name, func(t *Table) string { return string(t.WriteDisposition) }); wd != "" {
		return WriteDisposition(wd)
	}
	return DefaultWriteDisposition
}

// MergeStrategy returns the merge strategy of the table, or an empty string
// when the table does not use the merge write disposition.
func (s *Schema) MergeStrategy(name string) MergeStrategy {
	if _, found := s.tables[name]; !found || s.WriteDisposition(name) != WriteDispositionMerge {
		return ""
	}
	if ms := inheritedHint(s.tables, name, func(t *Table) string { return string(t.MergeStrategy) }); ms != "" {
		return MergeStrategy(ms)
	}
	return DefaultMergeStrategy
}

func inheritedHint(tables map[string]*Table, name string, hint func(*Table) string) string {
	for t, found := tables[name]; found; t, found = tables[t.Parent] {
		if v := hint(t); v != "" {
			return v
		}
		if t.Parent == "" {
			break
		}
	}
	return ""
}

// PrimaryKey returns the primary key columns of the table, incomplete columns
// included.
func (s *Schema) PrimaryKey(name string) []string {
	t, found := s.tables[name]
	if !found {
		return nil
	}
	return t.ColumnsWithHint(HintPrimaryKey)
}

// PreferredType returns the data type configured for the column name in the
// schema settings, if any.
func (s *Schema) PreferredType(column string) DataType {
	for _, rule := range s.rules().preferred {
		if rule.re.MatchString(column) {
			return rule.dataType
		}
	}
	return ""
}

func (s *Schema) inferHint(h Hint, column string) bool {
	for _, re := range s.rules().hints[h] {
		if re.MatchString(column) {
			return true
		}
	}
	return false
}

// MergeHints adds the default hints patterns to the settings, skipping the
// patterns already present.
func (s *Schema) MergeHints(hints map[Hint][]string) error {
	for h, patterns := range hints {
		for _, p := range patterns {
			if _, err := compileSimpleRegex(p); err != nil {
				return fmt.Errorf("hint %s: %w", h, err)
			}
		}
	}
	if s.settings.DefaultHints == nil {
		s.settings.DefaultHints = map[Hint][]string{}
	}
	for h, patterns := range hints {
		for _, p := range patterns {
			if !slices.Contains(s.settings.DefaultHints[h], p) {
				s.settings.DefaultHints[h] = append(s.settings.DefaultHints[h], p)
			}
		}
	}
	s.bump()
	return nil
}

// UpdateTable adds the partial table to the schema or merges it into the
// existing table. Partial tables computed with DiffTable are merged without
// compatibility checks. Updating with an identical partial twice leaves the
// schema unchanged.
func (s *Schema) UpdateTable(partial *Table, normalizeIdentifiers, fromDiff bool) (*Table, error) {
	if normalizeIdentifiers {
		partial = s.NormalizeTableIdentifiers(partial)
	}
	if partial.Parent != "" {
		if _, found := s.tables[partial.Parent]; !found {
			return nil, fmt.Errorf("%w: %s (parent of %s)", ErrParentTableNotFound, partial.Parent, partial.Name)
		}
	}

	var updated *Table
	table, found := s.tables[partial.Name]
	switch {
	case !found:
		updated = partial.Clone()
	case fromDiff:
		updated = mergeDiff(table, partial)
	default:
		var err error
		if updated, err = MergeTable(s.name, table, partial); err != nil {
			return nil, err
		}
	}
	s.tables[updated.Name] = updated
	s.bump()

	if s.itemNormalizer != nil {
		s.itemNormalizer.ExtendTable(updated.Name)
	}
	return updated, nil
}

// NormalizeTableIdentifiers returns a copy of the table with the table,
// parent and column names normalized. Table and parent names are paths, each
// fragment is normalized so nested tables keep their separators.
func (s *Schema) NormalizeTableIdentifiers(t *Table) *Table {
	normalized := t.Clone()
	normalized.Name = s.naming.NormalizePath(t.Name)
	if t.Parent != "" {
		normalized.Parent = s.naming.NormalizePath(t.Parent)
	}
	normalized.Columns = Columns{}
	for _, c := range t.Columns.All() {
		col := c.Clone()
		col.Name = s.naming.NormalizePath(c.Name)
		if existing, found := normalized.Columns.Get(col.Name); found {
			col = MergeColumn(existing, col)
		}
		normalized.Columns.Set(col)
	}
	return normalized
}

// MarkSeenData flags the table as having received data.
func (s *Schema) MarkSeenData(name string) error {
	t, found := s.tables[name]
	if !found {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if t.HasSeenData() {
		return nil
	}
	if t.Normalizer == nil {
		t.Normalizer = &NormalizerHints{}
	}
	t.Normalizer.SeenData = true
	s.bump()
	return nil
}

// Clone returns a deep copy of the schema with a new instance id. The item
// normalizer is not carried over, it is bound to the original instance.
func (s *Schema) Clone() *Schema {
	clone := &Schema{
		name:        s.name,
		version:     s.version,
		versionHash: s.versionHash,
		settings:    s.settings.clone(),
		tables:      make(map[string]*Table, len(s.tables)),
		normalizers: s.normalizers.clone(),
		naming:      s.naming,
		instanceID:  uuid.New(),
		revision:    s.revision,
	}
	for name, t := range s.tables {
		clone.tables[name] = t.Clone()
	}
	return clone
}

func (s *Schema) bump() {
	s.revision++
	s.compiled = nil
}

func (s *Schema) rules() *compiledRules {
	if s.compiled != nil {
		return s.compiled
	}
	c := &compiledRules{
		hints:     make(map[Hint][]*regexp.Regexp, len(s.settings.DefaultHints)),
		preferred: compilePreferredTypes(s.settings.PreferredTypes),
		excludes:  map[string][]*regexp.Regexp{},
		includes:  map[string][]*regexp.Regexp{},
	}
	for h, patterns := range s.settings.DefaultHints {
		c.hints[h] = compileSimpleRegexes(patterns)
	}
	for name, t := range s.tables {
		if t.Filters == nil {
			continue
		}
		if len(t.Filters.Excludes) > 0 {
			c.excludes[name] = compileSimpleRegexes(t.Filters.Excludes)
		}
		if len(t.Filters.Includes) > 0 {
			c.includes[name] = compileSimpleRegexes(t.Filters.Includes)
		}
	}
	s.compiled = c
	return c
}
