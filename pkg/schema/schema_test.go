// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSchema(t *testing.T, opts ...Option) *Schema {
	t.Helper()
	s, err := New("events", opts...)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	require.Equal(t, "events", s.Name())
	require.Equal(t, "snake_case", s.Naming().Name())
	require.Equal(t, DefaultJSONNormalizerModule, s.NormalizersConfig().JSON.Module)

	_, err := New("")
	require.ErrorIs(t, err, ErrInvalidSchema)

	_, err = New("events", WithNormalizers(NormalizersConfig{Names: "kebab"}))
	require.ErrorIs(t, err, ErrInvalidSchema)

	_, err = New("events", WithSettings(Settings{PreferredTypes: map[string]DataType{"re:[": TypeText}}))
	require.ErrorIs(t, err, ErrInvalidSimpleRegex)
}

func TestSchema_UpdateTable(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	partial := NewTable("Events", "", &Column{Name: "userId", DataType: TypeBigint})

	updated, err := s.UpdateTable(partial, true, false)
	require.NoError(t, err)
	require.Equal(t, "events", updated.Name)
	require.Equal(t, []string{"user_id"}, updated.Columns.Names())
	rev := s.Revision()

	// identical partial leaves the table unchanged
	again, err := s.UpdateTable(partial, true, false)
	require.NoError(t, err)
	require.Equal(t, updated.Columns.Names(), again.Columns.Names())
	col, found := again.Columns.Get("user_id")
	require.True(t, found)
	require.Equal(t, TypeBigint, col.DataType)
	require.Greater(t, s.Revision(), rev)

	// nested tables need their parent
	_, err = s.UpdateTable(NewTable("events__items", "missing"), false, false)
	require.ErrorIs(t, err, ErrParentTableNotFound)

	// conflicting types are rejected
	_, err = s.UpdateTable(NewTable("events", "", &Column{Name: "user_id", DataType: TypeText}), false, false)
	coerceErr := &CannotCoerceColumnError{}
	require.True(t, errors.As(err, &coerceErr))
	require.Equal(t, "user_id", coerceErr.Column)
}

func TestSchema_UpdateTable_NestedTableNames(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	_, err := s.UpdateTable(NewTable("Events", ""), true, false)
	require.NoError(t, err)

	updated, err := s.UpdateTable(NewTable("Events__lineItems", "Events"), true, false)
	require.NoError(t, err)
	require.Equal(t, "events__line_items", updated.Name)
	require.Equal(t, "events", updated.Parent)
	require.ElementsMatch(t, []string{"events", "events__line_items"}, s.TableNames())

	// a declared table named like a nested path keeps its separators
	_, err = s.UpdateTable(NewTable("orders__items", ""), true, false)
	require.NoError(t, err)
	_, found := s.Table("orders__items")
	require.True(t, found)
}

func TestTable_Clone(t *testing.T) {
	t.Parallel()

	maxNesting := 2
	table := NewTable("events", "", &Column{Name: "id", DataType: TypeBigint})
	table.Filters = &TableFilters{Excludes: []string{"re:^secret"}}
	table.Normalizer = &NormalizerHints{MaxNesting: &maxNesting}

	clone := table.Clone()
	require.NotSame(t, table, clone)
	clone.Columns.Set(&Column{Name: "name", DataType: TypeText})
	clone.Filters.Excludes[0] = "re:^token"
	*clone.Normalizer.MaxNesting = 5

	require.Equal(t, []string{"id"}, table.Columns.Names())
	require.Equal(t, []string{"re:^secret"}, table.Filters.Excludes)
	got, ok := table.MaxNesting()
	require.True(t, ok)
	require.Equal(t, 2, got)

	var nilTable *Table
	require.Nil(t, nilTable.Clone())
}

type mockItemNormalizer struct {
	extended []string
}

func (m *mockItemNormalizer) ExtendSchema() error { return nil }

func (m *mockItemNormalizer) ExtendTable(name string) {
	m.extended = append(m.extended, name)
}

func TestSchema_UpdateTable_ExtendsTable(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	n := &mockItemNormalizer{}
	s.SetItemNormalizer(n)

	_, err := s.UpdateTable(NewTable("events", ""), false, false)
	require.NoError(t, err)
	_, err = s.UpdateTable(NewTable("events__items", "events"), false, false)
	require.NoError(t, err)
	require.Equal(t, []string{"events", "events__items"}, n.extended)

	// clones do not carry the item normalizer
	require.Nil(t, s.Clone().ItemNormalizer())
}

func TestSchema_MergeStrategy(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	root := NewTable("events", "")
	root.WriteDisposition = WriteDispositionMerge
	root.MergeStrategy = MergeStrategyUpsert
	_, err := s.UpdateTable(root, false, false)
	require.NoError(t, err)
	_, err = s.UpdateTable(NewTable("events__items", "events"), false, false)
	require.NoError(t, err)
	_, err = s.UpdateTable(NewTable("logs", ""), false, false)
	require.NoError(t, err)

	require.Equal(t, MergeStrategyUpsert, s.MergeStrategy("events"))
	require.Equal(t, MergeStrategyUpsert, s.MergeStrategy("events__items"))
	require.Equal(t, WriteDispositionMerge, s.WriteDisposition("events__items"))
	require.Equal(t, MergeStrategy(""), s.MergeStrategy("logs"))
	require.Equal(t, MergeStrategy(""), s.MergeStrategy("unknown"))

	other := NewTable("other", "")
	other.WriteDisposition = WriteDispositionMerge
	_, err = s.UpdateTable(other, false, false)
	require.NoError(t, err)
	require.Equal(t, DefaultMergeStrategy, s.MergeStrategy("other"))

	rootTable, err := s.RootTable("events__items")
	require.NoError(t, err)
	require.Equal(t, "events", rootTable.Name)
}

func TestSchema_CoerceRow(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t, WithSettings(Settings{
		DefaultHints:   map[Hint][]string{HintNotNull: {"_dlt_id"}, HintUnique: {"_dlt_id"}},
		PreferredTypes: map[string]DataType{"re:_at$": TypeTimestamp},
		Detections:     []string{DetectionISODate},
	}))

	row, partial, err := s.CoerceRow("events", "", Row{
		"_dlt_id":    "abc",
		"count":      int64(3),
		"price":      1.5,
		"created_at": "2024-01-02T03:04:05Z",
		"day":        "2024-01-02",
		"payload":    map[string]any{"a": 1},
		"missing":    nil,
	})
	require.NoError(t, err)
	require.Equal(t, Row{
		"_dlt_id":    "abc",
		"count":      int64(3),
		"price":      1.5,
		"created_at": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"day":        "2024-01-02",
		"payload":    map[string]any{"a": 1},
	}, row)
	require.NotNil(t, partial)
	require.Equal(t, []string{"_dlt_id", "count", "created_at", "day", "payload", "price"}, partial.Columns.Names())

	id, _ := partial.Columns.Get("_dlt_id")
	require.False(t, id.IsNullable())
	require.True(t, id.Unique)
	for name, dt := range map[string]DataType{
		"count": TypeBigint, "price": TypeDouble, "created_at": TypeTimestamp,
		"day": TypeDate, "payload": TypeJSON,
	} {
		col, found := partial.Columns.Get(name)
		require.True(t, found, name)
		require.Equal(t, dt, col.DataType, name)
	}

	_, err = s.UpdateTable(partial, false, false)
	require.NoError(t, err)

	// known columns produce no partial, mismatching values go to variants
	row, partial, err = s.CoerceRow("events", "", Row{"count": "7", "price": int64(2)})
	require.NoError(t, err)
	require.Nil(t, partial)
	require.Equal(t, Row{"count": int64(7), "price": float64(2)}, row)

	row, partial, err = s.CoerceRow("events", "", Row{"count": "seven"})
	require.NoError(t, err)
	require.Equal(t, Row{"count__v_text": "seven"}, row)
	variant, found := partial.Columns.Get("count__v_text")
	require.True(t, found)
	require.True(t, variant.Variant)
	require.Equal(t, TypeText, variant.DataType)

	// not null columns reject nulls
	_, _, err = s.CoerceRow("events", "", Row{"_dlt_id": nil})
	nullErr := &CannotCoerceNullError{}
	require.True(t, errors.As(err, &nullErr))
	require.Equal(t, "_dlt_id", nullErr.Column)
}

func TestSchema_ApplySchemaContract(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	_, err := s.UpdateTable(NewTable("events", "", &Column{Name: "id", DataType: TypeBigint}), false, false)
	require.NoError(t, err)

	newColumns := NewTable("events", "",
		&Column{Name: "name", DataType: TypeText},
		&Column{Name: "id__v_text", DataType: TypeText, Variant: true},
		&Column{Name: "_dlt_id", DataType: TypeText},
	)

	tests := []struct {
		name     string
		contract Contract
		partial  *Table

		wantColumns []string
		wantFilters []Filter
		wantNil     bool
		wantErr     *DataValidationError
	}{
		{
			name:        "default contract",
			contract:    DefaultContract,
			partial:     newColumns,
			wantColumns: []string{"name", "id__v_text", "_dlt_id"},
		},
		{
			name:     "discard new table",
			contract: Contract{Tables: ContractDiscardRow},
			partial:  NewTable("users", "", &Column{Name: "id", DataType: TypeBigint}),
			wantNil:  true,
			wantFilters: []Filter{
				{Entity: EntityTables, Name: "users", Mode: ContractDiscardRow},
			},
		},
		{
			name:     "freeze new table",
			contract: NewContract(ContractFreeze),
			partial:  NewTable("users", "", &Column{Name: "id", DataType: TypeBigint}),
			wantErr:  &DataValidationError{Schema: "events", Table: "users", Entity: EntityTables, Mode: ContractFreeze},
		},
		{
			name:        "discard values of new columns",
			contract:    Contract{Columns: ContractDiscardValue},
			partial:     newColumns,
			wantColumns: []string{"id__v_text", "_dlt_id"},
			wantFilters: []Filter{
				{Entity: EntityColumns, Name: "name", Mode: ContractDiscardValue},
			},
		},
		{
			name:        "discard rows with variants",
			contract:    Contract{DataType: ContractDiscardRow},
			partial:     newColumns,
			wantColumns: []string{"name", "_dlt_id"},
			wantFilters: []Filter{
				{Entity: EntityColumns, Name: "id__v_text", Mode: ContractDiscardRow},
			},
		},
		{
			name:     "freeze columns",
			contract: Contract{Columns: ContractFreeze},
			partial:  newColumns,
			wantErr:  &DataValidationError{Schema: "events", Table: "events", Column: "name", Entity: EntityColumns, Mode: ContractFreeze},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			partial, filters, err := s.ApplySchemaContract(tc.contract, tc.partial, nil)
			if tc.wantErr != nil {
				require.Equal(t, tc.wantErr, err)
				return
			}
			require.NoError(t, err)
			require.ElementsMatch(t, tc.wantFilters, filters)
			if tc.wantNil {
				require.Nil(t, partial)
				return
			}
			require.Equal(t, tc.wantColumns, partial.Columns.Names())
			// input is not modified
			require.Equal(t, 3, tc.partial.Columns.Len())
		})
	}
}

func TestSchema_ApplySchemaContract_EvolveColumnsOnce(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	table := NewTable("events", "", &Column{Name: "id", DataType: TypeBigint})
	table.Normalizer = &NormalizerHints{EvolveColumnsOnce: true}
	_, err := s.UpdateTable(table, false, false)
	require.NoError(t, err)

	partial, filters, err := s.ApplySchemaContract(NewContract(ContractFreeze), NewTable("events", "", &Column{Name: "name", DataType: TypeText}), nil)
	require.NoError(t, err)
	require.Empty(t, filters)
	require.Equal(t, []string{"name"}, partial.Columns.Names())
}

func TestSchema_ResolveContractSettingsForTable(t *testing.T) {
	t.Parallel()

	frozen := NewContract(ContractFreeze)
	s := newTestSchema(t, WithSettings(Settings{SchemaContract: &Contract{Columns: ContractDiscardValue}}))
	root := NewTable("events", "")
	root.SchemaContract = &frozen
	_, err := s.UpdateTable(root, false, false)
	require.NoError(t, err)
	_, err = s.UpdateTable(NewTable("events__items", "events"), false, false)
	require.NoError(t, err)

	discardValue := Contract{Tables: ContractEvolve, Columns: ContractDiscardValue, DataType: ContractEvolve}
	require.Equal(t, frozen, s.ResolveContractSettingsForTable("events__items", nil))
	require.Equal(t, discardValue, s.ResolveContractSettingsForTable("other", nil))
	require.Equal(t, DefaultContract, newTestSchema(t).ResolveContractSettingsForTable("other", nil))

	// new tables resolve through their parent or their own contract
	require.Equal(t, frozen, s.ResolveContractSettingsForTable("events__items__tags", NewTable("events__items__tags", "events__items")))
	require.Equal(t, discardValue, s.ResolveContractSettingsForTable("other", NewTable("other", "")))
	newRoot := NewTable("other", "")
	newRoot.SchemaContract = &Contract{Tables: ContractFreeze}
	require.Equal(t, Contract{Tables: ContractFreeze, Columns: ContractEvolve, DataType: ContractEvolve}, s.ResolveContractSettingsForTable("other", newRoot))
}

func TestSchema_FilterRow(t *testing.T) {
	t.Parallel()

	s := newTestSchema(t)
	root := NewTable("events", "")
	root.Filters = &TableFilters{
		Excludes: []string{"re:^secret", "re:^items__password$"},
		Includes: []string{"secret_public"},
	}
	_, err := s.UpdateTable(root, false, false)
	require.NoError(t, err)

	row := s.FilterRow("events", Row{"id": 1, "secret": "x", "secret_public": "y"})
	require.Equal(t, Row{"id": 1, "secret_public": "y"}, row)

	// root filters apply to nested tables through the path
	row = s.FilterRow("events__items", Row{"value": 1, "password": "p"})
	require.Equal(t, Row{"value": 1}, row)
}

func TestParseContract(t *testing.T) {
	t.Parallel()

	c, err := ParseContract("freeze")
	require.NoError(t, err)
	require.Equal(t, NewContract(ContractFreeze), *c)

	c, err = ParseContract(map[string]any{"columns": "discard_row"})
	require.NoError(t, err)
	require.Equal(t, Contract{Columns: ContractDiscardRow}, *c)

	_, err = ParseContract(map[string]any{"columns": "drop"})
	require.ErrorIs(t, err, ErrInvalidContractMode)

	_, err = ParseContract(map[string]any{"rows": "freeze"})
	require.ErrorIs(t, err, ErrInvalidContractMode)

	c, err = ParseContract(nil)
	require.NoError(t, err)
	require.Nil(t, c)
}
