// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/storage"
)

const testLoadID = "1700000000.123456"

func newTestSchema(t *testing.T, contract *schema.Contract, tables ...*schema.Table) *schema.Schema {
	t.Helper()
	s, err := schema.New("test", schema.WithSettings(schema.Settings{SchemaContract: contract}))
	require.NoError(t, err)
	for _, table := range tables {
		_, err := s.UpdateTable(table, true, false)
		require.NoError(t, err)
	}
	return s
}

func newTestResource(t *testing.T, name string, hints TableHints, opts ...ResourceOption) *Resource {
	t.Helper()
	r, err := NewResource(name, hints, opts...)
	require.NoError(t, err)
	return r
}

func contractPtr(c schema.Contract) *schema.Contract {
	return &c
}

func TestObjectExtractor_WriteItems(t *testing.T) {
	t.Parallel()

	t.Run("static table", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, nil)
		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, s, store)
		r := newTestResource(t, "Events", TableHints{PrimaryKey: []string{"ID"}})

		items := []map[string]any{{"ID": 1}, {"ID": 2}}
		err := e.WriteItems(context.Background(), r, items, nil)
		require.NoError(t, err)

		require.Len(t, store.Items("events"), 2)
		require.Equal(t, map[string]int{"events": 2}, e.TableCounts())
		require.Equal(t, []string{"Events"}, e.ResourcesWithItems())
		require.Empty(t, e.ResourcesWithEmpty())

		table, found := s.Table("events")
		require.True(t, found)
		require.Equal(t, "Events", table.Resource)
		require.Equal(t, []string{"id"}, table.ColumnsWithHint(schema.HintPrimaryKey))
	})

	t.Run("single item", func(t *testing.T) {
		t.Parallel()

		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), store)

		err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), map[string]any{"a": 1}, nil)
		require.NoError(t, err)
		require.Equal(t, []any{map[string]any{"a": 1}}, store.Items("events"))
	})

	t.Run("table name meta", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, nil)
		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, s, store)

		err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), []any{map[string]any{"a": 1}}, TableNameMeta{TableName: "Other Events"})
		require.NoError(t, err)
		require.Len(t, store.Items("other_events"), 1)
		require.Empty(t, store.Items("events"))

		_, found := s.Table("other_events")
		require.True(t, found)
	})

	t.Run("dynamic table name", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, nil)
		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, s, store)
		r := newTestResource(t, "events", TableHints{TableNameTemplate: "{{ .type | lower }}"})

		items := []any{
			map[string]any{"type": "Click"},
			map[string]any{"type": "View"},
			map[string]any{"type": "click"},
		}
		err := e.WriteItems(context.Background(), r, items, nil)
		require.NoError(t, err)

		require.Len(t, store.Items("click"), 2)
		require.Len(t, store.Items("view"), 1)
		require.Equal(t, map[string]int{"click": 2, "view": 1}, e.TableCounts())
		for _, name := range []string{"click", "view"} {
			table, found := s.Table(name)
			require.True(t, found)
			require.Equal(t, "events", table.Resource)
		}
	})

	t.Run("dynamic hints are computed for every item", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, nil)
		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, s, store)
		hintsFn := func(item any) (TableHints, error) {
			m, _ := item.(map[string]any)
			name, _ := m["hint"].(string)
			return TableHints{Columns: []*schema.Column{{Name: name, DataType: schema.TypeText, Unique: true}}}, nil
		}
		r := newTestResource(t, "events", TableHints{TableNameTemplate: "{{ .type }}"}, WithHintsFunc(hintsFn))
		require.True(t, r.HasOtherDynamicHints())

		items := []any{
			map[string]any{"type": "click", "hint": "first"},
			map[string]any{"type": "click", "hint": "second"},
		}
		err := e.WriteItems(context.Background(), r, items, nil)
		require.NoError(t, err)
		require.Len(t, store.Items("click"), 2)

		table, found := s.Table("click")
		require.True(t, found)
		require.ElementsMatch(t, []string{"first", "second"}, table.ColumnsWithHint(schema.HintUnique))
		for _, name := range []string{"first", "second"} {
			col, found := table.Columns.Get(name)
			require.True(t, found, name)
			require.Equal(t, schema.TypeText, col.DataType)
		}
	})

	t.Run("dynamic table name error", func(t *testing.T) {
		t.Parallel()

		e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), storage.NewMemoryStorage(clockwork.NewFakeClock()))
		r := newTestResource(t, "events", TableHints{TableNameTemplate: "{{ .type }}"})

		err := e.WriteItems(context.Background(), r, []any{map[string]any{"kind": "click"}}, nil)
		require.Error(t, err)
	})

	t.Run("frozen tables", func(t *testing.T) {
		t.Parallel()

		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, newTestSchema(t, contractPtr(schema.NewContract(schema.ContractFreeze))), store)

		err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), []any{map[string]any{"a": 1}}, nil)
		var validationErr *schema.DataValidationError
		require.True(t, errors.As(err, &validationErr))
		require.Equal(t, "events", validationErr.Table)
		require.Equal(t, schema.EntityTables, validationErr.Entity)
		require.Empty(t, store.Items("events"))
	})

	t.Run("frozen tables from resource contract", func(t *testing.T) {
		t.Parallel()

		e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), storage.NewMemoryStorage(clockwork.NewFakeClock()))
		r := newTestResource(t, "events", TableHints{SchemaContract: contractPtr(schema.Contract{Tables: schema.ContractFreeze})})

		err := e.WriteItems(context.Background(), r, []any{map[string]any{"a": 1}}, nil)
		var validationErr *schema.DataValidationError
		require.True(t, errors.As(err, &validationErr))
	})

	t.Run("discarded table", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, contractPtr(schema.Contract{Tables: schema.ContractDiscardRow}))
		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, s, store)
		r := newTestResource(t, "events", TableHints{})

		for i := 0; i < 2; i++ {
			err := e.WriteItems(context.Background(), r, []any{map[string]any{"a": i}}, nil)
			require.NoError(t, err)
		}
		require.Empty(t, store.Items("events"))
		require.Empty(t, e.TableCounts())
		require.Empty(t, e.ResourcesWithItems())

		_, found := s.Table("events")
		require.False(t, found)
	})

	t.Run("materialized empty list", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, nil)
		e := NewObjectExtractor(testLoadID, s, storage.NewMemoryStorage(clockwork.NewFakeClock()))
		r := newTestResource(t, "events", TableHints{})

		err := e.WriteItems(context.Background(), r, MaterializedEmptyList{}, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"events"}, e.ResourcesWithEmpty())
		require.Empty(t, e.ResourcesWithItems())

		_, found := s.Table("events")
		require.True(t, found)
	})

	t.Run("no items", func(t *testing.T) {
		t.Parallel()

		e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), storage.NewMemoryStorage(clockwork.NewFakeClock()))

		err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), nil, nil)
		require.NoError(t, err)
		require.Empty(t, e.ResourcesWithEmpty())
		require.Empty(t, e.ResourcesWithItems())
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), storage.NewMemoryStorage(clockwork.NewFakeClock()))
		err := e.WriteItems(ctx, newTestResource(t, "events", TableHints{}), []any{map[string]any{"a": 1}}, nil)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestObjectExtractor_HintsMeta(t *testing.T) {
	t.Parallel()

	t.Run("cached contract until hints change", func(t *testing.T) {
		t.Parallel()

		calls := 0
		r := newTestResource(t, "events", TableHints{}, WithHintsFunc(func(any) (TableHints, error) {
			calls++
			return TableHints{}, nil
		}))
		s := newTestSchema(t, nil)
		e := NewObjectExtractor(testLoadID, s, storage.NewMemoryStorage(clockwork.NewFakeClock()))

		item := []any{map[string]any{"id": 1}}
		require.NoError(t, e.WriteItems(context.Background(), r, item, nil))
		require.NoError(t, e.WriteItems(context.Background(), r, item, nil))
		require.Equal(t, 1, calls)

		err := e.WriteItems(context.Background(), r, item, HintsMeta{Hints: TableHints{PrimaryKey: []string{"id"}}})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
		require.Equal(t, []string{"id"}, r.Hints().PrimaryKey)

		table, found := s.Table("events")
		require.True(t, found)
		require.Equal(t, []string{"id"}, table.ColumnsWithHint(schema.HintPrimaryKey))
	})

	t.Run("table variant", func(t *testing.T) {
		t.Parallel()

		s := newTestSchema(t, nil)
		store := storage.NewMemoryStorage(clockwork.NewFakeClock())
		e := NewObjectExtractor(testLoadID, s, store)
		r := newTestResource(t, "events", TableHints{})

		meta := HintsMeta{
			Hints:              TableHints{TableName: "events_v2", PrimaryKey: []string{"id"}},
			CreateTableVariant: true,
		}
		err := e.WriteItems(context.Background(), r, []any{map[string]any{"id": 1}}, meta)
		require.NoError(t, err)
		require.Len(t, store.Items("events_v2"), 1)
		require.Empty(t, store.Items("events"))
		require.Empty(t, r.Hints().PrimaryKey)

		variant, found := s.Table("events_v2")
		require.True(t, found)
		require.Equal(t, []string{"id"}, variant.ColumnsWithHint(schema.HintPrimaryKey))
	})

	t.Run("invalid hints", func(t *testing.T) {
		t.Parallel()

		e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), storage.NewMemoryStorage(clockwork.NewFakeClock()))
		err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), nil, HintsMeta{Hints: TableHints{WriteDisposition: "upsert"}})
		require.ErrorIs(t, err, ErrInvalidHints)
	})
}

func TestObjectExtractor_WriteEmptyItemsFile(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage(clockwork.NewFakeClock())
	e := NewObjectExtractor(testLoadID, newTestSchema(t, nil), store)

	require.NoError(t, e.WriteEmptyItemsFile("Empty Events"))
	require.True(t, store.IsEmpty("empty_events"))
}

func TestColumnarExtractor_WriteItems(t *testing.T) {
	t.Parallel()

	existing := func() *schema.Table {
		return schema.NewTable("events", "", &schema.Column{Name: "id", DataType: schema.TypeBigint})
	}
	batch := func() *ColumnarBatch {
		return &ColumnarBatch{
			Columns: []string{"id", "Extra", "empty"},
			Types:   []schema.DataType{schema.TypeBigint, schema.TypeText, schema.TypeText},
			Rows: [][]any{
				{int64(1), "x", nil},
				{int64(2), nil, nil},
			},
		}
	}

	tests := []struct {
		name     string
		contract *schema.Contract
		opts     []Option

		wantRows      []any
		wantColumns   []string
		wantErrTarget bool
	}{
		{
			name: "evolve",
			wantRows: []any{
				map[string]any{"id": int64(1), "extra": "x"},
				map[string]any{"id": int64(2), "extra": nil},
			},
			wantColumns: []string{"id", "extra"},
		},
		{
			name: "with load id",
			opts: []Option{WithLoadIDColumn()},
			wantRows: []any{
				map[string]any{"id": int64(1), "extra": "x", schema.ColumnDltLoadID: testLoadID},
				map[string]any{"id": int64(2), "extra": nil, schema.ColumnDltLoadID: testLoadID},
			},
			wantColumns: []string{"id", "extra"},
		},
		{
			name:     "discard value",
			contract: &schema.Contract{Columns: schema.ContractDiscardValue},
			wantRows: []any{
				map[string]any{"id": int64(1)},
				map[string]any{"id": int64(2)},
			},
			wantColumns: []string{"id"},
		},
		{
			name:     "discard row",
			contract: &schema.Contract{Columns: schema.ContractDiscardRow},
			wantRows: []any{
				map[string]any{"id": int64(2)},
			},
			wantColumns: []string{"id"},
		},
		{
			name:          "freeze",
			contract:      &schema.Contract{Columns: schema.ContractFreeze},
			wantErrTarget: true,
			wantColumns:   []string{"id"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestSchema(t, tc.contract, existing())
			store := storage.NewMemoryStorage(clockwork.NewFakeClock())
			e := NewColumnarExtractor(testLoadID, s, store, tc.opts...)

			err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), batch(), nil)
			if tc.wantErrTarget {
				var validationErr *schema.DataValidationError
				require.True(t, errors.As(err, &validationErr))
				require.Equal(t, "extra", validationErr.Column)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.wantRows, store.Items("events"))
				require.Equal(t, []string{"events"}, e.ResourcesWithItems())
			}

			table, found := s.Table("events")
			require.True(t, found)
			require.Equal(t, tc.wantColumns, table.Columns.Names())
		})
	}
}

func TestColumnarExtractor_WriteItems_errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		items any
	}{
		{
			name:  "unsupported items",
			items: []any{map[string]any{"a": 1}},
		},
		{
			name: "row length mismatch",
			items: &ColumnarBatch{
				Columns: []string{"a", "b"},
				Rows:    [][]any{{1}},
			},
		},
		{
			name: "types length mismatch",
			items: ColumnarBatch{
				Columns: []string{"a"},
				Types:   []schema.DataType{schema.TypeText, schema.TypeText},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := NewColumnarExtractor(testLoadID, newTestSchema(t, nil), storage.NewMemoryStorage(clockwork.NewFakeClock()))
			err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), tc.items, nil)
			require.ErrorIs(t, err, ErrUnsupportedItems)
		})
	}
}

func TestColumnarExtractor_EmptyBatchTracksResource(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage(clockwork.NewFakeClock())
	e := NewColumnarExtractor(testLoadID, newTestSchema(t, nil), store)

	err := e.WriteItems(context.Background(), newTestResource(t, "events", TableHints{}), []*ColumnarBatch{{Columns: []string{"a"}}}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"events"}, e.ResourcesWithItems())
	require.Empty(t, store.Items("events"))
}
