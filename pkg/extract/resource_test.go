// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xataio/relnorm/pkg/schema"
)

func TestNewResource(t *testing.T) {
	t.Parallel()

	negative := -1
	tests := []struct {
		name     string
		resource string
		hints    TableHints

		wantErr error
	}{
		{
			name:     "ok",
			resource: "events",
			hints:    TableHints{WriteDisposition: schema.WriteDispositionMerge, PrimaryKey: []string{"id"}},
		},
		{
			name:     "error - empty name",
			resource: " ",
			wantErr:  ErrInvalidHints,
		},
		{
			name:     "error - invalid write disposition",
			resource: "events",
			hints:    TableHints{WriteDisposition: "upsert"},
			wantErr:  ErrInvalidHints,
		},
		{
			name:     "error - invalid merge strategy",
			resource: "events",
			hints:    TableHints{MergeStrategy: "latest"},
			wantErr:  ErrInvalidHints,
		},
		{
			name:     "error - negative max nesting",
			resource: "events",
			hints:    TableHints{MaxNesting: &negative},
			wantErr:  ErrInvalidHints,
		},
		{
			name:     "error - unnamed column",
			resource: "events",
			hints:    TableHints{Columns: []*schema.Column{{DataType: schema.TypeText}}},
			wantErr:  ErrInvalidHints,
		},
		{
			name:     "error - invalid template",
			resource: "events",
			hints:    TableHints{TableNameTemplate: "{{ .type "},
			wantErr:  ErrInvalidHints,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewResource(tc.resource, tc.hints)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.resource, r.Name())
			require.Equal(t, tc.resource, r.TableName())
			require.False(t, r.HasDynamicTableName())
		})
	}
}

func TestResource_ResolveTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		hints TableHints
		opts  []ResourceOption
		item  any

		wantName string
		wantErr  error
	}{
		{
			name:     "static table name",
			hints:    TableHints{TableName: "clicks"},
			item:     map[string]any{"type": "view"},
			wantName: "clicks",
		},
		{
			name:     "template with sprig functions",
			hints:    TableHints{TableNameTemplate: "{{ .type | lower }}_events"},
			item:     map[string]any{"type": "Click"},
			wantName: "click_events",
		},
		{
			name: "table name func takes precedence over template",
			hints: TableHints{
				TableNameTemplate: "{{ .type }}",
			},
			opts: []ResourceOption{
				WithTableNameFunc(func(item any) (string, error) { return "from_func", nil }),
			},
			item:     map[string]any{"type": "Click"},
			wantName: "from_func",
		},
		{
			name:    "error - missing template key",
			hints:   TableHints{TableNameTemplate: "{{ .type }}"},
			item:    map[string]any{"kind": "Click"},
			wantErr: errors.New("any"),
		},
		{
			name:    "error - empty table name",
			hints:   TableHints{TableNameTemplate: "{{ .type | trim }}"},
			item:    map[string]any{"type": "  "},
			wantErr: ErrEmptyTableName,
		},
		{
			name:    "error - nil item",
			hints:   TableHints{TableNameTemplate: "{{ .type }}"},
			wantErr: ErrDataItemRequired,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewResource("events", tc.hints, tc.opts...)
			require.NoError(t, err)

			name, err := r.ResolveTableName(tc.item)
			switch {
			case tc.wantErr == nil:
				require.NoError(t, err)
				require.Equal(t, tc.wantName, name)
			case tc.wantErr.Error() == "any":
				require.Error(t, err)
			default:
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestResource_ComputeTableSchema(t *testing.T) {
	t.Parallel()

	maxNesting := 2
	t.Run("keys and hints", func(t *testing.T) {
		t.Parallel()

		r, err := NewResource("events", TableHints{
			Description:      "user events",
			WriteDisposition: schema.WriteDispositionMerge,
			MergeStrategy:    schema.MergeStrategyUpsert,
			PrimaryKey:       []string{"id"},
			MergeKey:         []string{"day"},
			MaxNesting:       &maxNesting,
			Columns:          []*schema.Column{{Name: "id", DataType: schema.TypeBigint}},
		})
		require.NoError(t, err)

		table, err := r.ComputeTableSchema(nil, nil)
		require.NoError(t, err)
		require.Equal(t, "events", table.Name)
		require.Equal(t, "events", table.Resource)
		require.Equal(t, "user events", table.Description)
		require.Equal(t, schema.WriteDispositionMerge, table.WriteDisposition)
		require.Equal(t, schema.MergeStrategyUpsert, table.MergeStrategy)

		nesting, found := table.MaxNesting()
		require.True(t, found)
		require.Equal(t, 2, nesting)

		id, found := table.Columns.Get("id")
		require.True(t, found)
		require.True(t, id.PrimaryKey)
		require.False(t, id.IsNullable())
		require.Equal(t, schema.TypeBigint, id.DataType)

		day, found := table.Columns.Get("day")
		require.True(t, found)
		require.True(t, day.MergeKey)
		require.False(t, day.IsNullable())
		require.False(t, day.IsComplete())
	})

	t.Run("merge strategy ignored without merge disposition", func(t *testing.T) {
		t.Parallel()

		r, err := NewResource("events", TableHints{MergeStrategy: schema.MergeStrategyUpsert})
		require.NoError(t, err)

		table, err := r.ComputeTableSchema(nil, nil)
		require.NoError(t, err)
		require.Equal(t, schema.DefaultWriteDisposition, table.WriteDisposition)
		require.Empty(t, table.MergeStrategy)
	})

	t.Run("scd2 columns", func(t *testing.T) {
		t.Parallel()

		r, err := NewResource("events", TableHints{
			WriteDisposition: schema.WriteDispositionMerge,
			MergeStrategy:    schema.MergeStrategySCD2,
		})
		require.NoError(t, err)

		table, err := r.ComputeTableSchema(nil, nil)
		require.NoError(t, err)
		for _, name := range []string{ColumnValidFrom, ColumnValidTo} {
			col, found := table.Columns.Get(name)
			require.True(t, found, name)
			require.Equal(t, schema.TypeTimestamp, col.DataType)
			require.True(t, col.IsNullable())
		}
		version, found := table.Columns.Get(schema.ColumnDltID)
		require.True(t, found)
		require.True(t, version.RowVersion)
		require.False(t, version.IsNullable())
	})

	t.Run("dynamic hints", func(t *testing.T) {
		t.Parallel()

		r, err := NewResource("events", TableHints{},
			WithHintsFunc(func(item any) (TableHints, error) {
				return TableHints{PrimaryKey: []string{item.(map[string]any)["key"].(string)}}, nil
			}),
		)
		require.NoError(t, err)
		require.True(t, r.HasOtherDynamicHints())

		table, err := r.ComputeTableSchema(map[string]any{"key": "uuid"}, nil)
		require.NoError(t, err)
		col, found := table.Columns.Get("uuid")
		require.True(t, found)
		require.True(t, col.PrimaryKey)

		_, err = r.ComputeTableSchema(nil, nil)
		require.ErrorIs(t, err, ErrDataItemRequired)
	})

	t.Run("table variant", func(t *testing.T) {
		t.Parallel()

		r, err := NewResource("events", TableHints{Description: "base"})
		require.NoError(t, err)

		err = r.MergeHints(TableHints{PrimaryKey: []string{"id"}}, true)
		require.ErrorIs(t, err, ErrVariantNameMissing)

		err = r.MergeHints(TableHints{TableName: "events_v2", PrimaryKey: []string{"id"}}, true)
		require.NoError(t, err)

		variant, err := r.ComputeTableSchema(nil, TableNameMeta{TableName: "events_v2"})
		require.NoError(t, err)
		require.Equal(t, "events_v2", variant.Name)
		require.Equal(t, "base", variant.Description)
		require.Equal(t, []string{"id"}, variant.ColumnsWithHint(schema.HintPrimaryKey))

		base, err := r.ComputeTableSchema(nil, nil)
		require.NoError(t, err)
		require.Equal(t, "events", base.Name)
		require.Empty(t, base.ColumnsWithHint(schema.HintPrimaryKey))
		require.Empty(t, r.Hints().PrimaryKey)
	})
}

func TestResource_MergeHints(t *testing.T) {
	t.Parallel()

	r, err := NewResource("events", TableHints{
		PrimaryKey: []string{"id"},
		Columns:    []*schema.Column{{Name: "id", DataType: schema.TypeBigint}},
	})
	require.NoError(t, err)

	notNull := false
	err = r.MergeHints(TableHints{
		TableNameTemplate: "{{ .kind }}",
		Columns: []*schema.Column{
			{Name: "id", Nullable: &notNull},
			{Name: "name", DataType: schema.TypeText},
		},
	}, false)
	require.NoError(t, err)

	hints := r.Hints()
	require.Equal(t, []string{"id"}, hints.PrimaryKey)
	require.Len(t, hints.Columns, 2)
	require.Equal(t, schema.TypeBigint, hints.Columns[0].DataType)
	require.False(t, hints.Columns[0].IsNullable())
	require.True(t, r.HasDynamicTableName())

	name, err := r.ResolveTableName(map[string]any{"kind": "clicks"})
	require.NoError(t, err)
	require.Equal(t, "clicks", name)

	// the returned hints are a copy
	hints.PrimaryKey[0] = "other"
	require.Equal(t, []string{"id"}, r.Hints().PrimaryKey)
}
