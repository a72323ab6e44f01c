// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/xataio/relnorm/pkg/schema"
)

const (
	testLoadID = "1700000000.000001"
	testSchema = "events_schema"
)

func TestParseFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string

		wantName FileName
		wantErr  error
	}{
		{
			name:     "ok",
			path:     "/data/load/extracted/events_schema.events__items.cn4k1d2s0000000000a0.jsonl",
			wantName: FileName{SchemaName: "events_schema", TableName: "events__items", FileID: "cn4k1d2s0000000000a0"},
		},
		{
			name:    "missing part",
			path:    "events.cn4k1d2s0000000000a0.jsonl",
			wantErr: ErrInvalidFileName,
		},
		{
			name:    "wrong extension",
			path:    "events_schema.events.cn4k1d2s0000000000a0.parquet",
			wantErr: ErrInvalidFileName,
		},
		{
			name:    "empty table",
			path:    "events_schema..cn4k1d2s0000000000a0.jsonl",
			wantErr: ErrInvalidFileName,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			name, err := ParseFileName(tc.path)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantName, name)
		})
	}

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		name := newFileName(testSchema, "events")
		parsed, err := ParseFileName(name.String())
		require.NoError(t, err)
		require.Equal(t, name, parsed)
	})
}

func TestLoadPackage_Items(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	pkg := NewLoadPackage(afero.NewMemMapFs(), "/data", WithClock(clock))

	writer := pkg.NewItemWriter()
	n, err := writer.WriteDataItem(testLoadID, testSchema, "events", []any{
		map[string]any{"id": 1, "name": "a"},
		map[string]any{"id": 2, "nested": map[string]any{"x": 1.5}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = writer.WriteDataItem(testLoadID, testSchema, "events", []any{map[string]any{"id": 3}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, writer.WriteEmptyItemsFile(testLoadID, testSchema, "users"))

	metrics := writer.Metrics()
	require.Equal(t, int64(3), metrics["events"].ItemsCount)
	require.Equal(t, clock.Now(), metrics["events"].CreatedAt)
	require.Equal(t, int64(0), metrics["users"].ItemsCount)
	require.NoError(t, writer.Close())

	_, err = writer.WriteDataItem(testLoadID, testSchema, "events", []any{1})
	require.ErrorIs(t, err, ErrStorageClosed)

	files, err := pkg.ListExtractedFiles(testLoadID)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byTable := map[string]string{}
	for _, f := range files {
		require.Equal(t, pkg.ExtractedDir(testLoadID), filepath.Dir(f))
		name, err := ParseFileName(f)
		require.NoError(t, err)
		require.Equal(t, testSchema, name.SchemaName)
		byTable[name.TableName] = f
	}

	var lines [][]any
	err = pkg.ReadItems(ctx, byTable["events"], func(items []any) error {
		lines = append(lines, items)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{
			map[string]any{"id": int64(1), "name": "a"},
			map[string]any{"id": int64(2), "nested": map[string]any{"x": 1.5}},
		},
		{map[string]any{"id": int64(3)}},
	}, lines)

	size, err := pkg.FileSize(byTable["users"])
	require.NoError(t, err)
	require.Zero(t, size)

	loads, err := pkg.ListLoads()
	require.NoError(t, err)
	require.Equal(t, []string{testLoadID}, loads)
}

func TestLoadPackage_Rows(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	pkg := NewLoadPackage(fs, "/data")

	columns := schema.NewColumns(
		&schema.Column{Name: "id", DataType: schema.TypeBigint},
		&schema.Column{Name: "name", DataType: schema.TypeText},
	)
	writer := pkg.NewRowWriter()
	require.NoError(t, writer.WriteRow(testLoadID, testSchema, "events", schema.Row{"name": "a", "id": int64(1), "_dlt_id": "x"}, &columns))
	require.NoError(t, writer.WriteEmptyTable(testLoadID, testSchema, "empty", &columns))
	require.NoError(t, writer.Close())

	files, err := pkg.ListNormalizedFiles(testLoadID)
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, f := range files {
		name, err := ParseFileName(f)
		require.NoError(t, err)
		if name.TableName != "events" {
			continue
		}
		b, err := afero.ReadFile(fs, f)
		require.NoError(t, err)
		require.Equal(t, `{"id":1,"name":"a","_dlt_id":"x"}`+"\n", string(b))

		var rows []schema.Row
		err = pkg.ReadRows(context.Background(), f, func(row schema.Row) error {
			rows = append(rows, row)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []schema.Row{{"id": int64(1), "name": "a", "_dlt_id": "x"}}, rows)
	}
}

func TestLoadPackage_Errors(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	pkg := NewLoadPackage(fs, "/data")

	_, err := pkg.ListExtractedFiles("missing")
	require.ErrorIs(t, err, ErrLoadNotFound)

	loads, err := pkg.ListLoads()
	require.NoError(t, err)
	require.Empty(t, loads)

	require.NoError(t, fs.MkdirAll(pkg.ExtractedDir(testLoadID), 0o755))
	path := filepath.Join(pkg.ExtractedDir(testLoadID), newFileName(testSchema, "events").String())
	require.NoError(t, afero.WriteFile(fs, path, []byte("[{\"a\":1}]\n{not json\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(pkg.ExtractedDir(testLoadID), "README"), []byte("hi"), 0o644))

	files, err := pkg.ListExtractedFiles(testLoadID)
	require.NoError(t, err)
	require.Equal(t, []string{path}, files)

	count := 0
	err = pkg.ReadItems(context.Background(), path, func([]any) error {
		count++
		return nil
	})
	require.ErrorIs(t, err, ErrInvalidItemsLine)
	require.Equal(t, 1, count)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pkg.ReadItems(ctx, path, func([]any) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	m := NewMemoryStorage(clock)

	n, err := m.WriteDataItem(testLoadID, testSchema, "events", []any{1, 2})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, m.WriteEmptyItemsFile(testLoadID, testSchema, "users"))

	row := schema.Row{"a": 1}
	require.NoError(t, m.WriteRow(testLoadID, testSchema, "events", row, nil))
	row["a"] = 2

	require.Equal(t, []any{1, 2}, m.Items("events"))
	require.Equal(t, []schema.Row{{"a": 1}}, m.Rows("events"))
	require.True(t, m.IsEmpty("users"))
	require.False(t, m.IsEmpty("events"))
	require.ElementsMatch(t, []string{"events", "users"}, m.Tables())
	require.Equal(t, WriterMetrics{ItemsCount: 3, CreatedAt: clock.Now()}, m.Metrics()["events"])

	_, err = m.WriteDataItem(testLoadID, testSchema, "", []any{1})
	require.ErrorIs(t, err, ErrEmptyTableName)

	require.NoError(t, m.Close())
	require.ErrorIs(t, m.WriteRow(testLoadID, testSchema, "events", row, nil), ErrStorageClosed)
}
