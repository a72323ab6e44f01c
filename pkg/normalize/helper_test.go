// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xataio/relnorm/pkg/schema"
)

const (
	testLoadID = "1700000000.123456"
	testFile   = "test.events.file.jsonl"
)

// linesReader returns the configured lines for every file.
type linesReader struct {
	lines [][]any
	err   error
}

func (r *linesReader) ReadItems(ctx context.Context, _ string, fn func(items []any) error) error {
	for _, line := range r.lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return r.err
}

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

func eventsTable(cols ...*schema.Column) *schema.Table {
	table := schema.NewTable("events", "", cols...)
	table.Resource = "events"
	return table
}

func updatedTables(updates []SchemaUpdate) []string {
	names := []string{}
	for _, u := range updates {
		for _, partial := range u {
			names = append(names, partial.Name)
		}
	}
	return names
}
