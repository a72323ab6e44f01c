// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"github.com/stretchr/testify/require"
	"github.com/xataio/relnorm/pkg/schema"
)

const (
	testLoadID = "1700000000.123456"
	testTable  = "events"
)

func newTestSchema(t require.TestingT, normalizerConfig map[string]any, tables ...*schema.Table) *schema.Schema {
	s, err := schema.New("test", schema.WithNormalizers(schema.NormalizersConfig{
		Names: "snake_case",
		JSON: schema.JSONNormalizerConfig{
			Module: schema.DefaultJSONNormalizerModule,
			Config: normalizerConfig,
		},
	}))
	require.NoError(t, err)
	for _, table := range tables {
		_, err := s.UpdateTable(table, true, false)
		require.NoError(t, err)
	}
	return s
}

func newTestNormalizer(t require.TestingT, normalizerConfig map[string]any, tables ...*schema.Table) *Normalizer {
	n, err := New(newTestSchema(t, normalizerConfig, tables...))
	require.NoError(t, err)
	return n
}

// mergeTable returns a root table using the merge write disposition with the
// given strategy.
func mergeTable(strategy schema.MergeStrategy, cols ...*schema.Column) *schema.Table {
	table := schema.NewTable(testTable, "", cols...)
	table.WriteDisposition = schema.WriteDispositionMerge
	table.MergeStrategy = strategy
	return table
}

func rowsByTable(rows []NormalizedRow) map[string][]schema.Row {
	byTable := map[string][]schema.Row{}
	for _, r := range rows {
		byTable[r.Table.Name] = append(byTable[r.Table.Name], r.Row)
	}
	return byTable
}

func intPtr(i int) *int {
	return &i
}
