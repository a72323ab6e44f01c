// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xataio/relnorm/pkg/schema"
	"pgregory.net/rapid"
)

// Property-based tests for the row normalizer. Records are generated with a
// small key pool so that nested tables are shared between list elements.

var keyPool = []string{"a", "b", "items", "tags", "Nested"}

func toAny[T any](v T) any { return v }

func genScalar() *rapid.Generator[any] {
	return rapid.OneOf(
		rapid.Map(rapid.Int64Range(-1000, 1000), toAny[int64]),
		rapid.Map(rapid.StringMatching(`[a-z ]{0,6}`), toAny[string]),
		rapid.Map(rapid.Bool(), toAny[bool]),
		rapid.Just[any](nil),
	)
}

func genRecord(depth int) *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		keys := rapid.SliceOfNDistinct(rapid.SampledFrom(keyPool), 0, len(keyPool), rapid.ID[string]).Draw(t, "keys")
		record := make(map[string]any, len(keys))
		for _, k := range keys {
			record[k] = genValue(depth-1).Draw(t, k)
		}
		return record
	})
}

func genList(depth int) *rapid.Generator[any] {
	return rapid.Custom(func(t *rapid.T) any {
		n := rapid.IntRange(0, 3).Draw(t, "len")
		items := make([]any, n)
		for i := range items {
			items[i] = genValue(depth-1).Draw(t, "item")
		}
		return items
	})
}

func genValue(depth int) *rapid.Generator[any] {
	if depth <= 0 {
		return genScalar()
	}
	return rapid.OneOf(
		genScalar(),
		rapid.Map(genRecord(depth), toAny[map[string]any]),
		genList(depth),
	)
}

// nestingDepth returns a depth budget large enough to decompose all the
// containers of the value. Lists directly inside lists cost one more level
// for their wrapper row.
func nestingDepth(v any) int {
	switch value := v.(type) {
	case map[string]any:
		depth := 0
		for _, child := range value {
			depth = max(depth, nestingDepth(child))
		}
		return depth + 1
	case []any:
		depth := 0
		for _, child := range value {
			d := nestingDepth(child)
			if _, ok := child.([]any); ok {
				d++
			}
			depth = max(depth, d)
		}
		return depth + 1
	default:
		return 0
	}
}

// scd2Table hashes root records, making all the row ids deterministic.
func scd2Table() *schema.Table {
	return mergeTable(schema.MergeStrategySCD2,
		&schema.Column{Name: "_dlt_id", DataType: schema.TypeText, RowVersion: true},
	)
}

func TestNormalizer_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		record := genRecord(4).Draw(t, "record")

		first, err := newTestNormalizer(t, nil, scd2Table()).NormalizeItemRows(record, testLoadID, testTable)
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}
		second, err := newTestNormalizer(t, nil, scd2Table()).NormalizeItemRows(record, testLoadID, testTable)
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("normalized rows differ (-first +second):\n%s", diff)
		}
	})
}

func TestNormalizer_ParentLinkIntegrity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		record := genRecord(4).Draw(t, "record")

		rows, err := newTestNormalizer(t, nil).NormalizeItemRows(record, testLoadID, testTable)
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}

		ids := map[string]map[any]int{}
		for _, r := range rows {
			if ids[r.Table.Name] == nil {
				ids[r.Table.Name] = map[any]int{}
			}
			ids[r.Table.Name][r.Row["_dlt_id"]]++
		}
		for _, r := range rows {
			if r.Table.IsRoot() {
				continue
			}
			parentID, found := r.Row["_dlt_parent_id"]
			if !found {
				t.Fatalf("row of %s without parent id: %v", r.Table.Name, r.Row)
			}
			if count := ids[r.Table.Parent][parentID]; count != 1 {
				t.Fatalf("row of %s has %d parents in %s", r.Table.Name, count, r.Table.Parent)
			}
		}
	})
}

func TestNormalizer_DepthCutoffIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		record := genRecord(4).Draw(t, "record")
		// a supplied row id makes the nested row ids deterministic
		record["_dlt_id"] = "root"
		depth := nestingDepth(record)

		exact, err := newTestNormalizer(t, map[string]any{"max_nesting": depth}).NormalizeItemRows(record, testLoadID, testTable)
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}
		extra, err := newTestNormalizer(t, map[string]any{"max_nesting": depth + 100}).NormalizeItemRows(record, testLoadID, testTable)
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}
		if diff := cmp.Diff(exact, extra); diff != "" {
			t.Fatalf("extra nesting budget changed the output (-exact +extra):\n%s", diff)
		}
	})
}

func TestNormalizer_DescendSkip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		record := genRecord(4).Draw(t, "record")
		n := newTestNormalizer(t, nil)

		rows, err := n.NormalizeItemRows(record, testLoadID, testTable)
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}
		tables := make([]string, 0, len(rows))
		for _, r := range rows {
			tables = append(tables, r.Table.Name)
		}
		skipped := rapid.SampledFrom(tables).Draw(t, "skipped")

		parents := map[string]string{}
		err = n.NormalizeItem(record, testLoadID, testTable, func(table TableIdentity, _ schema.Row) (DescendDecision, error) {
			parents[table.Name] = table.Parent
			for ancestor := table.Parent; ancestor != ""; ancestor = parents[ancestor] {
				if ancestor == skipped {
					t.Fatalf("row of %s emitted below skipped table %s", table.Name, skipped)
				}
			}
			if table.Name == skipped {
				return Skip, nil
			}
			return Descend, nil
		})
		if err != nil {
			t.Fatalf("normalizing: %v", err)
		}
	})
}
