// SPDX-License-Identifier: Apache-2.0

package extract

// TableNameMeta sends the items it comes with to the given table instead of
// the resource table.
type TableNameMeta struct {
	TableName string
}

// HintsMeta updates the hints of the resource before writing the items it
// comes with. With CreateTableVariant, the hints create or update a variant
// of the resource table named after Hints.TableName and the items go to
// that table.
type HintsMeta struct {
	Hints              TableHints
	CreateTableVariant bool
}

// MaterializedEmptyList is an empty list of items that still creates the
// table of the resource in the destination.
type MaterializedEmptyList []any
