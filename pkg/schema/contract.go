// SPDX-License-Identifier: Apache-2.0

package schema

import "strings"

// Filter is a decision taken by a schema contract on a table or column. The
// extractors and normalizers keep them to skip the rows and values of the
// same entity without evaluating the contract again.
type Filter struct {
	Entity Entity
	Name   string
	Mode   ContractMode
}

// ResolveContractSettingsForTable returns the contract of the root table of
// the given table, falling back to the schema settings. Tables not yet in the
// schema are resolved through the parent of newTable, when given. Unset
// entities default to evolve.
func (s *Schema) ResolveContractSettingsForTable(name string, newTable *Table) Contract {
	if _, found := s.tables[name]; !found && newTable != nil {
		if newTable.SchemaContract != nil && !newTable.IsNested() {
			return newTable.SchemaContract.Expand()
		}
		if newTable.IsNested() {
			name = newTable.Parent
		}
	}
	if root, err := s.RootTable(name); err == nil && root.SchemaContract != nil {
		return root.SchemaContract.Expand()
	}
	if s.settings.SchemaContract != nil {
		return s.settings.SchemaContract.Expand()
	}
	return DefaultContract
}

// ApplySchemaContract checks the partial table against the contract. It
// returns the partial table without the columns the contract rejects, or nil
// when the whole table is rejected, together with the filters that were
// applied. A frozen entity returns a DataValidationError. The partial table
// on input is not modified.
func (s *Schema) ApplySchemaContract(contract Contract, partial *Table, item any) (*Table, []Filter, error) {
	contract = contract.Expand()
	if contract == DefaultContract {
		return partial, nil, nil
	}

	existing, found := s.tables[partial.Name]
	isNewTable := !found || s.IsNewTable(partial.Name)
	if isNewTable && contract.Tables != ContractEvolve {
		if contract.Tables == ContractFreeze {
			return nil, nil, &DataValidationError{
				Schema: s.name,
				Table:  partial.Name,
				Entity: EntityTables,
				Mode:   contract.Tables,
				Item:   item,
			}
		}
		return nil, []Filter{{Entity: EntityTables, Name: partial.Name, Mode: contract.Tables}}, nil
	}

	columnMode, dataMode := contract.Columns, contract.DataType
	// new tables and tables allowed to evolve once accept any new column
	if isNewTable || existing.EvolveColumnsOnce() {
		columnMode = ContractEvolve
	}

	result := partial.Clone()
	filters := []Filter{}
	for _, col := range partial.Columns.All() {
		// system columns may always be added
		if strings.HasPrefix(col.Name, DltPrefix) {
			continue
		}
		mode := columnMode
		if col.Variant {
			mode = dataMode
		}
		if mode == ContractEvolve {
			continue
		}
		if mode == ContractFreeze {
			entity := EntityColumns
			if col.Variant {
				entity = EntityDataType
			}
			return nil, nil, &DataValidationError{
				Schema: s.name,
				Table:  partial.Name,
				Column: col.Name,
				Entity: entity,
				Mode:   mode,
				Item:   item,
			}
		}
		filters = append(filters, Filter{Entity: EntityColumns, Name: col.Name, Mode: mode})
		result.Columns.Delete(col.Name)
	}
	return result, filters, nil
}
