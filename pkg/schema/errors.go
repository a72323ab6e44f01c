// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

var (
	ErrTableNotFound       = errors.New("table not found")
	ErrParentTableNotFound = errors.New("parent table not found")
	ErrInvalidContractMode = errors.New("invalid schema contract mode")
	ErrInvalidSimpleRegex  = errors.New("invalid simple regex")
	ErrInvalidDataType     = errors.New("invalid data type")
	ErrInvalidSchema       = errors.New("invalid schema")
)

// Entity is the part of a schema a contract applies to.
type Entity string

const (
	EntityTables   Entity = "tables"
	EntityColumns  Entity = "columns"
	EntityDataType Entity = "data_type"
)

// DataValidationError is returned when data violates a frozen contract.
type DataValidationError struct {
	Schema string
	Table  string
	Column string
	Entity Entity
	Mode   ContractMode
	Item   any
}

func (e *DataValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema %s: table %s: column %s: contract on %s is %s", e.Schema, e.Table, e.Column, e.Entity, e.Mode)
	}
	return fmt.Sprintf("schema %s: table %s: contract on %s is %s", e.Schema, e.Table, e.Entity, e.Mode)
}

type CannotCoerceColumnError struct {
	Schema   string
	Table    string
	Column   string
	FromType DataType
	ToType   DataType
	Value    any
}

func (e *CannotCoerceColumnError) Error() string {
	return fmt.Sprintf("schema %s: table %s: cannot coerce column %s from %s to %s", e.Schema, e.Table, e.Column, e.FromType, e.ToType)
}

type CannotCoerceNullError struct {
	Schema string
	Table  string
	Column string
}

func (e *CannotCoerceNullError) Error() string {
	return fmt.Sprintf("schema %s: table %s: column %s is not nullable and got a null value", e.Schema, e.Table, e.Column)
}

type TablePropertiesConflictError struct {
	Schema   string
	Table    string
	Property string
	Existing any
	New      any
}

func (e *TablePropertiesConflictError) Error() string {
	return fmt.Sprintf("schema %s: table %s: conflicting %s: %v != %v", e.Schema, e.Table, e.Property, e.Existing, e.New)
}
