// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPrimaryKeyMissing     = errors.New("primary key missing")
	ErrDuplicateIdentifier   = errors.New("duplicate normalized identifier")
	ErrInvalidConfig         = errors.New("invalid relational normalizer config")
	ErrMissingNaming         = errors.New("schema has no naming convention")
	ErrUnsupportedNormalizer = errors.New("schema is configured with another json normalizer")
)

// PrimaryKeyMissingError is returned when a row has no value for a primary
// key column used to compute its id.
type PrimaryKeyMissingError struct {
	Table  string
	Column string
}

func (e *PrimaryKeyMissingError) Error() string {
	return fmt.Sprintf("table %s: %s: %s", e.Table, ErrPrimaryKeyMissing, e.Column)
}

func (e *PrimaryKeyMissingError) Unwrap() error {
	return ErrPrimaryKeyMissing
}

// DuplicateIdentifierError is returned in strict identifier mode when
// distinct keys of a record normalize to the same column.
type DuplicateIdentifierError struct {
	Table      string
	Identifier string
	Keys       []string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("table %s: %s %s from keys %s", e.Table, ErrDuplicateIdentifier, e.Identifier, strings.Join(e.Keys, ", "))
}

func (e *DuplicateIdentifierError) Unwrap() error {
	return ErrDuplicateIdentifier
}
