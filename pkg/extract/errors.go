// SPDX-License-Identifier: Apache-2.0

package extract

import "errors"

var (
	ErrDataItemRequired   = errors.New("data item required to resolve dynamic table hints")
	ErrEmptyTableName     = errors.New("resolved table name is empty")
	ErrVariantNameMissing = errors.New("table variant hints need a table name")
	ErrInvalidHints       = errors.New("invalid resource hints")
	ErrUnsupportedItems   = errors.New("unsupported items type")
)
