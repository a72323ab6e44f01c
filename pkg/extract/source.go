// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/xataio/relnorm/internal/json"
)

var ErrInvalidDocument = errors.New("invalid json document")

// ItemsFromDocument decodes the items of a json document. With an items
// path, the items are selected with a gjson path: arrays yield one item per
// element, anything else a single item. Without a path, a top level array
// yields its elements. A path matching nothing yields no items.
func ItemsFromDocument(doc []byte, itemsPath string) ([]any, error) {
	if !gjson.ValidBytes(doc) {
		return nil, ErrInvalidDocument
	}

	raw := doc
	if itemsPath != "" {
		res := gjson.GetBytes(doc, itemsPath)
		if !res.Exists() {
			return []any{}, nil
		}
		raw = []byte(res.Raw)
	}

	var value any
	// numbers are decoded with the items codec to keep integers as int64
	if err := json.UnmarshalItems(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if list, ok := value.([]any); ok {
		return list, nil
	}
	return []any{value}, nil
}
