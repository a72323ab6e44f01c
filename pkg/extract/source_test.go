// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItemsFromDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		doc       string
		itemsPath string

		wantItems []any
		wantErr   error
	}{
		{
			name:      "top level array",
			doc:       `[{"id": 1}, {"id": 2}]`,
			wantItems: []any{map[string]any{"id": int64(1)}, map[string]any{"id": int64(2)}},
		},
		{
			name:      "top level object",
			doc:       `{"id": 1, "price": 1.5}`,
			wantItems: []any{map[string]any{"id": int64(1), "price": 1.5}},
		},
		{
			name:      "items path to array",
			doc:       `{"data": {"events": [{"id": 1}, "raw"]}, "next": null}`,
			itemsPath: "data.events",
			wantItems: []any{map[string]any{"id": int64(1)}, "raw"},
		},
		{
			name:      "items path to object",
			doc:       `{"data": {"user": {"name": "a"}}}`,
			itemsPath: "data.user",
			wantItems: []any{map[string]any{"name": "a"}},
		},
		{
			name:      "items path with query",
			doc:       `{"events": [{"type": "click"}, {"type": "view"}]}`,
			itemsPath: `events.#(type=="view")#`,
			wantItems: []any{map[string]any{"type": "view"}},
		},
		{
			name:      "items path not found",
			doc:       `{"data": []}`,
			itemsPath: "events",
			wantItems: []any{},
		},
		{
			name:    "error - invalid document",
			doc:     `{"data": [}`,
			wantErr: ErrInvalidDocument,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			items, err := ItemsFromDocument([]byte(tc.doc), tc.itemsPath)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantItems, items)
		})
	}
}
