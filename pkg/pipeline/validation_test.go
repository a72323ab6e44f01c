// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemaFile(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, testConfig())
	ctx := context.Background()
	orders, err := p.DocumentSource("orders", []byte(`{"data": {"orders": [{"id": 1}]}}`))
	require.NoError(t, err)
	_, err = p.Run(ctx, orders)
	require.NoError(t, err)

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "invalid.schema.yaml", []byte("name: [shop"), 0o644))

	tests := []struct {
		name string
		fs   afero.Fs
		path string

		wantSchema string
		wantErrs   bool
	}{
		{
			name:       "ok - stored schema",
			fs:         p.fsys,
			path:       p.store.Path("shop"),
			wantSchema: "shop",
		},
		{
			name:     "error - missing file",
			fs:       fsys,
			path:     "missing.schema.yaml",
			wantErrs: true,
		},
		{
			name:     "error - invalid yaml",
			fs:       fsys,
			path:     "invalid.schema.yaml",
			wantErrs: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			status := ValidateSchemaFile(tc.fs, tc.path)
			require.Equal(t, tc.wantSchema, status.Schema)
			if tc.wantErrs {
				require.NotEmpty(t, status.Errors)
				return
			}
			require.Empty(t, status.Errors)
			require.Contains(t, status.DataTables, "orders")
		})
	}
}

func TestPipeline_Validate(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, testConfig())

	status := p.Validate(context.Background())
	require.Equal(t, "shop", status.Schema)
	require.Empty(t, status.Errors)
	require.Empty(t, status.DataTables)
}

func TestValidationStatus_PrettyPrint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     *ValidationStatus
		wantOutput string
	}{
		{
			name: "valid schema",
			status: &ValidationStatus{
				Schema:     "shop",
				Version:    2,
				DataTables: []string{"orders"},
			},
			wantOutput: `Schema name: shop
Schema version: 2
Schema data tables: [orders]`,
		},
		{
			name: "unreadable schema",
			status: &ValidationStatus{
				Errors: []string{"reading schema file"},
			},
			wantOutput: `Schema errors: [reading schema file]`,
		},
		{
			name:       "nil status",
			status:     nil,
			wantOutput: "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.wantOutput, tc.status.PrettyPrint())
		})
	}
}
