// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/pipeline"
	"github.com/xataio/relnorm/pkg/schema"
)

func ptr[T any](v T) *T {
	return &v
}

// this function validates the pipeline settings shared by the yaml and env
// test configurations in the test directory.
func validateTestPipelineConfig(t *testing.T, cfg *pipeline.Config) {
	require.NotNil(t, cfg)
	assert.Equal(t, "shop", cfg.Name)
	assert.Equal(t, "shop_events", cfg.SchemaName)
	assert.Equal(t, uint(4), cfg.Workers)

	assert.Equal(t, "snake_case", cfg.Schema.Naming)
	assert.Equal(t, 63, cfg.Schema.MaxIdentifierLength)
	assert.Equal(t, []string{schema.DetectionISOTimestamp}, cfg.Schema.Settings.Detections)
	require.NotNil(t, cfg.Schema.Settings.SchemaContract)
	assert.Equal(t, schema.ContractDiscardValue, cfg.Schema.Settings.SchemaContract.Columns)

	require.NotNil(t, cfg.Normalizer)
	assert.Equal(t, ptr(3), cfg.Normalizer.MaxNesting)
	assert.Equal(t, ptr(true), cfg.Normalizer.StrictIdentifiers)

	require.NotEmpty(t, cfg.Resources)
	orders := cfg.Resources[0]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "data.orders", orders.ItemsPath)
	assert.Equal(t, "orders", orders.Hints.TableName)
	assert.Equal(t, schema.WriteDispositionMerge, orders.Hints.WriteDisposition)
	assert.Equal(t, schema.MergeStrategyUpsert, orders.Hints.MergeStrategy)
	assert.Equal(t, []string{"id"}, orders.Hints.PrimaryKey)
	assert.Empty(t, orders.Hints.MergeKey)
}

// this function validates the otel configuration produced from the test
// configuration in the test directory.
func validateTestOtelConfig(t *testing.T, otelConfig *otel.Config) {
	require.NotNil(t, otelConfig.Metrics)
	assert.Equal(t, "http://localhost:4317", otelConfig.Metrics.Endpoint)
	assert.Equal(t, 60*time.Second, otelConfig.Metrics.CollectionInterval)
	require.NotNil(t, otelConfig.Traces)
	assert.Equal(t, "http://localhost:4317", otelConfig.Traces.Endpoint)
	assert.Equal(t, 0.5, otelConfig.Traces.SampleRatio)
}
