// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/xataio/relnorm/pkg/extract"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/pipeline"
	"github.com/xataio/relnorm/pkg/schema"
)

// envConfigToPipelineConfig builds the pipeline config from RELNORM_*
// variables. Env config supports a single resource.
func envConfigToPipelineConfig() (*pipeline.Config, error) {
	settings, err := parseSchemaSettings()
	if err != nil {
		return nil, fmt.Errorf("parsing schema config: %w", err)
	}

	resource, err := parseResourceConfig()
	if err != nil {
		return nil, fmt.Errorf("parsing resource config: %w", err)
	}

	return &pipeline.Config{
		Name:       viper.GetString("RELNORM_PIPELINE_NAME"),
		SchemaName: viper.GetString("RELNORM_SCHEMA_NAME"),
		Workers:    viper.GetUint("RELNORM_WORKERS"),
		Schema: pipeline.SchemaConfig{
			Naming:              viper.GetString("RELNORM_SCHEMA_NAMING"),
			MaxIdentifierLength: viper.GetInt("RELNORM_MAX_IDENTIFIER_LENGTH"),
			Settings:            settings,
		},
		Normalizer: parseNormalizerConfig(),
		Resources:  []pipeline.ResourceConfig{*resource},
	}, nil
}

func parseSchemaSettings() (schema.Settings, error) {
	settings := schema.Settings{
		Detections: viper.GetStringSlice("RELNORM_SCHEMA_DETECTIONS"),
	}
	if mode := viper.GetString("RELNORM_SCHEMA_CONTRACT"); mode != "" {
		contract, err := schema.ParseContract(mode)
		if err != nil {
			return schema.Settings{}, err
		}
		settings.SchemaContract = contract
	}
	return settings, settings.Validate()
}

func parseNormalizerConfig() *relational.Config {
	if !viper.IsSet("RELNORM_MAX_NESTING") && !viper.IsSet("RELNORM_STRICT_IDENTIFIERS") {
		return nil
	}
	cfg := &relational.Config{}
	if viper.IsSet("RELNORM_MAX_NESTING") {
		maxNesting := viper.GetInt("RELNORM_MAX_NESTING")
		cfg.MaxNesting = &maxNesting
	}
	if viper.IsSet("RELNORM_STRICT_IDENTIFIERS") {
		strict := viper.GetBool("RELNORM_STRICT_IDENTIFIERS")
		cfg.StrictIdentifiers = &strict
	}
	return cfg
}

func parseResourceConfig() (*pipeline.ResourceConfig, error) {
	name := viper.GetString("RELNORM_RESOURCE_NAME")
	if name == "" {
		return nil, errMissingResourceName
	}

	var contract *schema.Contract
	if mode := viper.GetString("RELNORM_RESOURCE_CONTRACT"); mode != "" {
		var err error
		if contract, err = schema.ParseContract(mode); err != nil {
			return nil, fmt.Errorf("resource %s: %w", name, err)
		}
	}

	return &pipeline.ResourceConfig{
		Name:      name,
		ItemsPath: viper.GetString("RELNORM_RESOURCE_ITEMS_PATH"),
		Hints: extract.TableHints{
			TableName:         viper.GetString("RELNORM_RESOURCE_TABLE_NAME"),
			TableNameTemplate: viper.GetString("RELNORM_RESOURCE_TABLE_NAME_TEMPLATE"),
			WriteDisposition:  schema.WriteDisposition(viper.GetString("RELNORM_RESOURCE_WRITE_DISPOSITION")),
			MergeStrategy:     schema.MergeStrategy(viper.GetString("RELNORM_RESOURCE_MERGE_STRATEGY")),
			PrimaryKey:        viper.GetStringSlice("RELNORM_RESOURCE_PRIMARY_KEY"),
			MergeKey:          viper.GetStringSlice("RELNORM_RESOURCE_MERGE_KEY"),
			SchemaContract:    contract,
		},
	}, nil
}

func envToOtelConfig() (*otel.Config, error) {
	cfg := &otel.Config{}
	if endpoint := viper.GetString("RELNORM_METRICS_ENDPOINT"); endpoint != "" {
		cfg.Metrics = &otel.MetricsConfig{
			Endpoint:           endpoint,
			CollectionInterval: viper.GetDuration("RELNORM_METRICS_COLLECTION_INTERVAL"),
		}
	}
	if endpoint := viper.GetString("RELNORM_TRACES_ENDPOINT"); endpoint != "" {
		cfg.Traces = &otel.TracesConfig{
			Endpoint:    endpoint,
			SampleRatio: viper.GetFloat64("RELNORM_TRACES_SAMPLE_RATIO"),
		}
	}
	return cfg, nil
}
