// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/xataio/relnorm/pkg/extract"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/pipeline"
	"github.com/xataio/relnorm/pkg/schema"
)

type YAMLConfig struct {
	Pipeline        PipelineConfig        `mapstructure:"pipeline" yaml:"pipeline"`
	Schema          SchemaConfig          `mapstructure:"schema" yaml:"schema"`
	Normalizer      map[string]any        `mapstructure:"normalizer" yaml:"normalizer"`
	Resources       []ResourceConfig      `mapstructure:"resources" yaml:"resources"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation" yaml:"instrumentation"`
}

type PipelineConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	SchemaName string `mapstructure:"schema_name" yaml:"schema_name"`
	StorageDir string `mapstructure:"storage_dir" yaml:"storage_dir"`
	Workers    uint   `mapstructure:"workers" yaml:"workers"`
}

type SchemaConfig struct {
	Dir                 string              `mapstructure:"dir" yaml:"dir"`
	Naming              string              `mapstructure:"naming" yaml:"naming"`
	MaxIdentifierLength int                 `mapstructure:"max_identifier_length" yaml:"max_identifier_length"`
	Contract            any                 `mapstructure:"contract" yaml:"contract"`
	Detections          []string            `mapstructure:"detections" yaml:"detections"`
	PreferredTypes      map[string]string   `mapstructure:"preferred_types" yaml:"preferred_types"`
	DefaultHints        map[string][]string `mapstructure:"default_hints" yaml:"default_hints"`
}

type ResourceConfig struct {
	Name              string           `mapstructure:"name" yaml:"name"`
	TableName         string           `mapstructure:"table_name" yaml:"table_name"`
	TableNameTemplate string           `mapstructure:"table_name_template" yaml:"table_name_template"`
	Parent            string           `mapstructure:"parent" yaml:"parent"`
	ItemsPath         string           `mapstructure:"items_path" yaml:"items_path"`
	WriteDisposition  string           `mapstructure:"write_disposition" yaml:"write_disposition"`
	MergeStrategy     string           `mapstructure:"merge_strategy" yaml:"merge_strategy"`
	PrimaryKey        []string         `mapstructure:"primary_key" yaml:"primary_key"`
	MergeKey          []string         `mapstructure:"merge_key" yaml:"merge_key"`
	MaxNesting        *int             `mapstructure:"max_nesting" yaml:"max_nesting"`
	Contract          any              `mapstructure:"contract" yaml:"contract"`
	Columns           []*schema.Column `mapstructure:"columns" yaml:"columns"`
}

type InstrumentationConfig struct {
	Metrics *MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Traces  *TracesConfig  `mapstructure:"traces" yaml:"traces"`
}

type MetricsConfig struct {
	Endpoint           string        `mapstructure:"endpoint" yaml:"endpoint"`
	CollectionInterval time.Duration `mapstructure:"collection_interval" yaml:"collection_interval"`
}

type TracesConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

var (
	errMissingResourceName = errors.New("resource name is required")
	errInvalidDataType     = errors.New("invalid preferred data type")
)

func (c *YAMLConfig) toPipelineConfig() (*pipeline.Config, error) {
	settings, err := c.Schema.parseSettings()
	if err != nil {
		return nil, fmt.Errorf("parsing schema config: %w", err)
	}

	cfg := &pipeline.Config{
		Name:       c.Pipeline.Name,
		SchemaName: c.Pipeline.SchemaName,
		Workers:    c.Pipeline.Workers,
		Schema: pipeline.SchemaConfig{
			Naming:              c.Schema.Naming,
			MaxIdentifierLength: c.Schema.MaxIdentifierLength,
			Settings:            settings,
		},
	}

	if len(c.Normalizer) > 0 {
		if cfg.Normalizer, err = relational.ParseConfig(c.Normalizer); err != nil {
			return nil, fmt.Errorf("parsing normalizer config: %w", err)
		}
	}

	for _, r := range c.Resources {
		resourceCfg, err := r.parseResourceConfig()
		if err != nil {
			return nil, fmt.Errorf("parsing resource config: %w", err)
		}
		cfg.Resources = append(cfg.Resources, *resourceCfg)
	}
	return cfg, nil
}

func (c *SchemaConfig) parseSettings() (schema.Settings, error) {
	settings := schema.Settings{
		Detections: c.Detections,
	}

	contract, err := schema.ParseContract(c.Contract)
	if err != nil {
		return schema.Settings{}, err
	}
	settings.SchemaContract = contract

	if len(c.PreferredTypes) > 0 {
		settings.PreferredTypes = make(map[string]schema.DataType, len(c.PreferredTypes))
		for pattern, dt := range c.PreferredTypes {
			dataType := schema.DataType(dt)
			if !dataType.IsValid() {
				return schema.Settings{}, fmt.Errorf("%w: %s", errInvalidDataType, dt)
			}
			settings.PreferredTypes[pattern] = dataType
		}
	}

	if len(c.DefaultHints) > 0 {
		settings.DefaultHints = make(map[schema.Hint][]string, len(c.DefaultHints))
		for hint, patterns := range c.DefaultHints {
			settings.DefaultHints[schema.Hint(hint)] = patterns
		}
	}
	return settings, settings.Validate()
}

func (r *ResourceConfig) parseResourceConfig() (*pipeline.ResourceConfig, error) {
	if r.Name == "" {
		return nil, errMissingResourceName
	}

	contract, err := schema.ParseContract(r.Contract)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", r.Name, err)
	}

	return &pipeline.ResourceConfig{
		Name:      r.Name,
		ItemsPath: r.ItemsPath,
		Hints: extract.TableHints{
			TableName:         r.TableName,
			TableNameTemplate: r.TableNameTemplate,
			Parent:            r.Parent,
			WriteDisposition:  schema.WriteDisposition(r.WriteDisposition),
			MergeStrategy:     schema.MergeStrategy(r.MergeStrategy),
			PrimaryKey:        r.PrimaryKey,
			MergeKey:          r.MergeKey,
			Columns:           r.Columns,
			SchemaContract:    contract,
			MaxNesting:        r.MaxNesting,
		},
	}, nil
}

func (c *YAMLConfig) toOtelConfig() *otel.Config {
	cfg := &otel.Config{}
	if c.Instrumentation.Metrics != nil {
		cfg.Metrics = &otel.MetricsConfig{
			Endpoint:           c.Instrumentation.Metrics.Endpoint,
			CollectionInterval: c.Instrumentation.Metrics.CollectionInterval,
		}
	}
	if c.Instrumentation.Traces != nil {
		cfg.Traces = &otel.TracesConfig{
			Endpoint:    c.Instrumentation.Traces.Endpoint,
			SampleRatio: c.Instrumentation.Traces.SampleRatio,
		}
	}
	return cfg
}
