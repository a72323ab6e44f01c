// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/pipeline"
)

const defaultStorageDir = ".relnorm"

func Load() error {
	return LoadFile(viper.GetString("config"))
}

func LoadFile(file string) error {
	if file != "" {
		viper.SetConfigFile(file)
		viper.SetConfigType(filepath.Ext(file)[1:])
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func isYAMLConfig() bool {
	switch filepath.Ext(viper.GetViper().ConfigFileUsed()) {
	case ".yml", ".yaml":
		return true
	default:
		return false
	}
}

// StorageDir is the directory holding the load packages.
func StorageDir() string {
	switch {
	case viper.GetString("pipeline.storage_dir") != "":
		// yaml config
		return viper.GetString("pipeline.storage_dir")
	case viper.GetString("RELNORM_STORAGE_DIR") != "":
		// env config or CLI argument
		return viper.GetString("RELNORM_STORAGE_DIR")
	default:
		return defaultStorageDir
	}
}

// SchemaDir is the directory of the schema store, inside the storage
// directory unless configured.
func SchemaDir() string {
	switch {
	case viper.GetString("schema.dir") != "":
		return viper.GetString("schema.dir")
	case viper.GetString("RELNORM_SCHEMA_DIR") != "":
		return viper.GetString("RELNORM_SCHEMA_DIR")
	default:
		return filepath.Join(StorageDir(), "schemas")
	}
}

func ParsePipelineConfig() (*pipeline.Config, error) {
	if isYAMLConfig() {
		yamlCfg := YAMLConfig{}
		if err := viper.Unmarshal(&yamlCfg); err != nil {
			return nil, err
		}
		return yamlCfg.toPipelineConfig()
	}
	return envConfigToPipelineConfig()
}

func ParseInstrumentationConfig() (*otel.Config, error) {
	if isYAMLConfig() {
		yamlCfg := YAMLConfig{}
		if err := viper.Unmarshal(&yamlCfg); err != nil {
			return nil, err
		}
		return yamlCfg.toOtelConfig(), nil
	}
	return envToOtelConfig()
}
