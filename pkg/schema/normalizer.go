// SPDX-License-Identifier: Apache-2.0

package schema

import "maps"

// ItemNormalizer is implemented by the item normalizer bound to a schema. The
// schema notifies it every time a table is added or updated.
type ItemNormalizer interface {
	// ExtendSchema adds the normalizer specific hints and settings.
	ExtendSchema() error
	// ExtendTable is called with the normalized name of a table that was
	// added or updated.
	ExtendTable(tableName string)
}

const DefaultJSONNormalizerModule = "relational"

type NormalizersConfig struct {
	Names               string               `yaml:"names"`
	MaxIdentifierLength int                  `yaml:"max_identifier_length,omitempty"`
	JSON                JSONNormalizerConfig `yaml:"json"`
}

type JSONNormalizerConfig struct {
	Module string         `yaml:"module"`
	Config map[string]any `yaml:"config,omitempty"`
}

func (c *NormalizersConfig) clone() NormalizersConfig {
	clone := *c
	clone.JSON.Config = deepCopyMap(c.JSON.Config)
	return clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCopyValue(v)
	}
	return clone
}

func deepCopyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return deepCopyMap(value)
	case map[string]string:
		return maps.Clone(value)
	case []any:
		clone := make([]any, len(value))
		for i, item := range value {
			clone[i] = deepCopyValue(item)
		}
		return clone
	default:
		return v
	}
}
