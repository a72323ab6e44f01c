// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/xataio/relnorm/pkg/naming"
	"github.com/xataio/relnorm/pkg/schema"
)

const DefaultMaxNesting = 1000

// Config is the relational normalizer config stored in the schema.
type Config struct {
	// MaxNesting is the number of nesting levels flattened or turned into
	// nested tables. Deeper values are kept as json.
	MaxNesting *int `mapstructure:"max_nesting"`
	// Propagation lists the columns copied from a row into all the rows of
	// its nested tables.
	Propagation *PropagationConfig `mapstructure:"propagation"`
	// StrictIdentifiers rejects records with distinct keys normalizing to the
	// same column. Otherwise the last key in lexical order wins.
	StrictIdentifiers *bool `mapstructure:"strict_identifiers"`
}

// PropagationConfig maps source column names to the names they get in the
// nested rows.
type PropagationConfig struct {
	Root   map[string]string            `mapstructure:"root"`
	Tables map[string]map[string]string `mapstructure:"tables"`
}

// ParseConfig decodes the generic config map stored in the schema. Unknown
// keys and wrongly shaped values are rejected.
func ParseConfig(m map[string]any) (*Config, error) {
	cfg := &Config{}
	if len(m) == 0 {
		return cfg, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxNesting != nil && *c.MaxNesting < 0 {
		return fmt.Errorf("%w: negative max_nesting %d", ErrInvalidConfig, *c.MaxNesting)
	}
	if c.Propagation == nil {
		return nil
	}
	check := func(mapping map[string]string) error {
		for from, to := range mapping {
			if from == "" || to == "" {
				return fmt.Errorf("%w: empty propagated column in %q -> %q", ErrInvalidConfig, from, to)
			}
		}
		return nil
	}
	if err := check(c.Propagation.Root); err != nil {
		return err
	}
	for table, mapping := range c.Propagation.Tables {
		if table == "" {
			return fmt.Errorf("%w: empty propagation table name", ErrInvalidConfig)
		}
		if err := check(mapping); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) maxNesting() int {
	if c.MaxNesting == nil {
		return DefaultMaxNesting
	}
	return *c.MaxNesting
}

func (c *Config) strictIdentifiers() bool {
	return c.StrictIdentifiers != nil && *c.StrictIdentifiers
}

// normalize returns a copy of the config with the propagated column names
// normalized with the naming convention.
func (c *Config) normalize(conv naming.Convention) *Config {
	normalized := &Config{
		MaxNesting:        c.MaxNesting,
		StrictIdentifiers: c.StrictIdentifiers,
	}
	if c.Propagation == nil {
		return normalized
	}
	normalizeMapping := func(mapping map[string]string) map[string]string {
		if mapping == nil {
			return nil
		}
		out := make(map[string]string, len(mapping))
		for from, to := range mapping {
			out[conv.NormalizePath(from)] = conv.NormalizePath(to)
		}
		return out
	}
	normalized.Propagation = &PropagationConfig{
		Root: normalizeMapping(c.Propagation.Root),
	}
	if c.Propagation.Tables != nil {
		normalized.Propagation.Tables = make(map[string]map[string]string, len(c.Propagation.Tables))
		for table, mapping := range c.Propagation.Tables {
			normalized.Propagation.Tables[table] = normalizeMapping(mapping)
		}
	}
	return normalized
}

// merge updates the config with the values set in the update, merging the
// propagation mappings table by table.
func (c *Config) merge(update *Config) {
	if update.MaxNesting != nil {
		c.MaxNesting = update.MaxNesting
	}
	if update.StrictIdentifiers != nil {
		c.StrictIdentifiers = update.StrictIdentifiers
	}
	if update.Propagation == nil {
		return
	}
	if c.Propagation == nil {
		c.Propagation = &PropagationConfig{}
	}
	if update.Propagation.Root != nil {
		if c.Propagation.Root == nil {
			c.Propagation.Root = map[string]string{}
		}
		maps.Copy(c.Propagation.Root, update.Propagation.Root)
	}
	for table, mapping := range update.Propagation.Tables {
		if c.Propagation.Tables == nil {
			c.Propagation.Tables = map[string]map[string]string{}
		}
		if c.Propagation.Tables[table] == nil {
			c.Propagation.Tables[table] = map[string]string{}
		}
		maps.Copy(c.Propagation.Tables[table], mapping)
	}
}

// toMap encodes the config in the generic form stored in the schema.
func (c *Config) toMap() map[string]any {
	m := map[string]any{}
	if c.MaxNesting != nil {
		m["max_nesting"] = *c.MaxNesting
	}
	if c.StrictIdentifiers != nil {
		m["strict_identifiers"] = *c.StrictIdentifiers
	}
	if c.Propagation != nil {
		propagation := map[string]any{}
		if c.Propagation.Root != nil {
			propagation["root"] = stringMapToAny(c.Propagation.Root)
		}
		if c.Propagation.Tables != nil {
			tables := make(map[string]any, len(c.Propagation.Tables))
			for table, mapping := range c.Propagation.Tables {
				tables[table] = stringMapToAny(mapping)
			}
			propagation["tables"] = tables
		}
		m["propagation"] = propagation
	}
	return m
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetNormalizerConfig returns the relational config stored in the schema.
func GetNormalizerConfig(s *schema.Schema) (*Config, error) {
	if err := ensureRelationalNormalizer(s); err != nil {
		return nil, err
	}
	return ParseConfig(s.JSONNormalizerConfig())
}

// UpdateNormalizerConfig normalizes the column identifiers of the update and
// merges it into the config stored in the schema. The schema is left
// untouched when the update changes nothing.
func UpdateNormalizerConfig(s *schema.Schema, update *Config) error {
	if err := update.validate(); err != nil {
		return err
	}
	cfg, err := GetNormalizerConfig(s)
	if err != nil {
		return err
	}
	cfg.merge(update.normalize(s.Naming()))

	existing := s.JSONNormalizerConfig()
	updated := cfg.toMap()
	if len(existing) == 0 && len(updated) == 0 {
		return nil
	}
	if reflect.DeepEqual(normalizeStoredConfig(existing), updated) {
		return nil
	}
	s.SetJSONNormalizerConfig(updated)
	return nil
}

// normalizeStoredConfig re-encodes a config map so it compares equal to the
// output of toMap regardless of how it was decoded.
func normalizeStoredConfig(m map[string]any) map[string]any {
	cfg, err := ParseConfig(m)
	if err != nil {
		return m
	}
	return cfg.toMap()
}

func ensureRelationalNormalizer(s *schema.Schema) error {
	if module := s.NormalizersConfig().JSON.Module; module != schema.DefaultJSONNormalizerModule {
		return fmt.Errorf("%w: %s", ErrUnsupportedNormalizer, module)
	}
	return nil
}
