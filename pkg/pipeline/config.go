// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"fmt"

	"github.com/xataio/relnorm/pkg/extract"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/schema"
)

type Config struct {
	Name       string
	SchemaName string
	Workers    uint
	Schema     SchemaConfig
	// Normalizer is merged into the normalizer config stored in the schema.
	Normalizer *relational.Config
	Resources  []ResourceConfig
}

// SchemaConfig is used when the pipeline schema is created. Stored schemas
// keep their own naming and settings.
type SchemaConfig struct {
	Naming              string
	MaxIdentifierLength int
	Settings            schema.Settings
}

type ResourceConfig struct {
	Name string
	// ItemsPath selects the items of the input documents of the resource.
	ItemsPath string
	Hints     extract.TableHints
}

var (
	ErrInvalidConfig    = errors.New("invalid pipeline config")
	ErrResourceNotFound = errors.New("resource not found")
)

func (c *Config) IsValid() error {
	if c.Name == "" && c.SchemaName == "" {
		return fmt.Errorf("%w: need a pipeline or schema name", ErrInvalidConfig)
	}
	if len(c.Resources) == 0 {
		return fmt.Errorf("%w: need at least one resource configured", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Resources))
	for _, r := range c.Resources {
		if _, found := seen[r.Name]; found {
			return fmt.Errorf("%w: duplicate resource %s", ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// schemaName defaults to the pipeline name.
func (c *Config) schemaName() string {
	if c.SchemaName != "" {
		return c.SchemaName
	}
	return c.Name
}
