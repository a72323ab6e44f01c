// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/sha3"
	"gopkg.in/yaml.v3"
)

// EngineVersion is the version of the stored schema format.
const EngineVersion = 1

type storedSchema struct {
	Name          string            `yaml:"name"`
	Version       int               `yaml:"version"`
	VersionHash   string            `yaml:"version_hash"`
	EngineVersion int               `yaml:"engine_version"`
	Settings      Settings          `yaml:"settings,omitempty"`
	Normalizers   NormalizersConfig `yaml:"normalizers"`
	Tables        map[string]*Table `yaml:"tables"`
}

func (s *Schema) toStored() storedSchema {
	return storedSchema{
		Name:          s.name,
		Version:       s.version,
		VersionHash:   s.versionHash,
		EngineVersion: EngineVersion,
		Settings:      s.settings,
		Normalizers:   s.normalizers,
		Tables:        s.tables,
	}
}

// ToYAML encodes the schema in its stored format.
func ToYAML(s *Schema) ([]byte, error) {
	return yaml.Marshal(s.toStored())
}

// FromYAML decodes a stored schema. The returned schema is a new instance.
func FromYAML(b []byte) (*Schema, error) {
	stored := storedSchema{}
	if err := yaml.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if stored.EngineVersion > EngineVersion {
		return nil, fmt.Errorf("%w: unsupported engine version %d", ErrInvalidSchema, stored.EngineVersion)
	}

	s, err := New(stored.Name, WithSettings(stored.Settings), WithNormalizers(stored.Normalizers))
	if err != nil {
		return nil, err
	}
	s.version = stored.Version
	s.versionHash = stored.VersionHash
	for name, t := range stored.Tables {
		if t == nil {
			return nil, fmt.Errorf("%w: empty table %s", ErrInvalidSchema, name)
		}
		if t.Name == "" {
			t.Name = name
		}
		if t.Name != name {
			return nil, fmt.Errorf("%w: table %s stored under %s", ErrInvalidSchema, t.Name, name)
		}
		s.tables[name] = t
	}
	for _, t := range s.tables {
		if t.Parent != "" {
			if _, found := s.tables[t.Parent]; !found {
				return nil, fmt.Errorf("%w: %s (parent of %s)", ErrParentTableNotFound, t.Parent, t.Name)
			}
		}
	}
	return s, nil
}

// BumpVersion increases the version when the content of the schema changed
// since the last bump. It returns the current version and content hash.
func (s *Schema) BumpVersion() (int, string, error) {
	stored := s.toStored()
	stored.Version, stored.VersionHash = 0, ""
	content, err := yaml.Marshal(stored)
	if err != nil {
		return 0, "", err
	}
	digest := make([]byte, 20)
	sha3.ShakeSum128(digest, content)
	hash := base64.StdEncoding.EncodeToString(digest)
	if hash != s.versionHash {
		s.version++
		s.versionHash = hash
	}
	return s.version, s.versionHash, nil
}

func (c Columns) MarshalYAML() (any, error) {
	cols := c.All()
	if cols == nil {
		cols = []*Column{}
	}
	return cols, nil
}

func (c *Columns) UnmarshalYAML(node *yaml.Node) error {
	cols := []*Column{}
	if err := node.Decode(&cols); err != nil {
		return err
	}
	*c = Columns{}
	for _, col := range cols {
		if col == nil || col.Name == "" {
			return fmt.Errorf("%w: column without name", ErrInvalidSchema)
		}
		if col.DataType != "" && !col.DataType.IsValid() {
			return fmt.Errorf("column %s: %w: %s", col.Name, ErrInvalidDataType, col.DataType)
		}
		c.Set(col)
	}
	return nil
}

// UnmarshalYAML accepts a mapping or a shorthand mode applied to all the
// entities.
func (c *Contract) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		mode, err := ParseContractMode(node.Value)
		if err != nil {
			return err
		}
		*c = NewContract(mode)
		return nil
	}
	type plain Contract
	p := plain{}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Contract(p)
	return c.Validate()
}
