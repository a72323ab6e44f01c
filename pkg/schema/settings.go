// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

type ContractMode string

const (
	ContractEvolve       ContractMode = "evolve"
	ContractFreeze       ContractMode = "freeze"
	ContractDiscardRow   ContractMode = "discard_row"
	ContractDiscardValue ContractMode = "discard_value"
)

func ParseContractMode(s string) (ContractMode, error) {
	switch m := ContractMode(strings.TrimSpace(s)); m {
	case ContractEvolve, ContractFreeze, ContractDiscardRow, ContractDiscardValue:
		return m, nil
	case "":
		return ContractEvolve, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContractMode, s)
	}
}

// Contract controls how tables, columns and data types may change when
// incoming data does not match the schema.
type Contract struct {
	Tables   ContractMode `yaml:"tables,omitempty" mapstructure:"tables"`
	Columns  ContractMode `yaml:"columns,omitempty" mapstructure:"columns"`
	DataType ContractMode `yaml:"data_type,omitempty" mapstructure:"data_type"`
}

// DefaultContract allows every evolution.
var DefaultContract = Contract{
	Tables:   ContractEvolve,
	Columns:  ContractEvolve,
	DataType: ContractEvolve,
}

// NewContract applies the same mode to all entities.
func NewContract(mode ContractMode) Contract {
	return Contract{
		Tables:   mode,
		Columns:  mode,
		DataType: mode,
	}
}

// ParseContract accepts a shorthand mode applied to all entities or a
// mapping with per entity modes.
func ParseContract(v any) (*Contract, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case string:
		mode, err := ParseContractMode(value)
		if err != nil {
			return nil, err
		}
		c := NewContract(mode)
		return &c, nil
	case Contract:
		return &value, value.Validate()
	case *Contract:
		if value == nil {
			return nil, nil
		}
		return value, value.Validate()
	default:
		c := &Contract{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			ErrorUnused: true,
			Result:      c,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidContractMode, err)
		}
		return c, c.Validate()
	}
}

// Expand fills unset entities with evolve.
func (c Contract) Expand() Contract {
	if c.Tables == "" {
		c.Tables = ContractEvolve
	}
	if c.Columns == "" {
		c.Columns = ContractEvolve
	}
	if c.DataType == "" {
		c.DataType = ContractEvolve
	}
	return c
}

func (c Contract) IsDefault() bool {
	return c.Expand() == DefaultContract
}

func (c Contract) Validate() error {
	for _, m := range []ContractMode{c.Tables, c.Columns, c.DataType} {
		if _, err := ParseContractMode(string(m)); err != nil {
			return err
		}
	}
	return nil
}

// Type detections applied when inferring the type of a new column.
const (
	DetectionISOTimestamp = "iso_timestamp"
	DetectionISODate      = "iso_date"
	DetectionLargeInteger = "large_integer"
)

var knownDetections = []string{DetectionISOTimestamp, DetectionISODate, DetectionLargeInteger}

type Settings struct {
	DefaultHints   map[Hint][]string   `yaml:"default_hints,omitempty"`
	PreferredTypes map[string]DataType `yaml:"preferred_types,omitempty"`
	Detections     []string            `yaml:"detections,omitempty"`
	SchemaContract *Contract           `yaml:"schema_contract,omitempty"`
}

func (s *Settings) Validate() error {
	for hint, patterns := range s.DefaultHints {
		for _, p := range patterns {
			if _, err := compileSimpleRegex(p); err != nil {
				return fmt.Errorf("default hint %s: %w", hint, err)
			}
		}
	}
	for p, dt := range s.PreferredTypes {
		if _, err := compileSimpleRegex(p); err != nil {
			return fmt.Errorf("preferred type: %w", err)
		}
		if !dt.IsValid() {
			return fmt.Errorf("preferred type for %s: %w: %s", p, ErrInvalidDataType, dt)
		}
	}
	for _, d := range s.Detections {
		if !slices.Contains(knownDetections, d) {
			return fmt.Errorf("unknown type detection: %s", d)
		}
	}
	if s.SchemaContract != nil {
		return s.SchemaContract.Validate()
	}
	return nil
}

func (s *Settings) clone() Settings {
	clone := Settings{
		Detections: slices.Clone(s.Detections),
	}
	if s.DefaultHints != nil {
		clone.DefaultHints = make(map[Hint][]string, len(s.DefaultHints))
		for h, p := range s.DefaultHints {
			clone.DefaultHints[h] = slices.Clone(p)
		}
	}
	if s.PreferredTypes != nil {
		clone.PreferredTypes = make(map[string]DataType, len(s.PreferredTypes))
		for p, dt := range s.PreferredTypes {
			clone.PreferredTypes[p] = dt
		}
	}
	if s.SchemaContract != nil {
		contract := *s.SchemaContract
		clone.SchemaContract = &contract
	}
	return clone
}

const simpleRegexPrefix = "re:"

// compileSimpleRegex compiles patterns prefixed with "re:" as regular
// expressions. Any other pattern matches the exact string.
func compileSimpleRegex(pattern string) (*regexp.Regexp, error) {
	if expr, found := strings.CutPrefix(pattern, simpleRegexPrefix); found {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSimpleRegex, pattern, err)
		}
		return re, nil
	}
	return regexp.MustCompile("^" + regexp.QuoteMeta(pattern) + "$"), nil
}

// compileSimpleRegexes ignores invalid patterns, settings are validated
// before they are compiled.
func compileSimpleRegexes(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := compileSimpleRegex(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

type typeRule struct {
	re       *regexp.Regexp
	dataType DataType
}

func compilePreferredTypes(preferred map[string]DataType) []typeRule {
	patterns := make([]string, 0, len(preferred))
	for p := range preferred {
		patterns = append(patterns, p)
	}
	// exact names take precedence over regexes, then lexical order
	sort.Slice(patterns, func(i, j int) bool {
		ri, rj := strings.HasPrefix(patterns[i], simpleRegexPrefix), strings.HasPrefix(patterns[j], simpleRegexPrefix)
		if ri != rj {
			return !ri
		}
		return patterns[i] < patterns[j]
	})
	rules := make([]typeRule, 0, len(patterns))
	for _, p := range patterns {
		if re, err := compileSimpleRegex(p); err == nil {
			rules = append(rules, typeRule{re: re, dataType: preferred[p]})
		}
	}
	return rules
}
