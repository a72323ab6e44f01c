// SPDX-License-Identifier: Apache-2.0

package naming

import (
	"errors"
	"fmt"
	"strings"
)

// Convention turns arbitrary strings into identifiers that are legal for a
// schema. Implementations must be deterministic and safe for concurrent use.
type Convention interface {
	// NormalizeIdentifier normalizes a single identifier.
	NormalizeIdentifier(identifier string) string
	// NormalizeTableIdentifier normalizes a table name.
	NormalizeTableIdentifier(identifier string) string
	// NormalizePath normalizes each fragment of a path and shortens the
	// resulting identifier.
	NormalizePath(path string) string
	// ShortenFragments joins already normalized fragments into a path and
	// shortens it if it exceeds the max length.
	ShortenFragments(fragments ...string) string
	BreakPath(path string) []string
	MakePath(fragments ...string) string
	PathSeparator() string
	MaxLength() int
	Name() string
}

// EmptyKeyIdentifier replaces empty and whitespace only keys.
const EmptyKeyIdentifier = "_empty"

const (
	SnakeCaseName = "snake_case"
	DirectName    = "direct"
)

var ErrUnknownConvention = errors.New("unknown naming convention")

// NewConvention returns the convention registered under the name. An empty
// name defaults to snake case. A max length of 0 disables shortening.
func NewConvention(name string, maxLength int) (Convention, error) {
	if maxLength < 0 {
		return nil, fmt.Errorf("invalid max identifier length %d", maxLength)
	}
	switch name {
	case "", SnakeCaseName:
		return NewSnakeCase(maxLength), nil
	case DirectName:
		return NewDirect(maxLength), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConvention, name)
	}
}

// pathHelper implements the path handling shared by all conventions.
type pathHelper struct {
	separator string
	maxLength int
}

func (p pathHelper) PathSeparator() string {
	return p.separator
}

func (p pathHelper) MaxLength() int {
	return p.maxLength
}

// BreakPath splits the path on the separator, dropping empty fragments.
func (p pathHelper) BreakPath(path string) []string {
	parts := strings.Split(path, p.separator)
	fragments := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			fragments = append(fragments, part)
		}
	}
	return fragments
}

func (p pathHelper) MakePath(fragments ...string) string {
	return strings.Join(fragments, p.separator)
}

func (p pathHelper) ShortenFragments(fragments ...string) string {
	path := p.MakePath(fragments...)
	return shortenIdentifier(path, path, p.maxLength)
}

func (p pathHelper) normalizePath(path string, normalize func(string) string) string {
	fragments := p.BreakPath(path)
	for i, f := range fragments {
		fragments[i] = normalize(f)
	}
	return shortenIdentifier(p.MakePath(fragments...), path, p.maxLength)
}
