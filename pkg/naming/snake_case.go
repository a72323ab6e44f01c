// SPDX-License-Identifier: Apache-2.0

package naming

import (
	"regexp"
	"strings"
)

// SnakeCase produces lower case identifiers made of ascii letters, digits and
// underscores. Path fragments are joined with a double underscore, which is
// why consecutive underscores are collapsed inside a single identifier.
type SnakeCase struct {
	pathHelper
}

const snakeCasePathSeparator = "__"

var (
	reduceAlphabet    = strings.NewReplacer("+", "x", "-", "_", "*", "x", "@", "a", "|", "l")
	reNonAlphanumeric = regexp.MustCompile(`[^a-zA-Z\d_]+`)
	reSnakeCaseBreak1 = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	reSnakeCaseBreak2 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	reLeadingDigits   = regexp.MustCompile(`^\d`)
	reUnderscores     = regexp.MustCompile(`_+`)
)

func NewSnakeCase(maxLength int) *SnakeCase {
	return &SnakeCase{
		pathHelper: pathHelper{
			separator: snakeCasePathSeparator,
			maxLength: maxLength,
		},
	}
}

func (s *SnakeCase) Name() string {
	return SnakeCaseName
}

func (s *SnakeCase) NormalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return EmptyKeyIdentifier
	}
	normalized := reduceAlphabet.Replace(identifier)
	normalized = reNonAlphanumeric.ReplaceAllString(normalized, "_")
	return shortenIdentifier(toSnakeCase(normalized), identifier, s.maxLength)
}

func (s *SnakeCase) NormalizeTableIdentifier(identifier string) string {
	return s.NormalizeIdentifier(identifier)
}

func (s *SnakeCase) NormalizePath(path string) string {
	if strings.TrimSpace(path) == "" {
		return EmptyKeyIdentifier
	}
	return s.normalizePath(path, s.NormalizeIdentifier)
}

func toSnakeCase(identifier string) string {
	identifier = reSnakeCaseBreak1.ReplaceAllString(identifier, "${1}_${2}")
	identifier = strings.ToLower(reSnakeCaseBreak2.ReplaceAllString(identifier, "${1}_${2}"))

	if reLeadingDigits.MatchString(identifier) {
		identifier = "_" + identifier
	}

	// trailing underscores become x
	stripped := strings.TrimRight(identifier, "_")
	stripped += strings.Repeat("x", len(identifier)-len(stripped))

	return reUnderscores.ReplaceAllString(stripped, "_")
}
