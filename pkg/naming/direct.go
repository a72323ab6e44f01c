// SPDX-License-Identifier: Apache-2.0

package naming

import "strings"

// Direct keeps identifiers as they are, only replacing characters that would
// break paths or quoting. Used by schemas that must keep the source casing.
type Direct struct {
	pathHelper
}

const directPathSeparator = "▶"

var directCleanup = strings.NewReplacer(
	".", "_",
	"\n", "_",
	"\r", "_",
	"'", "_",
	`"`, "_",
	directPathSeparator, "_",
)

func NewDirect(maxLength int) *Direct {
	return &Direct{
		pathHelper: pathHelper{
			separator: directPathSeparator,
			maxLength: maxLength,
		},
	}
}

func (d *Direct) Name() string {
	return DirectName
}

func (d *Direct) NormalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return EmptyKeyIdentifier
	}
	return shortenIdentifier(directCleanup.Replace(identifier), identifier, d.maxLength)
}

func (d *Direct) NormalizeTableIdentifier(identifier string) string {
	return d.NormalizeIdentifier(identifier)
}

func (d *Direct) NormalizePath(path string) string {
	if strings.TrimSpace(path) == "" {
		return EmptyKeyIdentifier
	}
	return d.normalizePath(path, d.NormalizeIdentifier)
}
