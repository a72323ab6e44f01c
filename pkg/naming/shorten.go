// SPDX-License-Identifier: Apache-2.0

package naming

import (
	"encoding/base32"
	"strings"

	"golang.org/x/crypto/sha3"
)

// tagLength is the number of base32 characters appended to shortened
// identifiers. 25 bits keep the collision probability of two long identifiers
// sharing head and tail well below 0.001.
const tagLength = 5

var tagEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// shortenIdentifier trims the normalized identifier to maxLength when longer,
// keeping its head and tail around a tag computed from the original
// identifier, so distinct long identifiers stay distinct.
func shortenIdentifier(normalized, identifier string, maxLength int) string {
	if maxLength <= 0 || len(normalized) <= maxLength {
		return normalized
	}
	return trimAndTag(normalized, computeTag(identifier), maxLength)
}

func computeTag(identifier string) string {
	digest := make([]byte, 8)
	sha3.ShakeSum128(digest, []byte(strings.TrimSpace(identifier)))
	return strings.ToLower(tagEncoding.EncodeToString(digest))[:tagLength]
}

func trimAndTag(identifier, tag string, maxLength int) string {
	if maxLength <= len(tag) {
		return tag[:maxLength]
	}
	remaining := maxLength - len(tag)
	head := remaining/2 + remaining%2
	tail := remaining / 2
	return identifier[:head] + tag + identifier[len(identifier)-tail:]
}
