// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/xataio/relnorm/internal/json"
	"github.com/xataio/relnorm/pkg/schema"
	"golang.org/x/crypto/sha3"
)

// IDLength is the number of bytes of the row ids. Encoded ids are 14
// characters long.
const IDLength = 10

var idEncoding = base64.RawStdEncoding

// RowHash returns a deterministic hash of the row values. System columns are
// excluded unless they are listed in the subset. With a subset, only the
// columns in it are hashed.
func RowHash(row schema.Row, subset []string) (string, error) {
	filtered := make(map[string]any, len(row))
	if subset != nil {
		for _, col := range subset {
			if v, found := row[col]; found {
				filtered[col] = v
			}
		}
	} else {
		for k, v := range row {
			if !strings.HasPrefix(k, schema.DltPrefix) {
				filtered[k] = v
			}
		}
	}
	b, err := json.MarshalCanonical(filtered)
	if err != nil {
		return "", fmt.Errorf("encoding row for hashing: %w", err)
	}
	return digest128(b), nil
}

// KeyHash returns a deterministic hash of the primary key values of the row.
// All primary key columns must have a value.
func KeyHash(row schema.Row, primaryKey []string) (string, error) {
	for _, col := range primaryKey {
		if v, found := row[col]; !found || v == nil {
			return "", &PrimaryKeyMissingError{Column: col}
		}
	}
	return RowHash(row, primaryKey)
}

// NestedRowHash returns the id of the row at the given position of a nested
// table. Lists are ordered, so the same position under the same parent always
// gets the same id.
func NestedRowHash(parentID, table string, pos int) string {
	return digest128([]byte(fmt.Sprintf("%s_%s_%d", parentID, table, pos)))
}

// GenerateID returns a random row id.
func GenerateID() string {
	b := make([]byte, IDLength)
	// crypto/rand.Read never returns an error
	_, _ = rand.Read(b)
	return idEncoding.EncodeToString(b)
}

func GenerateIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = GenerateID()
	}
	return ids
}

func digest128(b []byte) string {
	digest := make([]byte, IDLength)
	sha3.ShakeSum128(digest, b)
	return idEncoding.EncodeToString(digest)
}
