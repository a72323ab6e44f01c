// SPDX-License-Identifier: Apache-2.0

package json

import (
	stdjson "encoding/json"
	"io"

	json "github.com/bytedance/sonic"
)

// Number is the literal form of a json number, as decoded when numbers are
// not converted to Go numeric types.
type Number = stdjson.Number

var (
	// items decoded from extracted files keep integers as int64 so they are
	// not inferred as doubles
	itemsAPI = json.Config{
		UseInt64:         true,
		CopyString:       true,
		ValidateString:   true,
		EscapeHTML:       false,
		NoNullSliceOrMap: false,
	}.Froze()

	// canonical encoding sorts map keys so the output is stable for hashing
	canonicalAPI = json.Config{
		SortMapKeys:    true,
		EscapeHTML:     false,
		ValidateString: true,
	}.Froze()
)

func Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalItems decodes data items, keeping integer numbers as int64.
func UnmarshalItems(b []byte, v any) error {
	return itemsAPI.Unmarshal(b, v)
}

// MarshalCanonical encodes v with sorted map keys.
func MarshalCanonical(v any) ([]byte, error) {
	return canonicalAPI.Marshal(v)
}

func NewEncoder(w io.Writer) json.Encoder {
	return itemsAPI.NewEncoder(w)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.ConfigStd.MarshalIndent(v, prefix, indent)
}
