// SPDX-License-Identifier: Apache-2.0

package relational

import (
	"reflect"
	"sort"
	"strings"

	"github.com/xataio/relnorm/pkg/schema"
)

// nestedList is a list found while flattening a record, to be turned into a
// nested table. The path holds the normalized fragments relative to the
// record table.
type nestedList struct {
	path  []string
	items []any
}

const listSep = "\x00"

type flattener struct {
	n       *Normalizer
	table   string
	strict  bool
	row     schema.Row
	lists   []nestedList
	origins map[string]string
}

// flatten splits the record into a flat row and the lists it contains.
// Nested mappings are flattened into columns named after their path while
// the depth budget lasts and the column is not typed as json. Past that the
// values are kept as they are.
func (n *Normalizer) flatten(table string, record map[string]any, depth int) (schema.Row, []nestedList, error) {
	f := &flattener{
		n:      n,
		table:  table,
		strict: n.view().config.strictIdentifiers(),
		row:    make(schema.Row, len(record)),
	}
	if f.strict {
		f.origins = make(map[string]string, len(record))
	}
	if err := f.flattenMap(record, depth, nil, nil); err != nil {
		return nil, nil, err
	}
	return f.row, f.lists, nil
}

func (f *flattener) flattenMap(record map[string]any, depth int, path, rawPath []string) error {
	for _, key := range sortedKeys(record) {
		value := record[key]
		normKey := f.n.names.NormalizePath(key)
		name := normKey
		if len(path) > 0 {
			name = f.n.names.ShortenFragments(appendPath(path, normKey)...)
		}

		if isContainer(value) && !f.n.isNestedType(f.table, name, depth) {
			if m, ok := asMap(value); ok {
				if err := f.flattenMap(m, depth-1, appendPath(path, normKey), appendPath(rawPath, key)); err != nil {
					return err
				}
				continue
			}
			items, _ := asList(value)
			listPath := appendPath(path, f.n.names.NormalizeTableIdentifier(key))
			// lists claim the table name, which cannot clash with a column
			if err := f.claim(listSep+strings.Join(listPath, listSep), appendPath(rawPath, key)); err != nil {
				return err
			}
			f.lists = append(f.lists, nestedList{
				path:  listPath,
				items: items,
			})
			continue
		}

		if err := f.set(name, value, appendPath(rawPath, key)); err != nil {
			return err
		}
	}
	return nil
}

func (f *flattener) set(name string, value any, rawPath []string) error {
	if err := f.claim(name, rawPath); err != nil {
		return err
	}
	f.row[name] = value
	return nil
}

// claim records the raw key an identifier comes from, failing in strict mode
// when another key already produced it.
func (f *flattener) claim(identifier string, rawPath []string) error {
	if !f.strict {
		return nil
	}
	origin := strings.Join(rawPath, ".")
	if existing, found := f.origins[identifier]; found && existing != origin {
		return &DuplicateIdentifierError{
			Table:      f.table,
			Identifier: strings.TrimPrefix(strings.ReplaceAll(identifier, listSep, "/"), "/"),
			Keys:       []string{existing, origin},
		}
	}
	f.origins[identifier] = origin
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appendPath never shares the backing array of the input path.
func appendPath(path []string, fragments ...string) []string {
	out := make([]string, 0, len(path)+len(fragments))
	out = append(out, path...)
	return append(out, fragments...)
}

func isContainer(v any) bool {
	if _, ok := asMap(v); ok {
		return true
	}
	_, ok := asList(v)
	return ok
}

// asMap returns the value as a map with string keys.
func asMap(v any) (map[string]any, bool) {
	switch value := v.(type) {
	case map[string]any:
		return value, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, false
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

// asList returns the value as a list. Byte slices are binary values, not
// lists.
func asList(v any) ([]any, bool) {
	switch value := v.(type) {
	case []any:
		return value, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || (rv.Kind() == reflect.Slice && rv.IsNil()) {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
