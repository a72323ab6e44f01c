// SPDX-License-Identifier: Apache-2.0

package schema

import "regexp"

// FilterRow removes the values excluded by the filters of the table and its
// ancestors. Ancestors are derived by breaking the table name into path
// fragments, so their filters apply even before the tables exist. Includes
// are exceptions to the excludes of the same table. The row is modified in
// place and returned.
func (s *Schema) FilterRow(tableName string, row Row) Row {
	rules := s.rules()
	if len(rules.excludes) == 0 {
		return row
	}

	branch := s.naming.BreakPath(tableName)
	for i := len(branch); i > 0; i-- {
		table := s.naming.MakePath(branch[:i]...)
		excludes := rules.excludes[table]
		if len(excludes) == 0 {
			continue
		}
		includes := rules.includes[table]
		for field := range row {
			path := s.naming.MakePath(append(append([]string{}, branch[i:]...), field)...)
			if isExcluded(path, excludes, includes) {
				delete(row, field)
			}
		}
		if len(row) == 0 {
			break
		}
	}
	return row
}

func isExcluded(path string, excludes, includes []*regexp.Regexp) bool {
	if !matchesAny(path, excludes) {
		return false
	}
	return !matchesAny(path, includes)
}

func matchesAny(path string, res []*regexp.Regexp) bool {
	for _, re := range res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
