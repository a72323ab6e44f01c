// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xataio/relnorm/internal/json"
)

const (
	variantFieldFormat = "v_%s"
	dateLayout         = "2006-01-02"
	timeLayout         = "15:04:05.999999999"
)

var (
	errCannotCoerce = errors.New("cannot coerce value")

	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
	}
)

// CoerceRow coerces the values of the row to the types of the table columns.
// Values that cannot be coerced go to variant columns. Columns that do not
// exist yet are inferred from the values and returned in a partial table
// that carries the table properties and only the new columns. Null values
// are dropped after checking the column is nullable.
func (s *Schema) CoerceRow(tableName, parentTable string, row Row) (Row, *Table, error) {
	table, found := s.tables[tableName]
	if !found {
		table = NewTable(tableName, parentTable)
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	newRow := make(Row, len(row))
	var partial *Table
	for _, colName := range keys {
		v := row[colName]
		if isNull(v) {
			if err := s.coerceNullValue(table, colName); err != nil {
				return nil, nil, err
			}
			continue
		}
		newColName, newCol, newValue, err := s.coerceNonNullValue(table, colName, v, false)
		if err != nil {
			return nil, nil, err
		}
		newRow[newColName] = newValue
		if newCol != nil {
			if partial == nil {
				partial = table.WithoutColumns()
			}
			partial.Columns.Set(newCol)
		}
	}
	return newRow, partial, nil
}

func (s *Schema) coerceNullValue(table *Table, colName string) error {
	if col, found := table.Columns.Get(colName); found && !col.IsNullable() {
		return &CannotCoerceNullError{
			Schema: s.name,
			Table:  table.Name,
			Column: colName,
		}
	}
	return nil
}

func (s *Schema) coerceNonNullValue(table *Table, colName string, v any, isVariant bool) (string, *Column, any, error) {
	var newCol *Column
	existing, found := table.Columns.Get(colName)
	// incomplete columns are completed with the inferred type
	if found && !existing.IsComplete() {
		newCol = existing
		existing, found = nil, false
	}

	valueType := valueDataType(v)
	colType := valueType
	if found {
		colType = existing.DataType
	} else {
		colType = s.inferColumnType(v, valueType, colName, isVariant)
	}

	coerced, err := coerceValue(colType, valueType, v)
	if err != nil {
		if isVariant {
			return "", nil, nil, &CannotCoerceColumnError{
				Schema:   s.name,
				Table:    table.Name,
				Column:   colName,
				FromType: valueType,
				ToType:   colType,
				Value:    v,
			}
		}
		variantName := s.naming.ShortenFragments(colName, fmt.Sprintf(variantFieldFormat, valueType))
		return s.coerceNonNullValue(table, variantName, v, true)
	}

	if !found {
		inferred := s.inferColumn(colName, colType, isVariant)
		if newCol != nil {
			newCol = MergeColumn(newCol, inferred)
		} else {
			newCol = inferred
		}
	}
	return colName, newCol, coerced, nil
}

func (s *Schema) inferColumn(name string, dataType DataType, isVariant bool) *Column {
	col := &Column{
		Name:     name,
		DataType: dataType,
		Nullable: boolPtr(!s.inferHint(HintNotNull, name)),
		Variant:  isVariant,
	}
	for _, h := range columnHints {
		if s.inferHint(h, name) {
			col.SetHint(h)
		}
	}
	return col
}

func (s *Schema) inferColumnType(v any, valueType DataType, colName string, skipPreferred bool) DataType {
	if !skipPreferred {
		if preferred := s.PreferredType(colName); preferred != "" {
			return preferred
		}
	}
	if detected := s.detectType(v); detected != "" {
		return detected
	}
	return valueType
}

func (s *Schema) detectType(v any) DataType {
	for _, d := range s.settings.Detections {
		switch d {
		case DetectionISOTimestamp:
			if str, ok := v.(string); ok && isISOTimestamp(str) {
				return TypeTimestamp
			}
		case DetectionISODate:
			if str, ok := v.(string); ok && isISODate(str) {
				return TypeDate
			}
		case DetectionLargeInteger:
			if u, ok := v.(uint64); ok && u > math.MaxInt64 {
				return TypeWei
			}
		}
	}
	return ""
}

func isISOTimestamp(s string) bool {
	// dates alone are not timestamps
	if len(s) <= len(dateLayout) {
		return false
	}
	_, err := parseTimestamp(s)
	return err == nil
}

func isISODate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// valueDataType maps the Go type of a value to a data type.
func valueDataType(v any) DataType {
	switch value := v.(type) {
	case string:
		return TypeText
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeBigint
	case uint:
		if uint64(value) > math.MaxInt64 {
			return TypeWei
		}
		return TypeBigint
	case uint64:
		if value > math.MaxInt64 {
			return TypeWei
		}
		return TypeBigint
	case float32, float64:
		return TypeDouble
	case json.Number:
		if _, err := value.Int64(); err == nil {
			return TypeBigint
		}
		return TypeDouble
	case *big.Int:
		return TypeWei
	case *big.Float, *big.Rat:
		return TypeDecimal
	case time.Time:
		return TypeTimestamp
	case time.Duration:
		return TypeTime
	case []byte:
		return TypeBinary
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return TypeJSON
	default:
		return TypeText
	}
}

// coerceValue converts the value of type from to the type to, or returns an
// error when the conversion would lose information.
func coerceValue(to, from DataType, v any) (any, error) {
	if to == from {
		return canonicalValue(to, v)
	}

	switch to {
	case TypeText:
		return toText(from, v)
	case TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			if err := json.UnmarshalItems([]byte(s), &decoded); err == nil {
				switch decoded.(type) {
				case map[string]any, []any:
					return decoded, nil
				}
			}
		}
	case TypeBigint:
		switch from {
		case TypeText:
			return strconv.ParseInt(strings.TrimSpace(v.(string)), 10, 64)
		case TypeDouble:
			f := toFloat(v)
			if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
				return int64(f), nil
			}
		}
	case TypeDouble:
		switch from {
		case TypeBigint:
			return toFloat(v), nil
		case TypeText:
			return strconv.ParseFloat(strings.TrimSpace(v.(string)), 64)
		case TypeDecimal, TypeWei:
			f, _ := new(big.Float).SetString(fmt.Sprint(v))
			if f != nil {
				res, _ := f.Float64()
				return res, nil
			}
		}
	case TypeBool:
		if from == TypeText {
			switch strings.ToLower(strings.TrimSpace(v.(string))) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	case TypeTimestamp:
		switch from {
		case TypeText:
			return parseTimestamp(v.(string))
		case TypeBigint, TypeDouble:
			f := toFloat(v)
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
		}
	case TypeDate:
		switch from {
		case TypeText:
			str := strings.TrimSpace(v.(string))
			if d, err := time.Parse(dateLayout, str); err == nil {
				return d.Format(dateLayout), nil
			}
			if ts, err := parseTimestamp(str); err == nil {
				return ts.Format(dateLayout), nil
			}
		case TypeTimestamp:
			return v.(time.Time).UTC().Format(dateLayout), nil
		}
	case TypeTime:
		if from == TypeText {
			t, err := time.Parse(timeLayout, strings.TrimSpace(v.(string)))
			if err != nil {
				return nil, err
			}
			return t.Format(timeLayout), nil
		}
	case TypeDecimal, TypeWei:
		switch from {
		case TypeBigint, TypeWei:
			return fmt.Sprint(v), nil
		case TypeDouble:
			if to == TypeDecimal {
				return strconv.FormatFloat(toFloat(v), 'f', -1, 64), nil
			}
		case TypeText:
			str := strings.TrimSpace(v.(string))
			if to == TypeWei {
				if n, ok := new(big.Int).SetString(str, 10); ok {
					return n.String(), nil
				}
			} else if r, ok := new(big.Rat).SetString(str); ok {
				return r.FloatString(decimalScale(str)), nil
			}
		}
	case TypeBinary:
		if from == TypeText {
			return base64.StdEncoding.DecodeString(v.(string))
		}
	}
	return nil, fmt.Errorf("%w: from %s to %s", errCannotCoerce, from, to)
}

// canonicalValue normalizes values of the same data type to a single Go
// representation.
func canonicalValue(dt DataType, v any) (any, error) {
	switch dt {
	case TypeBigint:
		switch value := v.(type) {
		case json.Number:
			return value.Int64()
		case int64:
			return value, nil
		default:
			return reflect.ValueOf(v).Convert(reflect.TypeOf(int64(0))).Int(), nil
		}
	case TypeDouble:
		return toFloat(v), nil
	case TypeTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case TypeTime:
		if d, ok := v.(time.Duration); ok {
			return time.Time{}.Add(d).Format(timeLayout), nil
		}
	case TypeWei, TypeDecimal:
		return fmt.Sprint(v), nil
	}
	return v, nil
}

func toText(from DataType, v any) (any, error) {
	switch from {
	case TypeJSON:
		b, err := json.MarshalCanonical(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case TypeTimestamp:
		return v.(time.Time).UTC().Format(time.RFC3339Nano), nil
	case TypeBinary:
		return hex.EncodeToString(v.([]byte)), nil
	case TypeDouble:
		return strconv.FormatFloat(toFloat(v), 'f', -1, 64), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func toFloat(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case json.Number:
		f, _ := value.Float64()
		return f
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int())
	case rv.CanUint():
		return float64(rv.Uint())
	case rv.CanFloat():
		return rv.Float()
	default:
		return math.NaN()
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

func decimalScale(s string) int {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// SupportedTypes lists the known data types.
func SupportedTypes() []DataType {
	return slices.Clone(dataTypes)
}
