// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package schema

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrConversion is wrapped by every value conversion failure.
var ErrConversion = errors.New("value conversion failed")

func conversionError(value any, to LogicalType) error {
	return fmt.Errorf("%w: cannot convert %T %v to %s", ErrConversion, value, value, to)
}

// timestampLayouts are tried in order when parsing text timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a canonical value (or raw text from a text format) to the
// canonical Go value for the target type. nil stays nil.
func Coerce(value any, to LogicalType) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch to {
	case TypeNull:
		return nil, nil
	case TypeString:
		return FormatValue(value), nil
	case TypeInteger:
		return toInt64(value)
	case TypeFloating:
		return ToFloat64(value)
	case TypeBoolean:
		return toBool(value)
	case TypeTimestamp:
		return toTimestamp(value)
	case TypeBinary:
		return toBinary(value)
	default:
		return nil, conversionError(value, to)
	}
}

// ParseText parses a text cell as the given type. Empty text is null.
func ParseText(text string, t LogicalType) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	if t == TypeString {
		return text, nil
	}
	return Coerce(trimmed, t)
}

// InferText guesses the narrowest type that parses the text. Integers are
// tried before booleans so "1" and "0" stay numeric.
func InferText(text string) LogicalType {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return TypeNull
	}
	if _, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return TypeFloating
	}
	switch strings.ToLower(trimmed) {
	case "true", "false":
		return TypeBoolean
	}
	if _, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return TypeTimestamp
	}
	return TypeString
}

// InferValue returns the logical type of an already-decoded value.
func InferValue(value any) LogicalType {
	switch v := value.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInteger
	case float32, float64:
		return TypeFloating
	case interface{ Int64() (int64, error) }:
		// json.Number
		if _, err := v.Int64(); err == nil {
			return TypeInteger
		}
		return TypeFloating
	case string:
		return TypeString
	case time.Time:
		return TypeTimestamp
	case []byte:
		return TypeBinary
	default:
		// nested values are carried as their text form
		return TypeString
	}
}

// FormatValue renders a value as text: the CSV cell form and the key used by
// categorical counters.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToFloat64 converts a numeric value, or numeric text, to float64.
func ToFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		if err != nil {
			return 0, conversionError(value, TypeFloating)
		}
		return f, nil
	case interface{ Float64() (float64, bool) }:
		// *big.Rat, used for Avro decimals
		f, _ := v.Float64()
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, conversionError(value, TypeFloating)
		}
		return f, nil
	default:
		return 0, conversionError(value, TypeFloating)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, conversionError(value, TypeInteger)
		}
		return int64(v), nil
	case interface{ Int64() (int64, error) }:
		i, err := v.Int64()
		if err != nil {
			return 0, conversionError(value, TypeInteger)
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, conversionError(value, TypeInteger)
		}
		return i, nil
	case time.Time:
		return v.UnixMilli(), nil
	default:
		return 0, conversionError(value, TypeInteger)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, conversionError(value, TypeBoolean)
		}
		return b, nil
	default:
		return false, conversionError(value, TypeBoolean)
	}
}

func toTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		// epoch milliseconds
		return time.UnixMilli(v).UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, conversionError(value, TypeTimestamp)
	default:
		return time.Time{}, conversionError(value, TypeTimestamp)
	}
}

func toBinary(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, conversionError(value, TypeBinary)
	}
}
