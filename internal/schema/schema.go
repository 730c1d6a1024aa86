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

// Package schema describes the column layout shared by every data source and
// sink, and reconciles the layouts of several sources into one target layout.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// LogicalType is the format-independent type of a column.
type LogicalType int

const (
	TypeNull LogicalType = iota // column carries no values at all
	TypeBoolean
	TypeInteger
	TypeFloating
	TypeString
	TypeTimestamp
	TypeBinary
)

func (t LogicalType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeFloating:
		return "floating"
	case TypeString:
		return "string"
	case TypeTimestamp:
		return "timestamp"
	case TypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("LogicalType(%d)", int(t))
	}
}

// IsNumeric reports whether statistics treat the type as numeric.
func (t LogicalType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloating
}

// MarshalText lets reports and config files use the type name.
func (t LogicalType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LogicalType) UnmarshalText(b []byte) error {
	parsed, err := ParseLogicalType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseLogicalType accepts the canonical names plus a few common aliases.
func ParseLogicalType(s string) (LogicalType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null":
		return TypeNull, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "integer", "int", "int64", "long":
		return TypeInteger, nil
	case "floating", "float", "float64", "double":
		return TypeFloating, nil
	case "string", "utf8":
		return TypeString, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "binary", "bytes":
		return TypeBinary, nil
	default:
		return TypeNull, fmt.Errorf("unknown logical type %q", s)
	}
}

// Field is one named column.
type Field struct {
	Name     string      `json:"name" yaml:"name"`
	Type     LogicalType `json:"type" yaml:"type"`
	Nullable bool        `json:"nullable" yaml:"nullable"`
}

func (f Field) String() string {
	if f.Nullable {
		return f.Name + " " + f.Type.String() + " (nullable)"
	}
	return f.Name + " " + f.Type.String()
}

// ErrDuplicateField is returned by New when two fields share a name.
var ErrDuplicateField = errors.New("duplicate field name")

// Schema is an ordered list of uniquely named fields. It is immutable once built.
type Schema struct {
	fields []Field
	index  map[string]int
}

// New builds a schema, rejecting empty and duplicate names.
func New(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has an empty name", i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustNew is New for statically known schemas; it panics on error.
func MustNew(fields ...Field) *Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Fields returns a copy of the fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of the named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Lookup returns the named field.
func (s *Schema) Lookup(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// ErrUnknownField is returned when a projection names a field the schema lacks.
var ErrUnknownField = errors.New("unknown field")

// Project returns a schema holding only the named fields, in the order given,
// along with each field's position in s.
func (s *Schema) Project(names []string) (*Schema, []int, error) {
	fields := make([]Field, 0, len(names))
	positions := make([]int, 0, len(names))
	for _, name := range names {
		i, ok := s.index[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		fields = append(fields, s.fields[i])
		positions = append(positions, i)
	}
	projected, err := New(fields...)
	if err != nil {
		return nil, nil, err
	}
	return projected, positions, nil
}

// Equal reports whether both schemas have the same fields in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	var sb strings.Builder
	sb.WriteString("schema {\n")
	for _, f := range s.fields {
		sb.WriteString("  ")
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}
