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
	"errors"
	"fmt"
)

// rank places the castable types on the promotion lattice
// boolean -> integer -> floating -> string.
func rank(t LogicalType) int {
	switch t {
	case TypeBoolean:
		return 1
	case TypeInteger:
		return 2
	case TypeFloating:
		return 3
	case TypeString:
		return 4
	default:
		return 0
	}
}

// Promote returns the least upper bound of two column types.
//
// Null is the bottom element and yields the other type. Timestamp and binary
// columns only agree with themselves; mixed with anything else they fall
// through to string, the top of the lattice.
func Promote(a, b LogicalType) LogicalType {
	switch {
	case a == b:
		return a
	case a == TypeNull:
		return b
	case b == TypeNull:
		return a
	}

	ra, rb := rank(a), rank(b)
	if ra == 0 || rb == 0 {
		return TypeString
	}
	if ra > rb {
		return a
	}
	return b
}

// InferJoin combines the types observed for one column while inferring a
// schema from raw values. It follows Promote except that booleans mixed with
// numbers join to string: the inferred type has to parse every value seen,
// and neither "true" nor "1" parses as the other.
func InferJoin(a, b LogicalType) LogicalType {
	if (a == TypeBoolean && b.IsNumeric()) || (b == TypeBoolean && a.IsNumeric()) {
		return TypeString
	}
	return Promote(a, b)
}

// Coercion is the conversion applied to one source column to match its target field.
type Coercion int

const (
	CoerceIdentity  Coercion = iota // types already match
	CoerceWiden                     // boolean/integer to a wider numeric type
	CoerceStringify                 // any type rendered as text
	CoerceNullFill                  // column absent (or all-null) in the source
)

func (c Coercion) String() string {
	switch c {
	case CoerceIdentity:
		return "identity"
	case CoerceWiden:
		return "widen"
	case CoerceStringify:
		return "stringify"
	case CoerceNullFill:
		return "null-fill"
	default:
		return fmt.Sprintf("Coercion(%d)", int(c))
	}
}

func coercionFor(from, to LogicalType) Coercion {
	switch {
	case from == to:
		return CoerceIdentity
	case from == TypeNull:
		return CoerceNullFill
	case to == TypeString:
		return CoerceStringify
	default:
		return CoerceWiden
	}
}

// ErrIncompatible is the sentinel for irreconcilable schemas.
var ErrIncompatible = errors.New("incompatible schemas")

// IncompatibleError names the column and source where two types disagree
// while casting is disabled.
type IncompatibleError struct {
	Column   string
	Source   int
	Existing LogicalType
	Incoming LogicalType
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("%s: column %q is %s in source %d but %s in an earlier source (casting disabled)",
		ErrIncompatible, e.Column, e.Incoming, e.Source, e.Existing)
}

func (e *IncompatibleError) Is(target error) bool {
	return target == ErrIncompatible
}
