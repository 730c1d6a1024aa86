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
	"strings"
)

// CastStep aligns one target field with one source column.
type CastStep struct {
	// SourceIndex is the column position in the source schema, or -1 when the
	// source lacks the column.
	SourceIndex int
	Coercion    Coercion
	From        LogicalType
	To          LogicalType
}

// CastPlan holds one step per target field, in target order.
type CastPlan struct {
	Source int
	Steps  []CastStep
}

// IsIdentity reports whether the source already matches the target exactly,
// column for column and type for type.
func (p *CastPlan) IsIdentity() bool {
	for i, st := range p.Steps {
		if st.SourceIndex != i || st.Coercion != CoerceIdentity {
			return false
		}
	}
	return true
}

// NeedsCast reports whether any step changes a value's type.
func (p *CastPlan) NeedsCast() bool {
	for _, st := range p.Steps {
		if st.Coercion == CoerceWiden || st.Coercion == CoerceStringify {
			return true
		}
	}
	return false
}

func (p *CastPlan) String() string {
	var sb strings.Builder
	for i, st := range p.Steps {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(st.Coercion.String())
		sb.WriteString("(")
		sb.WriteString(st.From.String())
		sb.WriteString("->")
		sb.WriteString(st.To.String())
		sb.WriteString(")")
	}
	return sb.String()
}

type columnState struct {
	field   Field
	present int // number of sources carrying the column
}

// Reconcile unifies the given source schemas.
//
// The target holds the union of all column names in first-seen order. Each
// column's type is the least upper bound of its source types; with allowCast
// false any disagreement is an *IncompatibleError instead. A column is
// nullable when any source declares it nullable or any source lacks it.
// Identical inputs always produce identical outputs.
func Reconcile(schemas []*Schema, allowCast bool) (*Schema, []*CastPlan, error) {
	if len(schemas) == 0 {
		return nil, nil, errors.New("reconcile: no schemas supplied")
	}

	var order []string
	columns := make(map[string]*columnState)

	for si, s := range schemas {
		for _, f := range s.fields {
			st, ok := columns[f.Name]
			if !ok {
				columns[f.Name] = &columnState{field: f, present: 1}
				order = append(order, f.Name)
				continue
			}
			st.present++
			st.field.Nullable = st.field.Nullable || f.Nullable
			if st.field.Type == f.Type {
				continue
			}
			if !allowCast && st.field.Type != TypeNull && f.Type != TypeNull {
				return nil, nil, &IncompatibleError{
					Column:   f.Name,
					Source:   si,
					Existing: st.field.Type,
					Incoming: f.Type,
				}
			}
			st.field.Type = Promote(st.field.Type, f.Type)
		}
	}

	fields := make([]Field, len(order))
	for i, name := range order {
		st := columns[name]
		f := st.field
		if st.present < len(schemas) {
			f.Nullable = true
		}
		if f.Type == TypeNull {
			f.Nullable = true
		}
		fields[i] = f
	}
	target, err := New(fields...)
	if err != nil {
		return nil, nil, err
	}

	plans := make([]*CastPlan, len(schemas))
	for si, s := range schemas {
		plan := &CastPlan{Source: si, Steps: make([]CastStep, len(fields))}
		for ti, tf := range fields {
			idx, ok := s.index[tf.Name]
			if !ok {
				plan.Steps[ti] = CastStep{SourceIndex: -1, Coercion: CoerceNullFill, From: TypeNull, To: tf.Type}
				continue
			}
			from := s.fields[idx].Type
			plan.Steps[ti] = CastStep{SourceIndex: idx, Coercion: coercionFor(from, tf.Type), From: from, To: tf.Type}
		}
		plans[si] = plan
	}
	return target, plans, nil
}
