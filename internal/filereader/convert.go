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

package filereader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cardinalhq/datamorph/internal/schema"
)

// projection maps a reader's full schema onto the requested columns.
type projection struct {
	out       *schema.Schema
	positions []int // position in the full schema of each output column
}

func newProjection(full *schema.Schema, columns []string) (projection, error) {
	if len(columns) == 0 {
		positions := make([]int, full.Len())
		for i := range positions {
			positions[i] = i
		}
		return projection{out: full, positions: positions}, nil
	}
	out, positions, err := full.Project(columns)
	if err != nil {
		return projection{}, fmt.Errorf("%w: %w", ErrUnknownColumn, err)
	}
	return projection{out: out, positions: positions}, nil
}

// normalizeValue converts a decoded value to the canonical Go value for its
// column type. Nested values become JSON text. Values that do not convert are
// passed through as text so consumers can count them as row-level errors.
func normalizeValue(ctx context.Context, format Format, v any, t schema.LogicalType) any {
	switch nested := v.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		b, err := json.Marshal(nested)
		if err != nil {
			return fmt.Sprintf("%v", nested)
		}
		v = string(b)
	}
	out, err := schema.Coerce(v, t)
	if err != nil {
		recordTextPassthrough(ctx, format, t)
		return schema.FormatValue(v)
	}
	return out
}

// schemaBuilder infers a schema from observed values, keeping columns in
// first-seen order.
type schemaBuilder struct {
	order   []string
	types   map[string]schema.LogicalType
	present map[string]int
	nulls   map[string]bool
	rows    int
}

func newSchemaBuilder() *schemaBuilder {
	return &schemaBuilder{
		types:   make(map[string]schema.LogicalType),
		present: make(map[string]int),
		nulls:   make(map[string]bool),
	}
}

func (b *schemaBuilder) declare(name string) {
	if _, ok := b.types[name]; !ok {
		b.order = append(b.order, name)
		b.types[name] = schema.TypeNull
	}
}

func (b *schemaBuilder) observe(name string, t schema.LogicalType) {
	b.declare(name)
	b.present[name]++
	if t == schema.TypeNull {
		b.nulls[name] = true
		return
	}
	b.types[name] = schema.InferJoin(b.types[name], t)
}

func (b *schemaBuilder) endRow() {
	b.rows++
}

// build returns the inferred schema. Columns that never held a value are
// typed string.
func (b *schemaBuilder) build() (*schema.Schema, error) {
	fields := make([]schema.Field, len(b.order))
	for i, name := range b.order {
		t := b.types[name]
		if t == schema.TypeNull {
			t = schema.TypeString
		}
		fields[i] = schema.Field{
			Name:     name,
			Type:     t,
			Nullable: b.nulls[name] || b.present[name] < b.rows || b.rows == 0,
		}
	}
	return schema.New(fields...)
}
