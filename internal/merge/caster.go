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

package merge

import (
	"fmt"
	"time"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// CastError reports a value that could not be converted to its target
// column type.
type CastError struct {
	Source string
	Column string
	Row    int64 // position within the source
	Value  any
	From   schema.LogicalType
	To     schema.LogicalType
	Err    error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("source %s row %d column %q: cannot cast %v (%s) to %s: %v",
		e.Source, e.Row, e.Column, e.Value, e.From, e.To, e.Err)
}

func (e *CastError) Unwrap() error {
	return e.Err
}

// Apply aligns one source batch to the target schema following plan:
// columns are reordered, absent columns filled with null and values
// widened or stringified. The returned batch belongs to the caller. A
// *CastError carries the row index within src.
func Apply(plan *schema.CastPlan, src *pipeline.Batch, target *schema.Schema) (*pipeline.Batch, error) {
	out := pipeline.NewBatch(target, src.Len())
	values := make([]any, len(plan.Steps))

	for row := range src.Len() {
		for col, st := range plan.Steps {
			if st.Coercion == schema.CoerceNullFill {
				values[col] = nil
				continue
			}
			v := src.Value(row, st.SourceIndex)
			if v == nil || isCanonical(v, st.To) {
				values[col] = v
				continue
			}
			converted, err := schema.Coerce(v, st.To)
			if err != nil {
				pipeline.ReturnBatch(out)
				return nil, &CastError{
					Column: target.Field(col).Name,
					Row:    int64(row),
					Value:  v,
					From:   st.From,
					To:     st.To,
					Err:    err,
				}
			}
			values[col] = converted
		}
		out.AppendRow(values...)
	}
	return out, nil
}

// isCanonical reports whether v already has the Go type used for t.
func isCanonical(v any, t schema.LogicalType) bool {
	switch v.(type) {
	case int64:
		return t == schema.TypeInteger
	case float64:
		return t == schema.TypeFloating
	case string:
		return t == schema.TypeString
	case bool:
		return t == schema.TypeBoolean
	case time.Time:
		return t == schema.TypeTimestamp
	case []byte:
		return t == schema.TypeBinary
	}
	return false
}
