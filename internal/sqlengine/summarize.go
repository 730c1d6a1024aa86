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

package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cardinalhq/datamorph/internal/schema"
	"github.com/cardinalhq/datamorph/internal/stats"
)

// ColumnSummary is one row of DuckDB's SUMMARIZE output. Aggregates that do
// not apply to the column's type are nil.
type ColumnSummary struct {
	Name           string
	Type           string
	Min            *string
	Max            *string
	ApproxUnique   int64
	Avg            *float64
	Std            *float64
	Median         *float64
	Count          int64
	NullPercentage float64
}

// Summarize runs SUMMARIZE over a registered view.
func (e *Engine) Summarize(ctx context.Context, view string) ([]ColumnSummary, error) {
	q := fmt.Sprintf(`SELECT column_name, column_type,
		CAST("min" AS VARCHAR), CAST("max" AS VARCHAR),
		CAST(approx_unique AS BIGINT),
		TRY_CAST("avg" AS DOUBLE), TRY_CAST("std" AS DOUBLE), TRY_CAST(q50 AS DOUBLE),
		CAST("count" AS BIGINT), CAST(null_percentage AS DOUBLE)
		FROM (SUMMARIZE SELECT * FROM %s)`, quoteIdent(view))
	rows, err := e.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", view, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ColumnSummary
	for rows.Next() {
		var (
			s                  ColumnSummary
			minV, maxV         sql.NullString
			unique, count      sql.NullInt64
			avg, std, q50, pct sql.NullFloat64
		)
		if err := rows.Scan(&s.Name, &s.Type, &minV, &maxV, &unique, &avg, &std, &q50, &count, &pct); err != nil {
			return nil, err
		}
		s.Min = nullString(minV)
		s.Max = nullString(maxV)
		s.ApproxUnique = unique.Int64
		s.Avg = nullFloat(avg)
		s.Std = nullFloat(std)
		s.Median = nullFloat(q50)
		s.Count = count.Int64
		s.NullPercentage = pct.Float64
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return nil
	}
	return &v.Float64
}

// logicalType maps a DuckDB column type name onto the tool's type set.
func logicalType(duck string) schema.LogicalType {
	t := strings.ToUpper(duck)
	switch {
	case t == "BOOLEAN":
		return schema.TypeBoolean
	case t == "TINYINT", t == "SMALLINT", t == "INTEGER", t == "BIGINT",
		t == "UTINYINT", t == "USMALLINT", t == "UINTEGER":
		return schema.TypeInteger
	case t == "UBIGINT", t == "HUGEINT", t == "UHUGEINT",
		t == "FLOAT", t == "REAL", t == "DOUBLE",
		strings.HasPrefix(t, "DECIMAL"), strings.HasPrefix(t, "NUMERIC"):
		return schema.TypeFloating
	case t == "DATE", strings.HasPrefix(t, "TIMESTAMP"):
		return schema.TypeTimestamp
	case t == "BLOB":
		return schema.TypeBinary
	case t == "\"NULL\"", t == "NULL":
		return schema.TypeNull
	default:
		return schema.TypeString
	}
}

// SummaryReport converts SUMMARIZE rows into a stats report. Numeric columns
// take min, max, avg, std and the approximate median; the rest report the
// approximate distinct count and no top values.
func SummaryReport(source string, cols []ColumnSummary) *stats.Report {
	r := &stats.Report{Source: source, Columns: make([]stats.ColumnReport, 0, len(cols))}
	for _, c := range cols {
		r.Rows = max(r.Rows, c.Count)
		nonNull := int64(math.Round(float64(c.Count) * (1 - c.NullPercentage/100)))
		nonNull = min(max(nonNull, 0), c.Count)

		t := logicalType(c.Type)
		cr := stats.ColumnReport{Name: c.Name, Type: t, Kind: stats.KindOf(t)}
		if cr.Kind == stats.KindNumeric {
			cr.Numeric = &stats.NumericReport{
				NonNullCount: nonNull,
				NullCount:    c.Count - nonNull,
				Min:          parseBound(c.Min),
				Max:          parseBound(c.Max),
				Mean:         c.Avg,
				Median:       c.Median,
				StdDev:       c.Std,
			}
		} else {
			cr.Categorical = &stats.CategoricalReport{
				NonNullCount:  nonNull,
				NullCount:     c.Count - nonNull,
				DistinctCount: c.ApproxUnique,
				TopK:          []stats.ValueCount{},
			}
		}
		r.Columns = append(r.Columns, cr)
	}
	return r
}

func parseBound(s *string) *float64 {
	if s == nil {
		return nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
