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

package pipeline

import "github.com/cardinalhq/datamorph/internal/schema"

// Row holds one value per schema field, in schema order.
type Row []any

// CopyRow returns a shallow copy of a row.
func CopyRow(in Row) Row {
	out := make(Row, len(in))
	copy(out, in)
	return out
}

// ToStringMap converts a row to a map keyed by field name.
func ToStringMap(s *schema.Schema, row Row) map[string]any {
	result := make(map[string]any, len(row))
	for i, v := range row {
		result[s.Field(i).Name] = v
	}
	return result
}

// BatchFromRows builds a pooled batch holding copies of the given rows.
func BatchFromRows(s *schema.Schema, rows []Row) *Batch {
	b := NewBatch(s, len(rows))
	for _, r := range rows {
		b.AppendRow(r...)
	}
	return b
}
