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

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/schema"
)

var testSchema = schema.MustNew(
	schema.Field{Name: "id", Type: schema.TypeInteger},
	schema.Field{Name: "name", Type: schema.TypeString, Nullable: true},
)

func TestGlobalBatchPool(t *testing.T) {
	batch1 := NewBatch(testSchema, 4)
	require.NotNil(t, batch1)
	assert.Equal(t, 0, batch1.Len())
	assert.Equal(t, 2, batch1.NumColumns())

	batch1.AppendRow(int64(1), "a")
	assert.Equal(t, 1, batch1.Len())
	ReturnBatch(batch1)

	batch2 := NewBatch(testSchema, 4)
	require.NotNil(t, batch2)
	assert.Equal(t, 0, batch2.Len(), "Returned batch should be clean")
	assert.Empty(t, batch2.Column(0))
	ReturnBatch(batch2)
}

func TestReturnBatchWithNil(t *testing.T) {
	ReturnBatch(nil)
}

func TestBatch_ReusedWithDifferentSchema(t *testing.T) {
	wide := schema.MustNew(
		schema.Field{Name: "a", Type: schema.TypeInteger},
		schema.Field{Name: "b", Type: schema.TypeInteger},
		schema.Field{Name: "c", Type: schema.TypeInteger},
	)
	b := NewBatch(wide, 2)
	b.AppendRow(int64(1), int64(2), int64(3))
	ReturnBatch(b)

	b = NewBatch(testSchema, 2)
	defer ReturnBatch(b)
	assert.Equal(t, 2, b.NumColumns())
	assert.Same(t, testSchema, b.Schema())
}

func TestBatch_ColumnarAccess(t *testing.T) {
	b := NewBatch(testSchema, 1)
	defer ReturnBatch(b)

	b.AppendRow(int64(1), "a")
	b.AppendRow(int64(2), nil)
	b.AppendRow(int64(3), "c")

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, b.Column(0))
	assert.Nil(t, b.Value(1, 1))

	b.Set(1, 1, "b")
	assert.Equal(t, Row{int64(2), "b"}, b.Row(1))

	row := b.Row(0)
	b.Set(0, 0, int64(99))
	assert.Equal(t, int64(1), row[0], "Row must return a copy")

	b.Truncate()
	assert.Equal(t, 0, b.Len())
}

func TestBatch_AppendRowWidthMismatchPanics(t *testing.T) {
	b := NewBatch(testSchema, 1)
	defer ReturnBatch(b)
	assert.Panics(t, func() { b.AppendRow(int64(1)) })
}

func TestBatchPoolStats(t *testing.T) {
	p := newBatchPool(8)
	b := p.Get(testSchema, 0)
	assert.Equal(t, 8, cap(b.columns[0]))
	p.Put(b)
	s := p.stats()
	assert.Equal(t, uint64(1), s.Gets)
	assert.Equal(t, uint64(1), s.Puts)
	assert.Equal(t, uint64(0), s.LeakedBatches())
}

func TestToStringMap(t *testing.T) {
	m := ToStringMap(testSchema, Row{int64(7), "x"})
	assert.Equal(t, map[string]any{"id": int64(7), "name": "x"}, m)
}

func TestSliceSource(t *testing.T) {
	rows := []Row{{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"}}
	src := NewSliceSource(testSchema, rows)
	ctx := context.Background()

	n, known := src.RowCount()
	assert.True(t, known)
	assert.Equal(t, int64(3), n)

	b, err := src.Next(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	ReturnBatch(b)

	b, err = src.Next(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, Row{int64(3), "c"}, b.Row(0))
	ReturnBatch(b)

	_, err = src.Next(ctx, 2)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, src.Rewind())
	b, err = src.Next(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())
	ReturnBatch(b)

	src.HideCount = true
	_, known = src.RowCount()
	assert.False(t, known)
	require.NoError(t, src.Close())
}
