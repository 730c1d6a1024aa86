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

package extract

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/filewriter"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

var idSchema = schema.MustNew(schema.Field{Name: "id", Type: schema.TypeInteger})

func idRows(n int) []pipeline.Row {
	rows := make([]pipeline.Row, n)
	for i := range n {
		rows[i] = pipeline.Row{int64(i)}
	}
	return rows
}

func ids(rows []pipeline.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[0].(int64)
	}
	return out
}

func TestHead(t *testing.T) {
	tests := []struct {
		name  string
		total int
		n     int
		want  []int64
	}{
		{"fewer than available", 10, 3, []int64{0, 1, 2}},
		{"exactly all", 3, 3, []int64{0, 1, 2}},
		{"more than available", 2, 5, []int64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Head(context.Background(), pipeline.NewSliceSource(idSchema, idRows(tt.total)), tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}

	_, err := Head(context.Background(), pipeline.NewSliceSource(idSchema, nil), 0)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestTailStream(t *testing.T) {
	rows, err := Tail(context.Background(), pipeline.NewSliceSource(idSchema, idRows(10)), 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, ids(rows))

	rows, err = Tail(context.Background(), pipeline.NewSliceSource(idSchema, idRows(2)), 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, ids(rows))

	rows, err = Tail(context.Background(), pipeline.NewSliceSource(idSchema, nil), 5)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = Tail(context.Background(), pipeline.NewSliceSource(idSchema, nil), -1)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestTailRowGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.parquet")
	w, err := filewriter.Create(path, filereader.FormatUnknown, idSchema, filewriter.WriterOptions{RowGroupSize: 10})
	require.NoError(t, err)
	batch := pipeline.BatchFromRows(idSchema, idRows(95))
	require.NoError(t, w.Write(context.Background(), batch))
	pipeline.ReturnBatch(batch)
	require.NoError(t, w.Close())

	for _, n := range []int{1, 5, 12, 200} {
		r, err := filereader.Open(context.Background(), path, filereader.ReaderOptions{})
		require.NoError(t, err)
		rows, err := Tail(context.Background(), r, n)
		require.NoError(t, err)
		require.NoError(t, r.Close())

		want := make([]int64, 0, n)
		for i := max(0, 95-n); i < 95; i++ {
			want = append(want, int64(i))
		}
		assert.Equal(t, want, ids(rows), "n=%d", n)
	}
}

func TestRingWraps(t *testing.T) {
	r := newRing(3)
	for i := range 7 {
		r.push(pipeline.Row{int64(i)})
	}
	assert.Equal(t, []int64{4, 5, 6}, ids(r.rows()))
}
