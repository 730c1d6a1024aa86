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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

func TestParquetReader_ReadsAllRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeTestParquet(t, path, 23, 10)

	r, err := Open(context.Background(), path, ReaderOptions{BatchSize: 4})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	want := schema.MustNew(
		schema.Field{Name: "id", Type: schema.TypeInteger},
		schema.Field{Name: "name", Type: schema.TypeString, Nullable: true},
		schema.Field{Name: "score", Type: schema.TypeFloating},
	)
	assert.True(t, want.Equal(r.Schema()), "got %s", r.Schema())

	n, known := RowCount(r)
	assert.True(t, known)
	assert.Equal(t, int64(23), n)

	rows := readAllRows(t, r, 3)
	require.Len(t, rows, 23)
	for i, row := range rows {
		assert.Equal(t, int64(i), row[0])
		assert.Equal(t, float64(i)/2, row[2])
		if i%5 == 0 {
			assert.Nil(t, row[1])
		} else {
			assert.IsType(t, "", row[1])
		}
	}
}

func TestParquetReader_Uint64ReadsAsFloating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.parquet")
	as := arrow.NewSchema([]arrow.Field{{Name: "bytes", Type: arrow.PrimitiveTypes.Uint64}}, nil)
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := pqarrow.NewFileWriter(as, f, parquet.NewWriterProperties(), pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	require.NoError(t, err)

	b := array.NewRecordBuilder(memory.DefaultAllocator, as)
	defer b.Release()
	b.Field(0).(*array.Uint64Builder).AppendValues([]uint64{7, math.MaxUint64}, nil)
	rec := b.NewRecord()
	defer rec.Release()
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	r, err := Open(context.Background(), path, ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, schema.TypeFloating, r.Schema().Field(0).Type)

	rows := readAllRows(t, r, 0)
	require.Len(t, rows, 2)
	assert.Equal(t, float64(7), rows[0][0])
	assert.Equal(t, float64(math.MaxUint64), rows[1][0])
	assert.Greater(t, rows[1][0].(float64), 0.0)
}

func TestParquetReader_RowGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.parquet")
	writeTestParquet(t, path, 25, 10)

	r, err := Open(context.Background(), path, ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	rg, ok := r.(RowGroupReader)
	require.True(t, ok)
	require.Equal(t, 3, rg.NumRowGroups())
	assert.Equal(t, int64(10), rg.RowGroupNumRows(0))
	assert.Equal(t, int64(5), rg.RowGroupNumRows(2))

	g, err := rg.OpenRowGroup(context.Background(), 2)
	require.NoError(t, err)
	rows := readAllRows(t, g, 0)
	require.NoError(t, g.Close())
	require.Len(t, rows, 5)
	assert.Equal(t, int64(20), rows[0][0])

	_, err = rg.OpenRowGroup(context.Background(), 3)
	assert.Error(t, err)
}

func TestParquetReader_ProjectionAndRewind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proj.parquet")
	writeTestParquet(t, path, 6, 100)

	r, err := Open(context.Background(), path, ReaderOptions{Columns: []string{"score", "id"}})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"score", "id"}, r.Schema().Names())
	first := readAllRows(t, r, 4)
	require.Len(t, first, 6)
	assert.Equal(t, pipeline.Row{2.5, int64(5)}, first[5])

	require.True(t, CanRewind(r))
	require.NoError(t, r.(Rewinder).Rewind())
	assert.Equal(t, first, readAllRows(t, r, 0))

	_, err = Open(context.Background(), path, ReaderOptions{Columns: []string{"nope"}})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestInspect_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.parquet")
	writeTestParquet(t, path, 25, 10)

	info, err := Inspect(context.Background(), path, ReaderOptions{}, false)
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, info.Format)
	assert.True(t, info.RowsKnown)
	assert.Equal(t, int64(25), info.Rows)
	assert.Len(t, info.RowGroups, 3)
	assert.Len(t, info.Fields, 3)
	require.Len(t, info.Columns, 3)
	assert.Equal(t, "id", info.Columns[0].Path)
	assert.Positive(t, info.SizeBytes)
}
