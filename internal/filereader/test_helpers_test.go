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
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/pipeline"
)

// seekableCloser is a seekable in-memory input.
type seekableCloser struct {
	*strings.Reader
	closed bool
}

func newSeekable(s string) *seekableCloser {
	return &seekableCloser{Reader: strings.NewReader(s)}
}

func (s *seekableCloser) Close() error {
	s.closed = true
	return nil
}

// errorReaderImpl is a test helper that simulates read errors
type errorReaderImpl struct {
	shouldError bool
}

func (e *errorReaderImpl) Read(p []byte) (int, error) {
	if e.shouldError {
		return 0, errors.New("simulated read error")
	}
	return 0, io.EOF
}

// readAllRows drains a reader into retained rows.
func readAllRows(t *testing.T, r Reader, batchSize int) []pipeline.Row {
	t.Helper()
	var rows []pipeline.Row
	for {
		batch, err := r.Next(context.Background(), batchSize)
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		if batchSize > 0 {
			require.LessOrEqual(t, batch.Len(), batchSize)
		}
		for i := range batch.Len() {
			rows = append(rows, batch.Row(i))
		}
		pipeline.ReturnBatch(batch)
	}
}

// writeTestParquet writes rows (id int64, name string, score float64) with
// at most rowGroupLen rows per row group. Names are null for ids divisible by 5.
func writeTestParquet(t *testing.T, path string, numRows int, rowGroupLen int64) {
	t.Helper()
	as := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	f, err := os.Create(path)
	require.NoError(t, err)

	props := parquet.NewWriterProperties(parquet.WithMaxRowGroupLength(rowGroupLen))
	w, err := pqarrow.NewFileWriter(as, f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	require.NoError(t, err)

	b := array.NewRecordBuilder(memory.DefaultAllocator, as)
	defer b.Release()
	for i := range numRows {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
		if i%5 == 0 {
			b.Field(1).(*array.StringBuilder).AppendNull()
		} else {
			b.Field(1).(*array.StringBuilder).Append("n" + string(rune('a'+i%26)))
		}
		b.Field(2).(*array.Float64Builder).Append(float64(i) / 2)
	}
	rec := b.NewRecord()
	defer rec.Release()

	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
}
