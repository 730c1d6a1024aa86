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

package filewriter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

var testSchema = schema.MustNew(
	schema.Field{Name: "id", Type: schema.TypeInteger},
	schema.Field{Name: "name", Type: schema.TypeString, Nullable: true},
	schema.Field{Name: "score", Type: schema.TypeFloating},
	schema.Field{Name: "active", Type: schema.TypeBoolean},
	schema.Field{Name: "seen_at", Type: schema.TypeTimestamp},
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testRows(n int) []pipeline.Row {
	rows := make([]pipeline.Row, n)
	for i := range n {
		var name any = "user" + string(rune('a'+i%26))
		if i%4 == 0 {
			name = nil
		}
		rows[i] = pipeline.Row{
			int64(i),
			name,
			float64(i) + 0.25,
			i%2 == 0,
			baseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return rows
}

func writeAll(t *testing.T, path string, s *schema.Schema, rows []pipeline.Row, opts WriterOptions) {
	t.Helper()
	w, err := Create(path, filereader.FormatUnknown, s, opts)
	require.NoError(t, err)

	// two batches to cover multiple writes
	half := len(rows) / 2
	for _, part := range [][]pipeline.Row{rows[:half], rows[half:]} {
		batch := pipeline.BatchFromRows(s, part)
		require.NoError(t, w.Write(context.Background(), batch))
		pipeline.ReturnBatch(batch)
	}
	assert.Equal(t, int64(len(rows)), w.RowsWritten())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")
}

func readAll(t *testing.T, path string) (*schema.Schema, []pipeline.Row) {
	t.Helper()
	r, err := filereader.Open(context.Background(), path, filereader.ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var rows []pipeline.Row
	for {
		batch, err := r.Next(context.Background(), 7)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		for i := range batch.Len() {
			rows = append(rows, batch.Row(i))
		}
		pipeline.ReturnBatch(batch)
	}
	return r.Schema(), rows
}

func TestRoundTrip(t *testing.T) {
	rows := testRows(50)
	for _, name := range []string{"out.csv", "out.csv.gz", "out.jsonl", "out.json.gz", "out.parquet", "out.avro"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			writeAll(t, path, testSchema, rows, WriterOptions{RowGroupSize: 16})

			got, gotRows := readAll(t, path)
			assert.Equal(t, testSchema.Names(), got.Names())
			for i, f := range testSchema.Fields() {
				assert.Equal(t, f.Type, got.Field(i).Type, "column %s", f.Name)
			}
			require.Len(t, gotRows, len(rows))
			for i := range rows {
				assert.Equal(t, rows[i], gotRows[i], "row %d", i)
			}
		})
	}
}

func TestParquetWriterRowGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.parquet")
	writeAll(t, path, testSchema, testRows(40), WriterOptions{RowGroupSize: 16})

	info, err := filereader.Inspect(context.Background(), path, filereader.ReaderOptions{}, false)
	require.NoError(t, err)
	require.Len(t, info.RowGroups, 3)
	assert.Equal(t, int64(16), info.RowGroups[0].Rows)
	assert.Equal(t, int64(16), info.RowGroups[1].Rows)
	assert.Equal(t, int64(8), info.RowGroups[2].Rows)
}

func TestParquetWriterNullColumn(t *testing.T) {
	s := schema.MustNew(
		schema.Field{Name: "id", Type: schema.TypeInteger},
		schema.Field{Name: "empty", Type: schema.TypeNull, Nullable: true},
		schema.Field{Name: "blob", Type: schema.TypeBinary, Nullable: true},
	)
	rows := []pipeline.Row{
		{int64(1), nil, []byte{0x01, 0x02}},
		{int64(2), nil, nil},
	}
	path := filepath.Join(t.TempDir(), "nulls.parquet")
	writeAll(t, path, s, rows, WriterOptions{})

	got, gotRows := readAll(t, path)
	assert.Equal(t, []string{"id", "empty", "blob"}, got.Names())
	assert.Equal(t, schema.TypeBinary, got.Field(2).Type)
	assert.Equal(t, rows, gotRows)
}

func TestAvroWriterSanitizesNames(t *testing.T) {
	s := schema.MustNew(
		schema.Field{Name: "user id", Type: schema.TypeInteger},
		schema.Field{Name: "user-id", Type: schema.TypeInteger},
		schema.Field{Name: "9lives", Type: schema.TypeString},
	)
	path := filepath.Join(t.TempDir(), "names.avro")
	writeAll(t, path, s, []pipeline.Row{{int64(1), int64(2), "x"}}, WriterOptions{})

	got, gotRows := readAll(t, path)
	assert.Equal(t, []string{"user_id", "user_id_2", "_9lives"}, got.Names())
	assert.Equal(t, []pipeline.Row{{int64(1), int64(2), "x"}}, gotRows)
}

func TestAvroName(t *testing.T) {
	tests := map[string]string{
		"plain":   "plain",
		"a.b":     "a_b",
		"1st":     "_1st",
		"":        "_",
		"héllo":   "h_llo",
		"_ok_123": "_ok_123",
	}
	for in, want := range tests {
		assert.Equal(t, want, AvroName(in), in)
	}
}

func TestWriterRejectsMismatchedBatch(t *testing.T) {
	for _, name := range []string{"a.csv", "a.jsonl", "a.parquet", "a.avro"} {
		t.Run(name, func(t *testing.T) {
			w, err := Create(filepath.Join(t.TempDir(), name), filereader.FormatUnknown, testSchema, WriterOptions{})
			require.NoError(t, err)
			defer func() { _ = w.Close() }()

			other := schema.MustNew(schema.Field{Name: "id", Type: schema.TypeInteger})
			batch := pipeline.BatchFromRows(other, []pipeline.Row{{int64(1)}})
			defer pipeline.ReturnBatch(batch)

			err = w.Write(context.Background(), batch)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
			assert.Zero(t, w.RowsWritten())
		})
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "a.csv"), filereader.FormatUnknown, testSchema, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	batch := pipeline.BatchFromRows(testSchema, testRows(1))
	defer pipeline.ReturnBatch(batch)
	assert.Error(t, w.Write(context.Background(), batch))
}

func TestCreateRejectsUnsupportedOutput(t *testing.T) {
	dir := t.TempDir()

	_, err := Create(filepath.Join(dir, "a.parquet.gz"), filereader.FormatUnknown, testSchema, WriterOptions{})
	assert.ErrorIs(t, err, filereader.ErrUnsupportedFormat)

	_, err = Create(filepath.Join(dir, "a.xlsx"), filereader.FormatUnknown, testSchema, WriterOptions{})
	assert.ErrorIs(t, err, filereader.ErrUnsupportedFormat)

	_, err = os.Stat(filepath.Join(dir, "a.parquet.gz"))
	assert.True(t, os.IsNotExist(err), "no partial file left behind")
}

func TestCreateExplicitFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.out")
	w, err := Create(path, filereader.FormatJSONLines, testSchema, WriterOptions{})
	require.NoError(t, err)
	batch := pipeline.BatchFromRows(testSchema, testRows(3))
	require.NoError(t, w.Write(context.Background(), batch))
	pipeline.ReturnBatch(batch)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"id":0,"name":null,"score":0.25,"active":true,"seen_at":"2025-03-01T12:00:00Z"}`)
}
