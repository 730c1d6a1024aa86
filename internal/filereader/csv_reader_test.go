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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

func TestNewCSVReader(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expectErr bool
		errMsg    string
	}{
		{
			name:  "Valid CSV with headers",
			input: "name,age,city\nAlice,30,NYC\nBob,25,LA",
		},
		{
			name:      "Empty CSV",
			input:     "",
			expectErr: true,
			errMsg:    "failed to read CSV headers",
		},
		{
			name:  "Only headers",
			input: "name,age,city",
		},
		{
			name:      "Duplicate headers",
			input:     "a,a\n1,2",
			expectErr: true,
			errMsg:    "duplicate field name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := io.NopCloser(strings.NewReader(tt.input))
			csvReader, err := NewCSVReader(reader, ReaderOptions{BatchSize: 10})

			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, csvReader)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, csvReader)
			_ = csvReader.Close()
		})
	}
}

func TestCSVReader_InfersTypes(t *testing.T) {
	input := "id,score,flag,name,when,empty\n" +
		"1,1.5,true,alice,2024-05-01T10:00:00Z,\n" +
		"2,2,false,,2024-05-02T10:00:00Z,\n" +
		"3,,true,carol,2024-05-03T10:00:00Z,\n"

	for _, seekable := range []bool{true, false} {
		var rc io.ReadCloser = io.NopCloser(strings.NewReader(input))
		if seekable {
			rc = newSeekable(input)
		}
		r, err := NewCSVReader(rc, ReaderOptions{})
		require.NoError(t, err)

		want := schema.MustNew(
			schema.Field{Name: "id", Type: schema.TypeInteger},
			schema.Field{Name: "score", Type: schema.TypeFloating, Nullable: true},
			schema.Field{Name: "flag", Type: schema.TypeBoolean},
			schema.Field{Name: "name", Type: schema.TypeString, Nullable: true},
			schema.Field{Name: "when", Type: schema.TypeTimestamp},
			schema.Field{Name: "empty", Type: schema.TypeString, Nullable: true},
		)
		assert.True(t, want.Equal(r.Schema()), "seekable=%v got %s", seekable, r.Schema())
		assert.Equal(t, seekable, r.Rewindable())

		rows := readAllRows(t, r, 2)
		require.Len(t, rows, 3)
		assert.Equal(t, pipeline.Row{int64(1), 1.5, true, "alice", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), nil}, rows[0])
		assert.Equal(t, float64(2), rows[1][1])
		assert.Nil(t, rows[1][3])
		assert.Nil(t, rows[2][1])
		require.NoError(t, r.Close())
	}
}

func TestCSVReader_BooleansMixedWithNumbersInferString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []any
	}{
		{"integers then boolean", "flag\n1\n0\ntrue\n", []any{"1", "0", "true"}},
		{"boolean then float", "flag\nfalse\n2.5\n", []any{"false", "2.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCSVReader(newSeekable(tt.input), ReaderOptions{})
			require.NoError(t, err)
			defer func() { _ = r.Close() }()

			assert.Equal(t, schema.TypeString, r.Schema().Field(0).Type)
			rows := readAllRows(t, r, 0)
			require.Len(t, rows, len(tt.want))
			for i, v := range tt.want {
				assert.Equal(t, v, rows[i][0])
			}
		})
	}
}

func TestCSVReader_ValuesOutsideInferenceWindowPassThrough(t *testing.T) {
	input := "v\n1\n2\nthree\n"
	r, err := NewCSVReader(newSeekable(input), ReaderOptions{InferRows: 2})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, schema.TypeInteger, r.Schema().Field(0).Type)
	rows := readAllRows(t, r, 0)
	require.Len(t, rows, 3)
	assert.Equal(t, "three", rows[2][0])
}

func TestCSVReader_SkipsRowsWithWrongColumnCount(t *testing.T) {
	input := "a,b\n1,2\n3\n4,5,6\n7,8\n"
	r, err := NewCSVReader(newSeekable(input), ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	rows := readAllRows(t, r, 10)
	assert.Equal(t, []pipeline.Row{{int64(1), int64(2)}, {int64(7), int64(8)}}, rows)
}

func TestCSVReader_BatchSizeAndRewind(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("n\n")
	for i := range 25 {
		sb.WriteString(strings.Repeat("x", i%3+1))
		sb.WriteString("\n")
	}
	r, err := NewCSVReader(newSeekable(sb.String()), ReaderOptions{BatchSize: 10})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ctx := context.Background()
	var sizes []int
	for {
		b, err := r.Next(ctx, 0)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, b.Len())
		pipeline.ReturnBatch(b)
	}
	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, int64(25), r.TotalRowsReturned())

	require.NoError(t, r.Rewind())
	assert.Len(t, readAllRows(t, r, 7), 25)
}

func TestCSVReader_NonSeekableCannotRewind(t *testing.T) {
	r, err := NewCSVReader(io.NopCloser(strings.NewReader("a\n1\n")), ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.False(t, CanRewind(r))
	assert.ErrorIs(t, r.Rewind(), ErrNotRewindable)
}

func TestCSVReader_Projection(t *testing.T) {
	r, err := NewCSVReader(newSeekable("a,b,c\n1,x,2.5\n"), ReaderOptions{Columns: []string{"c", "a"}})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"c", "a"}, r.Schema().Names())
	assert.Equal(t, []pipeline.Row{{2.5, int64(1)}}, readAllRows(t, r, 0))

	_, err = NewCSVReader(newSeekable("a\n1\n"), ReaderOptions{Columns: []string{"zzz"}})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestCSVReader_ClosedReader(t *testing.T) {
	src := newSeekable("a\n1\n")
	r, err := NewCSVReader(src, ReaderOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, src.closed)
	require.NoError(t, r.Close())

	_, err = r.Next(context.Background(), 0)
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestCSVReader_ReadError(t *testing.T) {
	_, err := NewCSVReader(io.NopCloser(&errorReaderImpl{shouldError: true}), ReaderOptions{})
	assert.Error(t, err)
}
