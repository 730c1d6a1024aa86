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

package sampling

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/filewriter"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

var sampleSchema = schema.MustNew(
	schema.Field{Name: "id", Type: schema.TypeInteger},
	schema.Field{Name: "label", Type: schema.TypeString},
)

func sampleRows(n int) []pipeline.Row {
	rows := make([]pipeline.Row, n)
	for i := range n {
		rows[i] = pipeline.Row{int64(i), "row"}
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

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"n only", Options{N: 10}, true},
		{"fraction only", Options{Fraction: 0.5}, true},
		{"fraction one", Options{Fraction: 1}, true},
		{"both", Options{N: 10, Fraction: 0.5}, false},
		{"neither", Options{}, false},
		{"negative n", Options{N: -1}, false},
		{"fraction above one", Options{Fraction: 1.5}, false},
		{"negative fraction", Options{Fraction: -0.1}, false},
		{"bad mode", Options{N: 1, Mode: "sideways"}, false},
		{"two-pass mode", Options{N: 1, Mode: ModeTwoPass}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidOptions)
			var oe *OptionsError
			assert.ErrorAs(t, err, &oe)
		})
	}
}

func TestSampleRejectsBeforeReading(t *testing.T) {
	src := pipeline.NewSliceSource(sampleSchema, sampleRows(10))
	_, err := Sample(context.Background(), src, Options{N: 1, Fraction: 0.1})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	// nothing was consumed
	res, err := Sample(context.Background(), src, Options{N: 100})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 10)
}

func TestReservoirDeterministic(t *testing.T) {
	run := func(seed int64) []int64 {
		src := pipeline.NewSliceSource(sampleSchema, sampleRows(1000))
		res, err := Sample(context.Background(), src, Options{N: 50, Seed: seed, BatchSize: 37})
		require.NoError(t, err)
		assert.Equal(t, ModeSingle, res.Mode)
		assert.Equal(t, int64(1000), res.Total)
		require.Len(t, res.Rows, 50)
		return ids(res.Rows)
	}
	first := run(42)
	assert.Equal(t, first, run(42))
	assert.NotEqual(t, first, run(43))

	seen := make(map[int64]bool)
	for _, id := range first {
		assert.False(t, seen[id], "duplicate row %d", id)
		seen[id] = true
	}
}

func TestReservoirUniform(t *testing.T) {
	const (
		n     = 1000
		k     = 50
		seeds = 2000
	)
	rows := sampleRows(n)
	counts := make([]int, n)
	for seed := range int64(seeds) {
		res, err := Sample(context.Background(), pipeline.NewSliceSource(sampleSchema, rows), Options{N: k, Seed: seed})
		require.NoError(t, err)
		for _, id := range ids(res.Rows) {
			counts[id]++
		}
	}

	// each decile of the stream should hold a tenth of all picks
	want := float64(k*seeds) / 10
	for d := range 10 {
		sum := 0
		for _, c := range counts[d*100 : (d+1)*100] {
			sum += c
		}
		assert.InEpsilon(t, want, sum, 0.05, "decile %d", d)
	}
}

func TestSampleLargerThanSource(t *testing.T) {
	src := pipeline.NewSliceSource(sampleSchema, sampleRows(7))
	res, err := Sample(context.Background(), src, Options{N: 100})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6}, ids(res.Rows))
	assert.Equal(t, int64(7), res.Total)
}

func TestFractionWithKnownCount(t *testing.T) {
	src := pipeline.NewSliceSource(sampleSchema, sampleRows(200))
	res, err := Sample(context.Background(), src, Options{Fraction: 0.1, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, res.Mode)
	assert.Len(t, res.Rows, 20)
}

func TestFractionUnknownCountUsesTwoPass(t *testing.T) {
	run := func() *Result {
		src := pipeline.NewSliceSource(sampleSchema, sampleRows(500))
		src.HideCount = true
		res, err := Sample(context.Background(), src, Options{Fraction: 0.05, Seed: 9, BatchSize: 64})
		require.NoError(t, err)
		return res
	}
	res := run()
	assert.Equal(t, ModeTwoPass, res.Mode)
	assert.Equal(t, int64(500), res.Total)
	require.Len(t, res.Rows, 25)
	assert.IsIncreasing(t, ids(res.Rows), "two-pass keeps source order")
	assert.Equal(t, ids(res.Rows), ids(run().Rows))
}

func TestFractionOneShotStreamUsesBernoulli(t *testing.T) {
	src := pipeline.NewSliceSource(sampleSchema, sampleRows(20000))
	src.HideCount = true
	src.NoRewind = true
	res, err := Sample(context.Background(), src, Options{Fraction: 0.1, Seed: 3, BatchSize: 999})
	require.NoError(t, err)
	assert.Equal(t, ModeBernoulli, res.Mode)
	assert.Equal(t, int64(20000), res.Total)
	assert.InEpsilon(t, 2000, len(res.Rows), 0.1)

	// row selection does not depend on batch boundaries
	again := pipeline.NewSliceSource(sampleSchema, sampleRows(20000))
	again.HideCount = true
	again.NoRewind = true
	res2, err := Sample(context.Background(), again, Options{Fraction: 0.1, Seed: 3, BatchSize: 17})
	require.NoError(t, err)
	assert.Equal(t, ids(res.Rows), ids(res2.Rows))
}

func TestTwoPassNeedsRewind(t *testing.T) {
	src := pipeline.NewSliceSource(sampleSchema, sampleRows(10))
	src.HideCount = true
	src.NoRewind = true
	_, err := Sample(context.Background(), src, Options{N: 3, Mode: ModeTwoPass})
	assert.ErrorIs(t, err, filereader.ErrNotRewindable)
}

func TestTwoPassRowGroups(t *testing.T) {
	rows := sampleRows(1000)
	path := filepath.Join(t.TempDir(), "sample.parquet")
	w, err := filewriter.Create(path, filereader.FormatUnknown, sampleSchema, filewriter.WriterOptions{RowGroupSize: 64})
	require.NoError(t, err)
	batch := pipeline.BatchFromRows(sampleSchema, rows)
	require.NoError(t, w.Write(context.Background(), batch))
	pipeline.ReturnBatch(batch)
	require.NoError(t, w.Close())

	r, err := filereader.Open(context.Background(), path, filereader.ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	_, isRowGroups := r.(filereader.RowGroupReader)
	require.True(t, isRowGroups)

	opts := Options{N: 12, Seed: 77, Mode: ModeTwoPass}
	got, err := Sample(context.Background(), r, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Total)

	// the same positions are selected from an in-memory copy
	want, err := Sample(context.Background(), pipeline.NewSliceSource(sampleSchema, rows), opts)
	require.NoError(t, err)
	assert.Equal(t, ids(want.Rows), ids(got.Rows))
	assert.Len(t, got.Rows, 12)
}

func TestSelectPositions(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	got := selectPositions(100, 30, rng)
	require.Len(t, got, 30)
	assert.IsIncreasing(t, got)
	assert.GreaterOrEqual(t, got[0], int64(0))
	assert.Less(t, got[len(got)-1], int64(100))

	assert.Len(t, selectPositions(5, 10, rng), 5)
	assert.Nil(t, selectPositions(5, 0, rng))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("reservoir")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)
	_, err = ParseMode("magic")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
