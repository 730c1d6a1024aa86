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

package stats

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

var statsSchema = schema.MustNew(
	schema.Field{Name: "id", Type: schema.TypeInteger},
	schema.Field{Name: "price", Type: schema.TypeFloating, Nullable: true},
	schema.Field{Name: "city", Type: schema.TypeString, Nullable: true},
	// numeric-looking text stays categorical
	schema.Field{Name: "zip", Type: schema.TypeString},
)

var cities = []string{"austin", "boston", "austin", "chicago", "austin", "boston", "denver"}

func statsRows(n int) []pipeline.Row {
	rows := make([]pipeline.Row, n)
	for i := range n {
		var price any = float64(i%100) + 0.5
		if i%10 == 0 {
			price = nil
		}
		var city any = cities[i%len(cities)]
		if i%50 == 0 {
			city = nil
		}
		rows[i] = pipeline.Row{int64(i), price, city, "0210" + string(rune('0'+i%3))}
	}
	return rows
}

func TestComputeClassifiesBySchema(t *testing.T) {
	src := pipeline.NewSliceSource(statsSchema, statsRows(700))
	r, err := Compute(context.Background(), src, nil, Options{BatchSize: 64})
	require.NoError(t, err)

	assert.Equal(t, int64(700), r.Rows)
	require.Len(t, r.Columns, 4)

	id, ok := r.Column("id")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, id.Kind)
	assert.Equal(t, 0.0, *id.Numeric.Min)
	assert.Equal(t, 699.0, *id.Numeric.Max)
	assert.InDelta(t, 349.5, *id.Numeric.Mean, 1e-9)
	assert.InDelta(t, 349.5, *id.Numeric.Median, 7)

	price, _ := r.Column("price")
	assert.Equal(t, int64(630), price.Numeric.NonNullCount)
	assert.Equal(t, int64(70), price.Numeric.NullCount)

	city, _ := r.Column("city")
	assert.Equal(t, KindCategorical, city.Kind)
	assert.Equal(t, int64(14), city.Categorical.NullCount)
	assert.Equal(t, int64(4), city.Categorical.DistinctCount)
	assert.Equal(t, "austin", city.Categorical.TopK[0].Value)

	zip, _ := r.Column("zip")
	assert.Equal(t, KindCategorical, zip.Kind)
	assert.Equal(t, int64(3), zip.Categorical.DistinctCount)
}

func TestComputeProjection(t *testing.T) {
	src := pipeline.NewSliceSource(statsSchema, statsRows(10))
	r, err := Compute(context.Background(), src, []string{"city", "id"}, Options{})
	require.NoError(t, err)
	require.Len(t, r.Columns, 2)
	assert.Equal(t, "city", r.Columns[0].Name)
	assert.Equal(t, "id", r.Columns[1].Name)

	_, err = Compute(context.Background(), src, []string{"nope"}, Options{})
	assert.ErrorIs(t, err, schema.ErrUnknownField)
}

func TestAccumulatorFinalize(t *testing.T) {
	acc, err := NewAccumulator(statsSchema, nil, Options{})
	require.NoError(t, err)

	batch := pipeline.BatchFromRows(statsSchema, statsRows(5))
	defer pipeline.ReturnBatch(batch)
	require.NoError(t, acc.Update(batch))

	first := acc.Finalize()
	assert.Same(t, first, acc.Finalize())
	assert.ErrorIs(t, acc.Update(batch), ErrFinalized)

	other, err := NewAccumulator(statsSchema, nil, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, other.Merge(acc), ErrFinalized)
}

func TestAccumulatorRejectsForeignBatch(t *testing.T) {
	acc, err := NewAccumulator(statsSchema, nil, Options{})
	require.NoError(t, err)
	other := schema.MustNew(schema.Field{Name: "id", Type: schema.TypeInteger})
	batch := pipeline.BatchFromRows(other, []pipeline.Row{{int64(1)}})
	defer pipeline.ReturnBatch(batch)
	assert.Error(t, acc.Update(batch))
}

func TestAccumulatorMergeMatchesSinglePass(t *testing.T) {
	rows := statsRows(1000)
	whole, err := Compute(context.Background(), pipeline.NewSliceSource(statsSchema, rows), nil, Options{})
	require.NoError(t, err)

	a, err := NewAccumulator(statsSchema, nil, Options{})
	require.NoError(t, err)
	b, err := NewAccumulator(statsSchema, nil, Options{})
	require.NoError(t, err)
	ba := pipeline.BatchFromRows(statsSchema, rows[:400])
	bb := pipeline.BatchFromRows(statsSchema, rows[400:])
	require.NoError(t, a.Update(ba))
	require.NoError(t, b.Update(bb))
	pipeline.ReturnBatch(ba)
	pipeline.ReturnBatch(bb)
	require.NoError(t, a.Merge(b))
	merged := a.Finalize()

	assert.Equal(t, whole.Rows, merged.Rows)
	for i, col := range whole.Columns {
		got := merged.Columns[i]
		if col.Kind == KindNumeric {
			assert.Equal(t, *col.Numeric.Min, *got.Numeric.Min)
			assert.Equal(t, *col.Numeric.Max, *got.Numeric.Max)
			assert.InDelta(t, *col.Numeric.Mean, *got.Numeric.Mean, 1e-9)
			continue
		}
		assert.Equal(t, col.Categorical, got.Categorical)
	}
}

func writeParquet(t *testing.T, rows []pipeline.Row, rowGroupSize int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.parquet")
	w, err := filewriter.Create(path, filereader.FormatUnknown, statsSchema, filewriter.WriterOptions{RowGroupSize: rowGroupSize})
	require.NoError(t, err)
	batch := pipeline.BatchFromRows(statsSchema, rows)
	require.NoError(t, w.Write(context.Background(), batch))
	pipeline.ReturnBatch(batch)
	require.NoError(t, w.Close())
	return path
}

func TestComputeRowGroupsMatchesSequential(t *testing.T) {
	rows := statsRows(2000)
	path := writeParquet(t, rows, 300)
	open := func(ctx context.Context) (filereader.Reader, error) {
		return filereader.Open(ctx, path, filereader.ReaderOptions{})
	}

	seq, err := ComputeAll(context.Background(), []Source{{Name: path, Open: open}}, nil, Options{Workers: 1})
	require.NoError(t, err)
	par, err := ComputeRowGroups(context.Background(), open, nil, Options{Workers: 3})
	require.NoError(t, err)

	assert.Equal(t, seq[0].Rows, par.Rows)
	assert.Equal(t, path, seq[0].Source)
	for i, col := range seq[0].Columns {
		got := par.Columns[i]
		if col.Kind == KindNumeric {
			assert.Equal(t, col.Numeric.NonNullCount, got.Numeric.NonNullCount)
			assert.Equal(t, *col.Numeric.Min, *got.Numeric.Min)
			assert.Equal(t, *col.Numeric.Max, *got.Numeric.Max)
			assert.InDelta(t, *col.Numeric.Mean, *got.Numeric.Mean, 1e-9)
			continue
		}
		assert.Equal(t, col.Categorical.DistinctCount, got.Categorical.DistinctCount)
		assert.Equal(t, col.Categorical.TopK, got.Categorical.TopK)
	}
}

func TestComputeRowGroupsBoundsLivePartials(t *testing.T) {
	rows := statsRows(2000)
	path := writeParquet(t, rows, 50)
	open := func(ctx context.Context) (filereader.Reader, error) {
		return filereader.Open(ctx, path, filereader.ReaderOptions{})
	}

	const workers = 2
	report, peak, err := computeRowGroups(context.Background(), open, nil, Options{Workers: workers})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), report.Rows)
	assert.GreaterOrEqual(t, peak, 1)
	assert.LessOrEqual(t, peak, 2*workers, "40 row groups must not all be held at once")
}

func TestRowGroupMergerMergesInOrder(t *testing.T) {
	total, err := NewAccumulator(statsSchema, []string{"id"}, Options{})
	require.NoError(t, err)
	m := newRowGroupMerger(total, 3)

	partial := func(from, to int) *Accumulator {
		acc, err := NewAccumulator(statsSchema, []string{"id"}, Options{})
		require.NoError(t, err)
		batch := pipeline.BatchFromRows(statsSchema, statsRows(to)[from:])
		require.NoError(t, acc.Update(batch))
		pipeline.ReturnBatch(batch)
		return acc
	}

	for range 3 {
		require.NoError(t, m.acquire(context.Background()))
		m.started()
	}
	require.NoError(t, m.finish(2, partial(20, 30)))
	require.NoError(t, m.finish(1, partial(10, 20)))
	assert.Equal(t, int64(0), total.Rows())
	assert.Len(t, m.pending, 2)

	require.NoError(t, m.finish(0, partial(0, 10)))
	assert.Equal(t, int64(30), total.Rows())
	assert.Empty(t, m.pending)
	assert.Equal(t, 3, m.next)
	assert.Equal(t, 0, m.live)
	assert.Equal(t, 3, m.peak)
	assert.Len(t, m.slots, 0)
}

func TestComputeAllKeepsSourceOrder(t *testing.T) {
	var sources []Source
	for _, n := range []int{30, 10, 20} {
		rows := statsRows(n)
		sources = append(sources, Source{
			Name: "rows-" + string(rune('0'+n/10)),
			Open: func(ctx context.Context) (filereader.Reader, error) {
				return pipeline.NewSliceSource(statsSchema, rows), nil
			},
		})
	}
	reports, err := ComputeAll(context.Background(), sources, []string{"id"}, Options{Workers: 3})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, int64(30), reports[0].Rows)
	assert.Equal(t, int64(10), reports[1].Rows)
	assert.Equal(t, int64(20), reports[2].Rows)
	assert.Equal(t, "rows-1", reports[1].Source)
}
