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
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/datamorph/internal/schema"
)

var (
	meter = otel.Meter("github.com/cardinalhq/datamorph/internal/pipeline")

	batchpoolGetsCounter metric.Int64Counter
	batchpoolPutsCounter metric.Int64Counter
)

func init() {
	var err error

	batchpoolGetsCounter, err = meter.Int64Counter(
		"datamorph.pipeline.batchpool.gets",
		metric.WithDescription("Total number of gets from the batch pool"),
	)
	if err != nil {
		panic(err)
	}

	batchpoolPutsCounter, err = meter.Int64Counter(
		"datamorph.pipeline.batchpool.puts",
		metric.WithDescription("Total number of puts back to the batch pool"),
	)
	if err != nil {
		panic(err)
	}
}

// Batch is a columnar chunk of rows conforming to one schema.
//
// A Batch is owned by the Reader that returns it. Consumers must not hold
// references after the next Next() call; copy rows with Row() if they must
// be retained.
type Batch struct {
	schema  *schema.Schema
	columns [][]any
	n       int
}

type batchPool struct {
	pool  sync.Pool
	sz    int
	alloc atomic.Uint64
	gets  atomic.Uint64
	puts  atomic.Uint64
}

func newBatchPool(defaultCapacity int) *batchPool {
	p := &batchPool{sz: defaultCapacity}
	p.pool = sync.Pool{
		New: func() any {
			p.alloc.Add(1)
			return &Batch{}
		},
	}
	return p
}

func (p *batchPool) Get(s *schema.Schema, capacity int) *Batch {
	p.gets.Add(1)
	batchpoolGetsCounter.Add(context.Background(), 1)
	if capacity <= 0 {
		capacity = p.sz
	}
	b := p.pool.Get().(*Batch)
	b.reset(s, capacity)
	return b
}

func (p *batchPool) Put(b *Batch) {
	p.puts.Add(1)
	batchpoolPutsCounter.Add(context.Background(), 1)
	for i := range b.columns {
		clear(b.columns[i][:b.n])
		// Drop oversized columns to avoid unbounded growth
		if cap(b.columns[i]) > p.sz*4 {
			b.columns[i] = nil
		}
	}
	b.schema = nil
	b.n = 0
	p.pool.Put(b)
}

// BatchPoolStats contains counters for batch pool usage.
type BatchPoolStats struct {
	Allocations uint64
	Gets        uint64
	Puts        uint64
}

// LeakedBatches returns the number of batches that were gotten but never returned.
func (s BatchPoolStats) LeakedBatches() uint64 {
	return s.Gets - s.Puts
}

func (p *batchPool) stats() BatchPoolStats {
	return BatchPoolStats{
		Allocations: p.alloc.Load(),
		Gets:        p.gets.Load(),
		Puts:        p.puts.Load(),
	}
}

var globalBatchPool = newBatchPool(10000)

// NewBatch returns an empty batch for the schema from the global pool.
// capacity is a hint; the batch grows past it when needed.
func NewBatch(s *schema.Schema, capacity int) *Batch {
	return globalBatchPool.Get(s, capacity)
}

// ReturnBatch hands a batch back to the global pool. The batch must not be
// used afterwards.
func ReturnBatch(b *Batch) {
	if b == nil {
		return
	}
	globalBatchPool.Put(b)
}

// GlobalBatchPoolStats returns usage counters for the global pool.
func GlobalBatchPoolStats() BatchPoolStats {
	return globalBatchPool.stats()
}

func (b *Batch) reset(s *schema.Schema, capacity int) {
	b.schema = s
	b.n = 0
	width := s.Len()
	if cap(b.columns) < width {
		grown := make([][]any, width)
		copy(grown, b.columns)
		b.columns = grown
	}
	b.columns = b.columns[:width]
	for i := range b.columns {
		if cap(b.columns[i]) < capacity {
			b.columns[i] = make([]any, 0, capacity)
		}
		b.columns[i] = b.columns[i][:0]
	}
}

// Schema returns the schema every row in the batch conforms to.
func (b *Batch) Schema() *schema.Schema {
	return b.schema
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return b.n
}

// NumColumns returns the number of columns.
func (b *Batch) NumColumns() int {
	return len(b.columns)
}

// Column returns the values of column i. The slice aliases batch storage.
func (b *Batch) Column(i int) []any {
	return b.columns[i][:b.n]
}

// Value returns the value at (row, col).
func (b *Batch) Value(row, col int) any {
	return b.columns[col][row]
}

// Set overwrites the value at (row, col).
func (b *Batch) Set(row, col int, v any) {
	b.columns[col][row] = v
}

// AppendRow appends one row. It panics if the number of values does not
// match the schema width.
func (b *Batch) AppendRow(values ...any) {
	if len(values) != len(b.columns) {
		panic(fmt.Sprintf("pipeline: AppendRow got %d values for %d columns", len(values), len(b.columns)))
	}
	for i, v := range values {
		b.columns[i] = append(b.columns[i], v)
	}
	b.n++
}

// Row returns a copy of row i that is safe to retain.
func (b *Batch) Row(i int) Row {
	out := make(Row, len(b.columns))
	for c := range b.columns {
		out[c] = b.columns[c][i]
	}
	return out
}

// Truncate drops all rows but keeps the allocated storage.
func (b *Batch) Truncate() {
	for i := range b.columns {
		clear(b.columns[i][:b.n])
		b.columns[i] = b.columns[i][:0]
	}
	b.n = 0
}
