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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/pipeline"
)

var tracer = otel.Tracer("github.com/cardinalhq/datamorph/internal/stats")

// Opener opens a fresh reader over one source. Parallel work calls it
// once per worker so no reader is shared between goroutines.
type Opener func(ctx context.Context) (filereader.Reader, error)

// Source names one input for ComputeAll.
type Source struct {
	Name string
	Open Opener
}

// Compute folds every batch of r into a new accumulator and returns the
// finalized report. r is not closed.
func Compute(ctx context.Context, r filereader.Reader, columns []string, opts Options) (*Report, error) {
	acc, err := NewAccumulator(r.Schema(), columns, opts)
	if err != nil {
		return nil, err
	}
	if err := fold(ctx, acc, r, opts.BatchSize); err != nil {
		return nil, err
	}
	return acc.Finalize(), nil
}

func fold(ctx context.Context, acc *Accumulator, r filereader.Reader, batchSize int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := r.Next(ctx, batchSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read failed after %d rows: %w", acc.Rows(), err)
		}
		err = acc.Update(batch)
		pipeline.ReturnBatch(batch)
		if err != nil {
			return err
		}
	}
}

// ComputeRowGroups summarizes a row-group source with opts.Workers
// goroutines. Each worker opens its own reader and folds whole row groups
// into a partial accumulator per group; partials are merged in row-group
// order so the result does not depend on scheduling.
func ComputeRowGroups(ctx context.Context, open Opener, columns []string, opts Options) (*Report, error) {
	report, _, err := computeRowGroups(ctx, open, columns, opts)
	return report, err
}

// computeRowGroups also returns the largest number of partial accumulators
// that were alive at once.
func computeRowGroups(ctx context.Context, open Opener, columns []string, opts Options) (*Report, int, error) {
	opts = opts.withDefaults()

	src, err := open(ctx)
	if err != nil {
		return nil, 0, err
	}
	rg, ok := src.(filereader.RowGroupReader)
	if !ok {
		defer func() { _ = src.Close() }()
		report, err := Compute(ctx, src, columns, opts)
		return report, 0, err
	}
	numGroups := rg.NumRowGroups()
	s := src.Schema()
	_ = src.Close()

	total, err := NewAccumulator(s, columns, opts)
	if err != nil {
		return nil, 0, err
	}
	workers := min(opts.Workers, max(numGroups, 1))
	merger := newRowGroupMerger(total, 2*workers)
	groups := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(groups)
		for i := range numGroups {
			if err := merger.acquire(gctx); err != nil {
				return err
			}
			select {
			case groups <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range workers {
		g.Go(func() error {
			r, err := open(gctx)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			worker, ok := r.(filereader.RowGroupReader)
			if !ok {
				return errors.New("reader lost row group access")
			}
			for i := range groups {
				acc, err := NewAccumulator(s, columns, opts)
				if err != nil {
					return err
				}
				merger.started()
				group, err := worker.OpenRowGroup(gctx, i)
				if err != nil {
					return fmt.Errorf("row group %d: %w", i, err)
				}
				err = fold(gctx, acc, group, opts.BatchSize)
				_ = group.Close()
				if err != nil {
					return fmt.Errorf("row group %d: %w", i, err)
				}
				if err := merger.finish(i, acc); err != nil {
					return fmt.Errorf("row group %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return total.Finalize(), merger.peak, nil
}

// rowGroupMerger folds finished row-group partials into a running total in
// row-group order. A group starts only after taking a slot, and slots are
// given back as groups are merged, so at most cap(slots) partials exist at
// any time no matter how many row groups the file has.
type rowGroupMerger struct {
	slots chan struct{}

	mu      sync.Mutex
	total   *Accumulator
	next    int
	pending map[int]*Accumulator
	live    int
	peak    int
}

func newRowGroupMerger(total *Accumulator, window int) *rowGroupMerger {
	return &rowGroupMerger{
		slots:   make(chan struct{}, max(window, 1)),
		total:   total,
		pending: make(map[int]*Accumulator),
	}
}

// acquire blocks until another row group may start.
func (m *rowGroupMerger) acquire(ctx context.Context) error {
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *rowGroupMerger) started() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live++
	m.peak = max(m.peak, m.live)
}

// finish records the partial for group i and merges every partial that is
// now contiguous with the groups already merged.
func (m *rowGroupMerger) finish(i int, acc *Accumulator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[i] = acc
	for {
		p, ok := m.pending[m.next]
		if !ok {
			return nil
		}
		delete(m.pending, m.next)
		m.next++
		m.live--
		<-m.slots
		if err := m.total.Merge(p); err != nil {
			return err
		}
	}
}

// ComputeAll summarizes each source independently, running up to
// opts.Workers sources at once. Reports come back in source order. A
// source exposing row groups is folded group-parallel when it runs alone.
func ComputeAll(ctx context.Context, sources []Source, columns []string, opts Options) ([]*Report, error) {
	opts = opts.withDefaults()
	reports := make([]*Report, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, src := range sources {
		g.Go(func() error {
			sctx, span := tracer.Start(gctx, "stats.source", trace.WithAttributes(attribute.String("source", src.Name)))
			defer span.End()
			sctx = logctx.With(sctx, slog.String("source", src.Name))
			ll := logctx.FromContext(sctx)
			ll.Debug("computing statistics")
			start := time.Now()

			var (
				report *Report
				err    error
			)
			if len(sources) == 1 && opts.Workers > 1 {
				report, err = ComputeRowGroups(sctx, src.Open, columns, opts)
			} else {
				report, err = computeSource(sctx, src, columns, opts)
			}
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("%s: %w", src.Name, err)
			}
			span.SetAttributes(attribute.Int64("rows", report.Rows))
			report.Source = src.Name
			reports[i] = report
			ll.Debug("statistics computed",
				slog.Int64("rows", report.Rows),
				slog.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func computeSource(ctx context.Context, src Source, columns []string, opts Options) (*Report, error) {
	r, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return Compute(ctx, r, columns, opts)
}
