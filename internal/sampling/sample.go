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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/pipeline"
)

// newRand derives the PCG state from a hash of the seed so that nearby
// seeds give unrelated streams.
func newRand(seed int64) *rand.Rand {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seed))
	h := xxhash.Sum64(b[:])
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

// Sample draws a sample from r according to opts. r is read to the end
// (or, for row-group sources in two-pass mode, only the row groups that
// hold selected rows) but not closed.
func Sample(ctx context.Context, r filereader.Reader, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	mode, err := resolveMode(r, opts)
	if err != nil {
		return nil, err
	}

	ll := logctx.FromContext(ctx)
	ll.Debug("sampling", slog.String("mode", string(mode)),
		slog.Int64("n", opts.N), slog.Float64("fraction", opts.Fraction), slog.Int64("seed", opts.Seed))

	var res *Result
	switch mode {
	case ModeSingle:
		res, err = reservoir(ctx, r, opts)
	case ModeTwoPass:
		res, err = twoPass(ctx, r, opts)
	case ModeBernoulli:
		res, err = bernoulli(ctx, r, opts)
	}
	if err != nil {
		return nil, err
	}
	res.Mode = mode
	ll.Debug("sample complete", slog.Int("rows", len(res.Rows)), slog.Int64("total", res.Total))
	return res, nil
}

func resolveMode(r filereader.Reader, opts Options) (Mode, error) {
	mode, _ := ParseMode(string(opts.Mode))
	_, known := filereader.RowCount(r)

	switch mode {
	case ModeTwoPass:
		if !known && !filereader.CanRewind(r) {
			return "", fmt.Errorf("two-pass sampling: %w", filereader.ErrNotRewindable)
		}
		return ModeTwoPass, nil
	case ModeBernoulli:
		if opts.N > 0 {
			return "", &OptionsError{Reason: "bernoulli sampling needs a fraction"}
		}
		return ModeBernoulli, nil
	case ModeSingle:
		if opts.N == 0 && !known {
			return ModeBernoulli, nil
		}
		return ModeSingle, nil
	}

	// auto
	switch {
	case opts.N > 0, known:
		return ModeSingle, nil
	case filereader.CanRewind(r):
		return ModeTwoPass, nil
	default:
		return ModeBernoulli, nil
	}
}

// reservoir keeps a uniform sample of k rows in one pass (Algorithm R).
// With a fraction, k comes from the source's known row count.
func reservoir(ctx context.Context, r filereader.Reader, opts Options) (*Result, error) {
	k := opts.N
	if k == 0 {
		total, _ := filereader.RowCount(r)
		k = opts.targetCount(total)
	}
	rng := newRand(opts.Seed)
	kept := make([]pipeline.Row, 0, min(k, 1<<16))

	var seen int64
	err := scan(ctx, r, opts.BatchSize, func(batch *pipeline.Batch) {
		for i := range batch.Len() {
			if seen < k {
				kept = append(kept, batch.Row(i))
			} else if j := rng.Int64N(seen + 1); j < k {
				kept[j] = batch.Row(i)
			}
			seen++
		}
	})
	if err != nil {
		return nil, err
	}
	return &Result{Schema: r.Schema(), Rows: kept, Total: seen}, nil
}

// bernoulli keeps row i when a seeded hash of i falls under the fraction,
// so the choice of a row never depends on how batches were split.
func bernoulli(ctx context.Context, r filereader.Reader, opts Options) (*Result, error) {
	threshold := opts.Fraction
	var kept []pipeline.Row
	var seen int64
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(opts.Seed))

	err := scan(ctx, r, opts.BatchSize, func(batch *pipeline.Batch) {
		for i := range batch.Len() {
			binary.LittleEndian.PutUint64(buf[8:], uint64(seen))
			u := float64(xxhash.Sum64(buf[:])>>11) / (1 << 53)
			if u < threshold {
				kept = append(kept, batch.Row(i))
			}
			seen++
		}
	})
	if err != nil {
		return nil, err
	}
	return &Result{Schema: r.Schema(), Rows: kept, Total: seen}, nil
}

// twoPass counts the rows (from metadata when the source knows it),
// selects exactly k positions, and extracts them in source order.
func twoPass(ctx context.Context, r filereader.Reader, opts Options) (*Result, error) {
	total, known := filereader.RowCount(r)
	if !known {
		var err error
		if total, err = filereader.CountRows(ctx, r); err != nil {
			return nil, fmt.Errorf("two-pass sampling count: %w", err)
		}
		if err := r.(filereader.Rewinder).Rewind(); err != nil {
			return nil, fmt.Errorf("two-pass sampling rewind: %w", err)
		}
	}

	positions := selectPositions(total, opts.targetCount(total), newRand(opts.Seed))
	res := &Result{Schema: r.Schema(), Total: total, Rows: make([]pipeline.Row, 0, len(positions))}
	if len(positions) == 0 {
		return res, nil
	}

	if rg, ok := r.(filereader.RowGroupReader); ok && known {
		rows, err := extractFromRowGroups(ctx, rg, positions, opts.BatchSize)
		if err != nil {
			return nil, err
		}
		res.Rows = rows
		return res, nil
	}

	var pos int64
	next := 0
	err := scan(ctx, r, opts.BatchSize, func(batch *pipeline.Batch) {
		for i := range batch.Len() {
			if next < len(positions) && positions[next] == pos {
				res.Rows = append(res.Rows, batch.Row(i))
				next++
			}
			pos++
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// selectPositions picks k distinct positions out of [0, n) with Floyd's
// algorithm and returns them sorted. Memory is O(k).
func selectPositions(n, k int64, rng *rand.Rand) []int64 {
	if k <= 0 || n <= 0 {
		return nil
	}
	if k >= n {
		all := make([]int64, n)
		for i := range all {
			all[i] = int64(i)
		}
		return all
	}
	chosen := make(map[int64]struct{}, k)
	for j := n - k; j < n; j++ {
		t := rng.Int64N(j + 1)
		if _, dup := chosen[t]; dup {
			chosen[j] = struct{}{}
		} else {
			chosen[t] = struct{}{}
		}
	}
	out := make([]int64, 0, k)
	for p := range chosen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// extractFromRowGroups opens only the row groups that contain selected
// positions.
func extractFromRowGroups(ctx context.Context, rg filereader.RowGroupReader, positions []int64, batchSize int) ([]pipeline.Row, error) {
	rows := make([]pipeline.Row, 0, len(positions))
	next := 0
	var start int64
	for g := 0; g < rg.NumRowGroups() && next < len(positions); g++ {
		n := rg.RowGroupNumRows(g)
		end := start + n
		if positions[next] >= end {
			start = end
			continue
		}

		group, err := rg.OpenRowGroup(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("row group %d: %w", g, err)
		}
		pos := start
		err = scan(ctx, group, batchSize, func(batch *pipeline.Batch) {
			for i := range batch.Len() {
				if next < len(positions) && positions[next] == pos {
					rows = append(rows, batch.Row(i))
					next++
				}
				pos++
			}
		})
		_ = group.Close()
		if err != nil {
			return nil, fmt.Errorf("row group %d: %w", g, err)
		}
		start = end
	}
	return rows, nil
}

func scan(ctx context.Context, r filereader.Reader, batchSize int, fn func(*pipeline.Batch)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := r.Next(ctx, batchSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(batch)
		pipeline.ReturnBatch(batch)
	}
}

