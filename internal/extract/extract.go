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

// Package extract returns the first or last rows of a source in memory
// bounded by the number of rows requested.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
)

// ErrInvalidCount is returned for a non-positive row count.
var ErrInvalidCount = errors.New("row count must be positive")

// Head returns up to n rows from the start of r.
func Head(ctx context.Context, r filereader.Reader, n int) ([]pipeline.Row, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	rows := make([]pipeline.Row, 0, min(n, 1024))
	for len(rows) < n {
		batch, err := r.Next(ctx, n-len(rows))
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := range min(batch.Len(), n-len(rows)) {
			rows = append(rows, batch.Row(i))
		}
		pipeline.ReturnBatch(batch)
	}
	return rows, nil
}

// Tail returns up to n rows from the end of r in source order. Row-group
// sources only read the trailing row groups that can hold those rows;
// other sources are streamed through a ring buffer of n rows.
func Tail(ctx context.Context, r filereader.Reader, n int) ([]pipeline.Row, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	if rg, ok := r.(filereader.RowGroupReader); ok {
		return tailRowGroups(ctx, rg, n)
	}
	ring := newRing(n)
	if err := drain(ctx, r, ring); err != nil {
		return nil, err
	}
	return ring.rows(), nil
}

func tailRowGroups(ctx context.Context, rg filereader.RowGroupReader, n int) ([]pipeline.Row, error) {
	first := rg.NumRowGroups()
	var covered int64
	for first > 0 && covered < int64(n) {
		first--
		covered += rg.RowGroupNumRows(first)
	}

	ring := newRing(n)
	for g := first; g < rg.NumRowGroups(); g++ {
		group, err := rg.OpenRowGroup(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("row group %d: %w", g, err)
		}
		err = drain(ctx, group, ring)
		_ = group.Close()
		if err != nil {
			return nil, fmt.Errorf("row group %d: %w", g, err)
		}
	}
	return ring.rows(), nil
}

func drain(ctx context.Context, r filereader.Reader, ring *ring) error {
	for {
		batch, err := r.Next(ctx, 0)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		// only the last n rows of a batch can survive
		start := max(0, batch.Len()-len(ring.buf))
		for i := start; i < batch.Len(); i++ {
			ring.push(batch.Row(i))
		}
		pipeline.ReturnBatch(batch)
	}
}

// ring keeps the most recent len(buf) rows.
type ring struct {
	buf  []pipeline.Row
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]pipeline.Row, n)}
}

func (r *ring) push(row pipeline.Row) {
	r.buf[r.next] = row
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// rows returns the retained rows oldest first.
func (r *ring) rows() []pipeline.Row {
	if !r.full {
		return append([]pipeline.Row(nil), r.buf[:r.next]...)
	}
	out := make([]pipeline.Row, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
