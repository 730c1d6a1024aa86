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
	"errors"
	"io"

	"github.com/cardinalhq/datamorph/internal/schema"
)

// SliceSource serves in-memory rows as batches. It is used by tests and by
// callers that already hold a small row set, such as a finished sample.
type SliceSource struct {
	schema    *schema.Schema
	data      []Row
	pos       int
	closed    bool
	HideCount bool // when set, RowCount reports the count as unknown
	NoRewind  bool // when set, the source behaves like a one-shot stream
}

func NewSliceSource(s *schema.Schema, data []Row) *SliceSource {
	return &SliceSource{schema: s, data: data}
}

func (s *SliceSource) Schema() *schema.Schema {
	return s.schema
}

func (s *SliceSource) Next(ctx context.Context, maxRows int) (*Batch, error) {
	if s.closed || s.pos >= len(s.data) {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = len(s.data)
	}
	upper := min(s.pos+maxRows, len(s.data))
	b := NewBatch(s.schema, upper-s.pos)
	for _, r := range s.data[s.pos:upper] {
		b.AppendRow(r...)
	}
	s.pos = upper
	return b, nil
}

func (s *SliceSource) RowCount() (int64, bool) {
	if s.HideCount {
		return 0, false
	}
	return int64(len(s.data)), true
}

func (s *SliceSource) Rewindable() bool {
	return !s.NoRewind
}

func (s *SliceSource) Rewind() error {
	if s.NoRewind {
		return errors.New("slice source is not rewindable")
	}
	s.pos = 0
	s.closed = false
	return nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}
