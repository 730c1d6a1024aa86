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

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// Reader is the core interface for reading batches from any file format.
type Reader interface {
	// Schema returns the schema every batch conforms to. It is fixed before
	// the first call to Next.
	Schema() *schema.Schema

	// Next returns up to maxRows rows; maxRows <= 0 means the reader's
	// configured batch size. Returns io.EOF when there are no more rows.
	Next(ctx context.Context, maxRows int) (*pipeline.Batch, error)

	// Close releases any resources held by the reader.
	Close() error
}

// RowCounter is implemented by readers that may know their row count
// without a full scan.
type RowCounter interface {
	RowCount() (int64, bool)
}

// Rewinder is implemented by readers that can restart from the first row.
// Rewindable reports whether Rewind will succeed for this particular input.
type Rewinder interface {
	Rewindable() bool
	Rewind() error
}

// RowGroupReader is implemented by readers over files made of addressable,
// independently readable row groups.
type RowGroupReader interface {
	NumRowGroups() int
	RowGroupNumRows(i int) int64
	// OpenRowGroup returns a reader over a single row group. It shares the
	// parent's file handle and must be closed before the parent.
	OpenRowGroup(ctx context.Context, i int) (Reader, error)
}

// ReaderOptions configures reader construction.
type ReaderOptions struct {
	Format    Format   // FormatUnknown means detect from the file name
	BatchSize int      // default batch size for Next(ctx, 0) (default: 10000)
	Columns   []string // projection; empty reads every column
	InferRows int      // rows scanned to infer CSV/JSON types; 0 scans the whole input when it can be rewound
}

const (
	defaultBatchSize = 10000
	defaultInferRows = 10000
)

func (o ReaderOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return defaultBatchSize
	}
	return o.BatchSize
}

// RowCount returns the reader's row count when it is known up front.
func RowCount(r Reader) (int64, bool) {
	if rc, ok := r.(RowCounter); ok {
		return rc.RowCount()
	}
	return 0, false
}

// CanRewind reports whether r can be restarted.
func CanRewind(r Reader) bool {
	rw, ok := r.(Rewinder)
	return ok && rw.Rewindable()
}
