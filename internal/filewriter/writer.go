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

// Package filewriter writes batches that share one fixed schema to CSV,
// JSON lines, Parquet or Avro files.
package filewriter

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// Writer is a sink for batches. The schema is fixed when the writer is
// created; every batch must match it exactly.
type Writer interface {
	Schema() *schema.Schema
	Write(ctx context.Context, batch *pipeline.Batch) error
	// Close flushes buffered rows and closes the output.
	Close() error
	RowsWritten() int64
}

// ErrSchemaMismatch is returned when a batch does not match the writer schema.
var ErrSchemaMismatch = errors.New("batch schema does not match writer schema")

// WriterOptions configures writer construction.
type WriterOptions struct {
	// RowGroupSize is the number of rows buffered per Parquet row group or
	// Avro block (default: 100000).
	RowGroupSize int
}

const defaultRowGroupSize = 100000

func (o WriterOptions) rowGroupSize() int {
	if o.RowGroupSize <= 0 {
		return defaultRowGroupSize
	}
	return o.RowGroupSize
}

var rowsWrittenCounter otelmetric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/datamorph/internal/filewriter")

	var err error
	rowsWrittenCounter, err = meter.Int64Counter(
		"datamorph.writer.rows.written",
		otelmetric.WithDescription("Number of rows written by file writers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.written counter: %w", err))
	}
}

// base holds what every format writer shares.
type base struct {
	schema *schema.Schema
	format filereader.Format
	rows   int64
	closed bool
}

func (b *base) Schema() *schema.Schema {
	return b.schema
}

func (b *base) RowsWritten() int64 {
	return b.rows
}

func (b *base) checkBatch(batch *pipeline.Batch) error {
	if b.closed {
		return errors.New("write to closed writer")
	}
	if batch == nil {
		return nil
	}
	if !batch.Schema().Equal(b.schema) {
		return fmt.Errorf("%w: got %v, want %v", ErrSchemaMismatch, batch.Schema().Names(), b.schema.Names())
	}
	return nil
}

func (b *base) wrote(ctx context.Context, n int) {
	b.rows += int64(n)
	rowsWrittenCounter.Add(ctx, int64(n), otelmetric.WithAttributes(
		attribute.String("format", b.format.String()),
	))
}

// Create opens path for writing in the given format. FormatUnknown detects
// the format from the extension; a .gz suffix gzips CSV and JSON lines
// output.
func Create(path string, format filereader.Format, s *schema.Schema, opts WriterOptions) (Writer, error) {
	compressed := strings.HasSuffix(strings.ToLower(path), ".gz")
	if format == filereader.FormatUnknown {
		var err error
		if format, compressed, err = filereader.FormatFromPath(path); err != nil {
			return nil, err
		}
	}
	if compressed && format != filereader.FormatCSV && format != filereader.FormatJSONLines {
		return nil, fmt.Errorf("%w: gzip output is only supported for csv and json", filereader.ErrUnsupportedFormat)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	var out io.WriteCloser = f
	if compressed {
		out = &gzipFile{Writer: gzip.NewWriter(f), file: f}
	}

	var w Writer
	switch format {
	case filereader.FormatCSV:
		w, err = NewCSVWriter(out, s)
	case filereader.FormatJSONLines:
		w, err = NewJSONLinesWriter(out, s)
	case filereader.FormatParquet:
		w, err = NewParquetWriter(out, s, opts)
	case filereader.FormatAvro:
		w, err = NewAvroWriter(out, s, opts)
	default:
		err = fmt.Errorf("%w: %s", filereader.ErrUnsupportedFormat, format)
	}
	if err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return w, nil
}

type gzipFile struct {
	*gzip.Writer
	file *os.File
}

func (g *gzipFile) Close() error {
	var result *multierror.Error
	if err := g.Writer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := g.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
