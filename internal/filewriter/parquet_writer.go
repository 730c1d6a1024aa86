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

package filewriter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// ParquetWriter streams batches into a zstd-compressed Parquet file using
// Apache Arrow. Rows are buffered in column builders and flushed as one
// record batch, and so one row group, every RowGroupSize rows.
type ParquetWriter struct {
	base
	arrowSchema        *arrow.Schema
	builders           []array.Builder
	fw                 *pqarrow.FileWriter
	allocator          memory.Allocator
	rowGroupSize       int
	rowsSinceLastFlush int
}

var _ Writer = (*ParquetWriter)(nil)

// NewParquetWriter takes ownership of out; closing the writer closes it.
func NewParquetWriter(out io.WriteCloser, s *schema.Schema, opts WriterOptions) (*ParquetWriter, error) {
	fields := make([]arrow.Field, s.Len())
	for i, f := range s.Fields() {
		// Every column is optional: text sources infer nullability from a
		// window and later rows may still hold nulls.
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true}
	}
	as := arrow.NewSchema(fields, nil)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(true),
		parquet.WithMaxRowGroupLength(int64(opts.rowGroupSize())),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)
	fw, err := pqarrow.NewFileWriter(as, out, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	w := &ParquetWriter{
		base:         base{schema: s, format: filereader.FormatParquet},
		arrowSchema:  as,
		fw:           fw,
		allocator:    memory.DefaultAllocator,
		rowGroupSize: opts.rowGroupSize(),
	}
	w.newBuilders()
	return w, nil
}

func arrowType(t schema.LogicalType) arrow.DataType {
	switch t {
	case schema.TypeNull:
		return arrow.Null
	case schema.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case schema.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case schema.TypeFloating:
		return arrow.PrimitiveTypes.Float64
	case schema.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case schema.TypeBinary:
		return arrow.BinaryTypes.Binary
	default:
		return arrow.BinaryTypes.String
	}
}

func (w *ParquetWriter) newBuilders() {
	w.builders = make([]array.Builder, len(w.arrowSchema.Fields()))
	for i, f := range w.arrowSchema.Fields() {
		w.builders[i] = array.NewBuilder(w.allocator, f.Type)
	}
}

func (w *ParquetWriter) Write(ctx context.Context, batch *pipeline.Batch) error {
	if err := w.checkBatch(batch); err != nil {
		return err
	}
	if batch == nil {
		return nil
	}
	for start := 0; start < batch.Len(); {
		end := min(batch.Len(), start+w.rowGroupSize-w.rowsSinceLastFlush)
		for col, b := range w.builders {
			values := batch.Column(col)
			for i := start; i < end; i++ {
				if err := appendValue(b, values[i]); err != nil {
					return fmt.Errorf("column %q row %d: %w", w.schema.Field(col).Name, w.rows+int64(i), err)
				}
			}
		}
		w.rowsSinceLastFlush += end - start
		start = end
		if w.rowsSinceLastFlush >= w.rowGroupSize {
			if err := w.flushRecordBatch(); err != nil {
				return err
			}
		}
	}
	w.wrote(ctx, batch.Len())
	return nil
}

// flushRecordBatch writes buffered rows as one record batch and starts
// fresh builders.
func (w *ParquetWriter) flushRecordBatch() error {
	if w.rowsSinceLastFlush == 0 {
		return nil
	}
	arrays := make([]arrow.Array, len(w.builders))
	for i, b := range w.builders {
		arrays[i] = b.NewArray()
	}
	rec := array.NewRecordBatch(w.arrowSchema, arrays, int64(w.rowsSinceLastFlush))
	for _, a := range arrays {
		a.Release()
	}
	defer rec.Release()

	if err := w.fw.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	w.rowsSinceLastFlush = 0
	return nil
}

// appendValue appends a canonical Go value to the matching Arrow builder.
func appendValue(b array.Builder, value any) error {
	if value == nil {
		b.AppendNull()
		return nil
	}

	switch builder := b.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("type mismatch: expected bool, got %T", value)
		}
		builder.Append(v)
	case *array.Int64Builder:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("type mismatch: expected int64, got %T", value)
		}
		builder.Append(v)
	case *array.Float64Builder:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("type mismatch: expected float64, got %T", value)
		}
		builder.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("type mismatch: expected string, got %T", value)
		}
		builder.Append(v)
	case *array.BinaryBuilder:
		v, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("type mismatch: expected []byte, got %T", value)
		}
		builder.Append(v)
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("type mismatch: expected time.Time, got %T", value)
		}
		builder.Append(arrow.Timestamp(v.UnixMicro()))
	case *array.NullBuilder:
		return fmt.Errorf("type mismatch: null column got %T", value)
	default:
		return fmt.Errorf("unsupported builder type: %T", builder)
	}
	return nil
}

// Close flushes the remaining rows and closes the file. The parquet writer
// also closes the underlying output.
func (w *ParquetWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.flushRecordBatch()
	for _, b := range w.builders {
		b.Release()
	}
	w.builders = nil
	if err := w.fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return flushErr
}
