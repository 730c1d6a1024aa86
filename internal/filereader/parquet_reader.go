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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// ParquetReader reads parquet files using Apache Arrow.
//
// The row count comes from the file footer, row groups can be read on their
// own, and a column projection is pushed down so unselected columns are
// never decoded.
type ParquetReader struct {
	ctx       context.Context
	pf        *file.Reader
	fr        *pqarrow.FileReader
	stream    *recordStream
	full      *schema.Schema
	proj      projection
	leaves    []int // parquet leaf columns to decode; nil decodes all
	batchSize int
	closed    bool
	totalRows int64
}

var (
	_ Reader         = (*ParquetReader)(nil)
	_ RowCounter     = (*ParquetReader)(nil)
	_ Rewinder       = (*ParquetReader)(nil)
	_ RowGroupReader = (*ParquetReader)(nil)
)

// NewParquetReader creates a ParquetReader for the given parquet.ReaderAtSeeker.
// The context is used for all record reads, including after Rewind.
func NewParquetReader(ctx context.Context, reader parquet.ReaderAtSeeker, opts ReaderOptions) (*ParquetReader, error) {
	pf, err := file.NewParquetReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	batchSize := opts.batchSize()
	props := pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}
	fr, err := pqarrow.NewFileReader(pf, props, memory.DefaultAllocator)
	if err != nil {
		_ = pf.Close()
		return nil, fmt.Errorf("failed to create arrow file reader: %w", err)
	}

	arrowSchema, err := fr.Schema()
	if err != nil {
		_ = pf.Close()
		return nil, fmt.Errorf("failed to get arrow schema: %w", err)
	}
	full, err := schemaFromArrow(arrowSchema)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}
	proj, err := newProjection(full, opts.Columns)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}

	r := &ParquetReader{
		ctx:       ctx,
		pf:        pf,
		fr:        fr,
		full:      full,
		proj:      proj,
		batchSize: batchSize,
	}
	if len(opts.Columns) > 0 {
		for _, pos := range proj.positions {
			r.leaves = append(r.leaves, leafColumns(fr.Manifest.Fields[pos])...)
		}
	}

	if r.stream, err = r.openStream(ctx, nil); err != nil {
		_ = pf.Close()
		return nil, err
	}
	return r, nil
}

func leafColumns(f pqarrow.SchemaField) []int {
	if len(f.Children) == 0 {
		return []int{f.ColIndex}
	}
	var out []int
	for _, c := range f.Children {
		out = append(out, leafColumns(c)...)
	}
	return out
}

func (r *ParquetReader) openStream(ctx context.Context, rowGroups []int) (*recordStream, error) {
	rr, err := r.fr.GetRecordReader(ctx, r.leaves, rowGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}
	return &recordStream{rr: rr, out: r.proj.out}, nil
}

// Schema returns the file schema, projected to the requested columns.
func (r *ParquetReader) Schema() *schema.Schema {
	return r.proj.out
}

// Next returns the next batch of rows from the parquet file.
func (r *ParquetReader) Next(ctx context.Context, maxRows int) (*pipeline.Batch, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if maxRows <= 0 {
		maxRows = r.batchSize
	}
	batch, err := r.stream.next(ctx, maxRows)
	if err != nil {
		return nil, err
	}
	r.totalRows += int64(batch.Len())
	return batch, nil
}

// RowCount returns the row count recorded in the file footer.
func (r *ParquetReader) RowCount() (int64, bool) {
	return r.pf.NumRows(), true
}

func (r *ParquetReader) Rewindable() bool {
	return true
}

// Rewind restarts reading at the first row group.
func (r *ParquetReader) Rewind() error {
	if r.closed {
		return ErrReaderClosed
	}
	r.stream.release()
	stream, err := r.openStream(r.ctx, nil)
	if err != nil {
		return err
	}
	r.stream = stream
	return nil
}

func (r *ParquetReader) NumRowGroups() int {
	return r.pf.NumRowGroups()
}

func (r *ParquetReader) RowGroupNumRows(i int) int64 {
	return r.pf.MetaData().RowGroup(i).NumRows()
}

// OpenRowGroup returns a reader over row group i only.
func (r *ParquetReader) OpenRowGroup(ctx context.Context, i int) (Reader, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if i < 0 || i >= r.pf.NumRowGroups() {
		return nil, fmt.Errorf("row group %d out of range [0,%d)", i, r.pf.NumRowGroups())
	}
	stream, err := r.openStream(ctx, []int{i})
	if err != nil {
		return nil, err
	}
	return &parquetRowGroup{stream: stream, batchSize: r.batchSize, numRows: r.RowGroupNumRows(i)}, nil
}

// Close releases resources associated with the reader.
func (r *ParquetReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.stream != nil {
		r.stream.release()
		r.stream = nil
	}
	r.fr = nil
	if r.pf != nil {
		err := r.pf.Close()
		r.pf = nil
		return err
	}
	return nil
}

// TotalRowsReturned returns the total number of rows successfully returned.
func (r *ParquetReader) TotalRowsReturned() int64 {
	return r.totalRows
}

// parquetRowGroup reads a single row group of a ParquetReader.
type parquetRowGroup struct {
	stream    *recordStream
	batchSize int
	numRows   int64
	closed    bool
}

func (g *parquetRowGroup) Schema() *schema.Schema {
	return g.stream.out
}

func (g *parquetRowGroup) Next(ctx context.Context, maxRows int) (*pipeline.Batch, error) {
	if g.closed {
		return nil, ErrReaderClosed
	}
	if maxRows <= 0 {
		maxRows = g.batchSize
	}
	return g.stream.next(ctx, maxRows)
}

func (g *parquetRowGroup) RowCount() (int64, bool) {
	return g.numRows, true
}

func (g *parquetRowGroup) Close() error {
	if !g.closed {
		g.closed = true
		g.stream.release()
	}
	return nil
}

// recordStream slices arrow records into batches of at most maxRows.
type recordStream struct {
	rr        pqarrow.RecordReader
	out       *schema.Schema
	pending   arrow.Record
	offset    int
	columns   []int // record column of each output field
	exhausted bool
}

func (s *recordStream) next(ctx context.Context, maxRows int) (*pipeline.Batch, error) {
	batch := pipeline.NewBatch(s.out, maxRows)
	values := make([]any, s.out.Len())

	for batch.Len() < maxRows {
		if s.pending == nil {
			if s.exhausted {
				break
			}
			rec, err := s.rr.Read()
			if errors.Is(err, io.EOF) || (err == nil && rec == nil) {
				s.exhausted = true
				break
			}
			if err != nil {
				pipeline.ReturnBatch(batch)
				return nil, fmt.Errorf("arrow read error: %w", err)
			}
			if rec.NumRows() == 0 {
				continue
			}
			if s.columns == nil {
				if err := s.resolveColumns(rec.Schema()); err != nil {
					pipeline.ReturnBatch(batch)
					return nil, err
				}
			}
			rec.Retain()
			s.pending = rec
			s.offset = 0
			recordRows(ctx, FormatParquet, rec.NumRows(), 0)
		}

		end := min(s.offset+maxRows-batch.Len(), int(s.pending.NumRows()))
		for i := s.offset; i < end; i++ {
			for j, ci := range s.columns {
				col := s.pending.Column(ci)
				if col.IsNull(i) {
					values[j] = nil
					continue
				}
				values[j] = convertArrowValue(col, i)
			}
			batch.AppendRow(values...)
		}
		s.offset = end
		if s.offset >= int(s.pending.NumRows()) {
			s.pending.Release()
			s.pending = nil
		}
	}

	if batch.Len() == 0 {
		pipeline.ReturnBatch(batch)
		return nil, io.EOF
	}
	recordRows(ctx, FormatParquet, 0, int64(batch.Len()))
	return batch, nil
}

func (s *recordStream) resolveColumns(rs *arrow.Schema) error {
	s.columns = make([]int, s.out.Len())
	for i, f := range s.out.Fields() {
		idx := rs.FieldIndices(f.Name)
		if len(idx) == 0 {
			return fmt.Errorf("%w: %q missing from record batch", ErrUnknownColumn, f.Name)
		}
		s.columns[i] = idx[0]
	}
	return nil
}

func (s *recordStream) release() {
	if s.pending != nil {
		s.pending.Release()
		s.pending = nil
	}
	if s.rr != nil {
		s.rr.Release()
		s.rr = nil
	}
}

// schemaFromArrow maps an Arrow schema onto logical types. Nested columns
// are carried as JSON text.
func schemaFromArrow(as *arrow.Schema) (*schema.Schema, error) {
	fields := make([]schema.Field, as.NumFields())
	for i, f := range as.Fields() {
		fields[i] = schema.Field{
			Name:     f.Name,
			Type:     logicalTypeOf(f.Type),
			Nullable: f.Nullable,
		}
	}
	return schema.New(fields...)
}

func logicalTypeOf(dt arrow.DataType) schema.LogicalType {
	switch dt.ID() {
	case arrow.NULL:
		return schema.TypeNull
	case arrow.BOOL:
		return schema.TypeBoolean
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.DURATION:
		return schema.TypeInteger
	// uint64 can exceed int64, so it reads as floating.
	case arrow.UINT64, arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
		return schema.TypeFloating
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY, arrow.BINARY_VIEW:
		return schema.TypeBinary
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return schema.TypeTimestamp
	case arrow.DICTIONARY:
		return logicalTypeOf(dt.(*arrow.DictionaryType).ValueType)
	default:
		return schema.TypeString
	}
}

// convertArrowValue converts a non-null Arrow value at index i to its
// canonical Go value.
func convertArrowValue(col arrow.Array, i int) any {
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(i)
	case *array.Int8:
		return int64(c.Value(i))
	case *array.Int16:
		return int64(c.Value(i))
	case *array.Int32:
		return int64(c.Value(i))
	case *array.Int64:
		return c.Value(i)
	case *array.Uint8:
		return int64(c.Value(i))
	case *array.Uint16:
		return int64(c.Value(i))
	case *array.Uint32:
		return int64(c.Value(i))
	case *array.Uint64:
		return float64(c.Value(i))
	case *array.Duration:
		return int64(c.Value(i))
	case *array.Float16:
		return float64(c.Value(i).Float32())
	case *array.Float32:
		return float64(c.Value(i))
	case *array.Float64:
		return c.Value(i)
	case *array.Decimal128:
		return c.Value(i).ToFloat64(c.DataType().(*arrow.Decimal128Type).Scale)
	case *array.Decimal256:
		return c.Value(i).ToFloat64(c.DataType().(*arrow.Decimal256Type).Scale)
	case *array.String:
		// Copy the string to avoid holding reference to Arrow buffer memory
		return strings.Clone(c.Value(i))
	case *array.LargeString:
		return strings.Clone(c.Value(i))
	case *array.Binary:
		return cloneBytes(c.Value(i))
	case *array.LargeBinary:
		return cloneBytes(c.Value(i))
	case *array.FixedSizeBinary:
		return cloneBytes(c.Value(i))
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return c.Value(i).ToTime().UTC()
	case *array.Date64:
		return c.Value(i).ToTime().UTC()
	case *array.Dictionary:
		dict := c.Dictionary()
		idx := c.GetValueIndex(i)
		if dict.IsNull(idx) {
			return nil
		}
		return convertArrowValue(dict, idx)
	case *array.List, *array.LargeList, *array.Struct, *array.Map:
		b, err := json.Marshal(nestedArrowValue(col, i))
		if err != nil {
			return col.ValueStr(i)
		}
		return string(b)
	default:
		return col.ValueStr(i)
	}
}

func cloneBytes(b []byte) []byte {
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}

// nestedArrowValue converts list, struct and map values to plain Go values
// suitable for JSON encoding.
func nestedArrowValue(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch c := col.(type) {
	case *array.Map:
		start, end := c.ValueOffsets(i)
		keys, items := c.Keys(), c.Items()
		result := make(map[string]any, end-start)
		for j := int(start); j < int(end); j++ {
			key := fmt.Sprintf("%v", nestedArrowValue(keys, j))
			result[key] = nestedArrowValue(items, j)
		}
		return result
	case array.ListLike:
		start, end := c.ValueOffsets(i)
		values := c.ListValues()
		result := make([]any, 0, end-start)
		for j := int(start); j < int(end); j++ {
			result = append(result, nestedArrowValue(values, j))
		}
		return result
	case *array.Struct:
		fields := c.DataType().(*arrow.StructType).Fields()
		result := make(map[string]any, len(fields))
		for j, field := range fields {
			result[field.Name] = nestedArrowValue(c.Field(j), i)
		}
		return result
	default:
		return convertArrowValue(col, i)
	}
}
