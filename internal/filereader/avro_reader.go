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
	"errors"
	"fmt"
	"io"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// AvroReader reads batches from an Avro object container file.
//
// The row count of a container is only known after a full scan, so the
// reader never reports one. Seekable inputs can be rewound.
type AvroReader struct {
	source    io.Reader
	seeker    io.Seeker
	closer    io.Closer
	dec       *ocf.Decoder
	full      *schema.Schema
	unions    []bool // field is an Avro union
	proj      projection
	batchSize int
	closed    bool
	totalRows int64
}

var (
	_ Reader   = (*AvroReader)(nil)
	_ Rewinder = (*AvroReader)(nil)
)

// NewAvroReader creates an AvroReader for the given io.ReadCloser.
// The reader takes ownership of the closer and will close it when Close is called.
func NewAvroReader(reader io.ReadCloser, opts ReaderOptions) (*AvroReader, error) {
	dec, err := ocf.NewDecoder(reader)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to open avro container: %w", err)
	}

	raw, ok := dec.Metadata()["avro.schema"]
	if !ok {
		_ = reader.Close()
		return nil, errors.New("avro container has no schema")
	}
	as, err := avro.Parse(string(raw))
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to parse avro schema: %w", err)
	}
	full, unions, err := schemaFromAvro(as)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	proj, err := newProjection(full, opts.Columns)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	r := &AvroReader{
		source:    reader,
		closer:    reader,
		dec:       dec,
		full:      full,
		unions:    unions,
		proj:      proj,
		batchSize: opts.batchSize(),
	}
	if seeker, ok := reader.(io.Seeker); ok {
		r.seeker = seeker
	}
	return r, nil
}

// schemaFromAvro maps a top-level record schema onto logical types.
func schemaFromAvro(as avro.Schema) (*schema.Schema, []bool, error) {
	rec, ok := as.(*avro.RecordSchema)
	if !ok {
		return nil, nil, fmt.Errorf("avro container schema is %s, want record", as.Type())
	}
	fields := make([]schema.Field, len(rec.Fields()))
	unions := make([]bool, len(rec.Fields()))
	for i, f := range rec.Fields() {
		t, nullable := avroLogicalType(f.Type())
		_, unions[i] = f.Type().(*avro.UnionSchema)
		fields[i] = schema.Field{Name: f.Name(), Type: t, Nullable: nullable}
	}
	s, err := schema.New(fields...)
	if err != nil {
		return nil, nil, err
	}
	return s, unions, nil
}

func avroLogicalType(s avro.Schema) (schema.LogicalType, bool) {
	switch ts := s.(type) {
	case *avro.UnionSchema:
		nullable := false
		var members []avro.Schema
		for _, m := range ts.Types() {
			if m.Type() == avro.Null {
				nullable = true
				continue
			}
			members = append(members, m)
		}
		if len(members) == 0 {
			return schema.TypeNull, true
		}
		t, _ := avroLogicalType(members[0])
		for _, m := range members[1:] {
			mt, _ := avroLogicalType(m)
			t = schema.Promote(t, mt)
		}
		return t, nullable
	case *avro.PrimitiveSchema:
		if ls := ts.Logical(); ls != nil {
			switch ls.Type() {
			case avro.TimestampMillis, avro.TimestampMicros, avro.Date,
				avro.LocalTimestampMillis, avro.LocalTimestampMicros:
				return schema.TypeTimestamp, false
			case avro.Decimal:
				return schema.TypeFloating, false
			}
		}
		switch ts.Type() {
		case avro.Null:
			return schema.TypeNull, true
		case avro.Boolean:
			return schema.TypeBoolean, false
		case avro.Int, avro.Long:
			return schema.TypeInteger, false
		case avro.Float, avro.Double:
			return schema.TypeFloating, false
		case avro.Bytes:
			return schema.TypeBinary, false
		default:
			return schema.TypeString, false
		}
	case *avro.FixedSchema:
		return schema.TypeBinary, false
	default:
		// enums, arrays, maps and nested records
		return schema.TypeString, false
	}
}

// Schema returns the container schema, projected to the requested columns.
func (r *AvroReader) Schema() *schema.Schema {
	return r.proj.out
}

func (r *AvroReader) Next(ctx context.Context, maxRows int) (*pipeline.Batch, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if maxRows <= 0 {
		maxRows = r.batchSize
	}

	batch := pipeline.NewBatch(r.proj.out, maxRows)
	values := make([]any, len(r.proj.positions))

	for batch.Len() < maxRows && r.dec.HasNext() {
		var record map[string]any
		if err := r.dec.Decode(&record); err != nil {
			pipeline.ReturnBatch(batch)
			return nil, fmt.Errorf("avro decode error at record %d: %w", r.totalRows+int64(batch.Len()), err)
		}
		for i, pos := range r.proj.positions {
			f := r.full.Field(pos)
			v := record[f.Name]
			if r.unions[pos] {
				v = unwrapUnion(v)
			}
			values[i] = normalizeValue(ctx, FormatAvro, v, f.Type)
		}
		batch.AppendRow(values...)
	}
	if err := r.dec.Error(); err != nil {
		pipeline.ReturnBatch(batch)
		return nil, fmt.Errorf("avro read error: %w", err)
	}

	if batch.Len() == 0 {
		pipeline.ReturnBatch(batch)
		return nil, io.EOF
	}

	n := int64(batch.Len())
	r.totalRows += n
	recordRows(ctx, FormatAvro, n, n)
	return batch, nil
}

// unwrapUnion strips the single-key {"type": value} wrapper used for
// union values decoded into an interface.
func unwrapUnion(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	for _, inner := range m {
		return inner
	}
	return v
}

// Rewindable reports whether the underlying stream can seek.
func (r *AvroReader) Rewindable() bool {
	return r.seeker != nil
}

// Rewind restarts decoding at the first record.
func (r *AvroReader) Rewind() error {
	if r.closed {
		return ErrReaderClosed
	}
	if r.seeker == nil {
		return ErrNotRewindable
	}
	if _, err := r.seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec, err := ocf.NewDecoder(r.source)
	if err != nil {
		return fmt.Errorf("failed to reopen avro container: %w", err)
	}
	r.dec = dec
	return nil
}

// Close closes the reader and the underlying io.ReadCloser.
func (r *AvroReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	r.dec = nil
	return err
}

// TotalRowsReturned returns the total number of rows that have been successfully returned via Next().
func (r *AvroReader) TotalRowsReturned() int64 {
	return r.totalRows
}
