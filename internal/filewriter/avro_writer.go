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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// AvroWriter writes an Avro object container file with deflate-compressed
// blocks. Column names that are not valid Avro names are rewritten, and
// every column becomes a ["null", T] union.
type AvroWriter struct {
	base
	out       io.WriteCloser
	enc       *ocf.Encoder
	names     []string
	typeNames []string // union branch name per field
}

var _ Writer = (*AvroWriter)(nil)

// NewAvroWriter takes ownership of out; closing the writer closes it.
func NewAvroWriter(out io.WriteCloser, s *schema.Schema, opts WriterOptions) (*AvroWriter, error) {
	schemaJSON, names, typeNames, err := avroSchemaFor(s)
	if err != nil {
		return nil, err
	}
	enc, err := ocf.NewEncoder(schemaJSON, out,
		ocf.WithCodec(ocf.Deflate),
		ocf.WithBlockLength(opts.rowGroupSize()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro encoder: %w", err)
	}
	return &AvroWriter{
		base:      base{schema: s, format: filereader.FormatAvro},
		out:       out,
		enc:       enc,
		names:     names,
		typeNames: typeNames,
	}, nil
}

// AvroName rewrites a column name into the [A-Za-z_][A-Za-z0-9_]* form
// Avro requires.
func AvroName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func avroSchemaFor(s *schema.Schema) (string, []string, []string, error) {
	type avroField struct {
		Name string `json:"name"`
		Type any    `json:"type"`
	}

	seen := make(map[string]bool, s.Len())
	names := make([]string, s.Len())
	typeNames := make([]string, s.Len())
	fields := make([]avroField, s.Len())
	for i, f := range s.Fields() {
		name := AvroName(f.Name)
		for n := 2; seen[name]; n++ {
			name = AvroName(f.Name) + "_" + strconv.Itoa(n)
		}
		seen[name] = true
		names[i] = name

		var t any
		var typeName string
		switch f.Type {
		case schema.TypeNull:
			// all-null columns are written as nullable strings
			t, typeName = "string", "string"
		case schema.TypeBoolean:
			t, typeName = "boolean", "boolean"
		case schema.TypeInteger:
			t, typeName = "long", "long"
		case schema.TypeFloating:
			t, typeName = "double", "double"
		case schema.TypeTimestamp:
			t = map[string]string{"type": "long", "logicalType": "timestamp-micros"}
			typeName = "long.timestamp-micros"
		case schema.TypeBinary:
			t, typeName = "bytes", "bytes"
		default:
			t, typeName = "string", "string"
		}
		// optional for the same reason as Parquet columns
		t = []any{"null", t}
		fields[i] = avroField{Name: name, Type: t}
		typeNames[i] = typeName
	}

	doc, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      "row",
		"namespace": "datamorph",
		"fields":    fields,
	})
	if err != nil {
		return "", nil, nil, err
	}
	if _, err := avro.Parse(string(doc)); err != nil {
		return "", nil, nil, fmt.Errorf("invalid avro schema: %w", err)
	}
	return string(doc), names, typeNames, nil
}

func (w *AvroWriter) Write(ctx context.Context, batch *pipeline.Batch) error {
	if err := w.checkBatch(batch); err != nil {
		return err
	}
	if batch == nil {
		return nil
	}

	for row := 0; row < batch.Len(); row++ {
		record := make(map[string]any, len(w.names))
		for col, name := range w.names {
			// unions are encoded through the single-key map form
			if v := batch.Value(row, col); v != nil {
				record[name] = map[string]any{w.typeNames[col]: v}
			} else {
				record[name] = map[string]any(nil)
			}
		}
		if err := w.enc.Encode(record); err != nil {
			return fmt.Errorf("avro encode error at row %d: %w", w.rows+int64(row), err)
		}
	}
	w.wrote(ctx, batch.Len())
	return nil
}

// Close flushes the final block and closes the output.
func (w *AvroWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	if err := w.out.Close(); err != nil && encErr == nil {
		return err
	}
	if encErr != nil {
		return fmt.Errorf("failed to close avro encoder: %w", encErr)
	}
	return nil
}
