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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

const maxLineSizeBytes = 16 * 1024 * 1024

// JSONLinesReader reads batches from a stream of JSON objects, one per line.
//
// The schema is the union of keys, in first-seen order, over the first
// InferRows objects. Keys first seen after the inference window are dropped.
type JSONLinesReader struct {
	scanner   *bufio.Scanner
	source    io.Reader
	seeker    io.Seeker
	closer    io.Closer
	full      *schema.Schema
	proj      projection
	buffered  []map[string]any
	batchSize int
	rowIndex  int
	closed    bool
	totalRows int64
}

var (
	_ Reader   = (*JSONLinesReader)(nil)
	_ Rewinder = (*JSONLinesReader)(nil)
)

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSizeBytes)
	return scanner
}

// NewJSONLinesReader creates a JSONLinesReader for the given io.ReadCloser.
// The reader takes ownership of the closer and will close it when Close is called.
func NewJSONLinesReader(reader io.ReadCloser, opts ReaderOptions) (*JSONLinesReader, error) {
	r := &JSONLinesReader{
		source:    reader,
		closer:    reader,
		batchSize: opts.batchSize(),
	}
	if seeker, ok := reader.(io.Seeker); ok {
		r.seeker = seeker
	}

	keep := r.seeker == nil
	window := opts.InferRows
	if keep && window <= 0 {
		window = defaultInferRows
	}

	r.scanner = newLineScanner(reader)
	builder := newSchemaBuilder()
	for scanned := 0; window <= 0 || scanned < window; {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				_ = reader.Close()
				return nil, fmt.Errorf("scanner error reading at line %d: %w", r.rowIndex+1, err)
			}
			break
		}
		r.rowIndex++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		keys, values, err := decodeJSONObject(line)
		if err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("JSON parse error at line %d: %w", r.rowIndex, err)
		}
		for _, k := range keys {
			builder.observe(k, inferJSONValue(values[k]))
		}
		builder.endRow()
		if keep {
			r.buffered = append(r.buffered, values)
		}
		scanned++
	}

	full, err := builder.build()
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to infer JSON schema: %w", err)
	}
	recordInference(context.Background(), FormatJSONLines, builder.rows)
	r.full = full

	if !keep {
		if err := r.restart(); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("failed to reset reader after schema inference: %w", err)
		}
	}

	r.proj, err = newProjection(full, opts.Columns)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return r, nil
}

// decodeJSONObject decodes one object, returning its keys in document order.
// Numbers are kept as json.Number so integers survive.
func decodeJSONObject(line []byte) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("line is not a JSON object")
	}

	var keys []string
	values := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

func (r *JSONLinesReader) restart() error {
	if _, err := r.seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.scanner = newLineScanner(r.source)
	r.rowIndex = 0
	return nil
}

// Schema returns the inferred (and projected) schema.
func (r *JSONLinesReader) Schema() *schema.Schema {
	return r.proj.out
}

func (r *JSONLinesReader) nextObject() (map[string]any, error) {
	if len(r.buffered) > 0 {
		obj := r.buffered[0]
		r.buffered[0] = nil
		r.buffered = r.buffered[1:]
		return obj, nil
	}
	for r.scanner.Scan() {
		r.rowIndex++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		_, values, err := decodeJSONObject(line)
		if err != nil {
			return nil, fmt.Errorf("JSON parse error at line %d: %w", r.rowIndex, err)
		}
		return values, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error reading at line %d: %w", r.rowIndex+1, err)
	}
	return nil, io.EOF
}

func (r *JSONLinesReader) Next(ctx context.Context, maxRows int) (*pipeline.Batch, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if maxRows <= 0 {
		maxRows = r.batchSize
	}

	batch := pipeline.NewBatch(r.proj.out, maxRows)
	values := make([]any, len(r.proj.positions))

	for batch.Len() < maxRows {
		obj, err := r.nextObject()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			pipeline.ReturnBatch(batch)
			return nil, err
		}

		if extra := r.unknownKeys(obj); extra > 0 {
			recordUnknownKeys(ctx, FormatJSONLines, extra)
		}
		for i, pos := range r.proj.positions {
			f := r.full.Field(pos)
			values[i] = normalizeValue(ctx, FormatJSONLines, obj[f.Name], f.Type)
		}
		batch.AppendRow(values...)
	}

	if batch.Len() == 0 {
		pipeline.ReturnBatch(batch)
		return nil, io.EOF
	}

	n := int64(batch.Len())
	r.totalRows += n
	recordRows(ctx, FormatJSONLines, n, n)
	return batch, nil
}

func (r *JSONLinesReader) unknownKeys(obj map[string]any) int {
	extra := 0
	for k := range obj {
		if _, ok := r.full.Index(k); !ok {
			extra++
		}
	}
	return extra
}

// Rewindable reports whether the underlying stream can seek.
func (r *JSONLinesReader) Rewindable() bool {
	return r.seeker != nil
}

// Rewind restarts reading at the first line.
func (r *JSONLinesReader) Rewind() error {
	if r.closed {
		return ErrReaderClosed
	}
	if r.seeker == nil {
		return ErrNotRewindable
	}
	r.buffered = nil
	return r.restart()
}

// inferJSONValue treats RFC 3339 strings as timestamps; JSON has no
// timestamp type of its own.
func inferJSONValue(v any) schema.LogicalType {
	if s, ok := v.(string); ok && schema.InferText(s) == schema.TypeTimestamp {
		return schema.TypeTimestamp
	}
	return schema.InferValue(v)
}

// Close closes the reader and the underlying io.ReadCloser.
func (r *JSONLinesReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	r.scanner = nil
	r.buffered = nil
	return err
}

// TotalRowsReturned returns the total number of rows that have been successfully returned via Next().
func (r *JSONLinesReader) TotalRowsReturned() int64 {
	return r.totalRows
}
