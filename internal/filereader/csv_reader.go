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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// CSVReader reads batches from a CSV stream with a header row.
//
// Column types are inferred from the first InferRows records. On seekable
// input the inference window is scanned and the stream rewound; otherwise the
// window is held in memory and replayed.
type CSVReader struct {
	reader    *csv.Reader
	source    io.Reader
	seeker    io.Seeker
	closer    io.Closer
	headers   []string
	full      *schema.Schema
	proj      projection
	buffered  [][]string
	batchSize int
	rowIndex  int
	closed    bool
	totalRows int64
}

var (
	_ Reader   = (*CSVReader)(nil)
	_ Rewinder = (*CSVReader)(nil)
)

func newCSVParser(r io.Reader) *csv.Reader {
	p := csv.NewReader(r)
	p.LazyQuotes = true
	p.TrimLeadingSpace = true
	p.FieldsPerRecord = -1 // Allow variable number of fields
	p.ReuseRecord = false
	return p
}

// NewCSVReader creates a CSVReader for the given io.ReadCloser.
// The reader takes ownership of the closer and will close it when Close is called.
func NewCSVReader(reader io.ReadCloser, opts ReaderOptions) (*CSVReader, error) {
	r := &CSVReader{
		source:    reader,
		closer:    reader,
		batchSize: opts.batchSize(),
	}
	if seeker, ok := reader.(io.Seeker); ok {
		r.seeker = seeker
	}

	parser := newCSVParser(reader)
	headers, err := readCSVHeader(parser)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	r.headers = headers

	full, buffered, err := inferCSVSchema(parser, headers, opts.InferRows, r.seeker == nil)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to infer CSV schema: %w", err)
	}
	r.full = full
	r.buffered = buffered

	if r.seeker != nil {
		if err := r.restart(); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("failed to reset reader after schema inference: %w", err)
		}
	} else {
		r.reader = parser
	}

	r.proj, err = newProjection(full, opts.Columns)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return r, nil
}

func readCSVHeader(parser *csv.Reader) ([]string, error) {
	headers, err := parser.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}
	if len(headers) == 0 || (len(headers) == 1 && headers[0] == "") {
		return nil, errors.New("CSV file has no headers")
	}
	headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	return headers, nil
}

// inferCSVSchema scans up to window records. When keep is set the scanned
// records are returned so they can be replayed.
func inferCSVSchema(parser *csv.Reader, headers []string, window int, keep bool) (*schema.Schema, [][]string, error) {
	if keep && window <= 0 {
		window = defaultInferRows
	}
	builder := newSchemaBuilder()
	for _, h := range headers {
		builder.declare(h)
	}

	var buffered [][]string
	for scanned := 0; window <= 0 || scanned < window; scanned++ {
		record, err := parser.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) && !keep {
			// Don't fail on malformed rows during schema inference
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if keep {
			buffered = append(buffered, record)
		}
		if len(record) != len(headers) {
			continue
		}
		for i, value := range record {
			builder.observe(headers[i], schema.InferText(value))
		}
		builder.endRow()
	}

	s, err := builder.build()
	if err != nil {
		return nil, nil, err
	}
	recordInference(context.Background(), FormatCSV, builder.rows)
	return s, buffered, nil
}

func (r *CSVReader) restart() error {
	if _, err := r.seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.reader = newCSVParser(r.source)
	if _, err := r.reader.Read(); err != nil {
		return fmt.Errorf("failed to re-read headers after reset: %w", err)
	}
	r.rowIndex = 0
	return nil
}

// Schema returns the inferred (and projected) schema.
func (r *CSVReader) Schema() *schema.Schema {
	return r.proj.out
}

func (r *CSVReader) nextRecord() ([]string, error) {
	if len(r.buffered) > 0 {
		record := r.buffered[0]
		r.buffered[0] = nil
		r.buffered = r.buffered[1:]
		return record, nil
	}
	return r.reader.Read()
}

func (r *CSVReader) Next(ctx context.Context, maxRows int) (*pipeline.Batch, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if maxRows <= 0 {
		maxRows = r.batchSize
	}

	batch := pipeline.NewBatch(r.proj.out, maxRows)
	values := make([]any, len(r.proj.positions))
	read := 0

	for batch.Len() < maxRows {
		record, err := r.nextRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			pipeline.ReturnBatch(batch)
			return nil, fmt.Errorf("CSV read error at line %d: %w", r.rowIndex+2, err)
		}
		r.rowIndex++
		read++

		// Skip rows with wrong number of columns
		if len(record) != len(r.headers) {
			recordSkippedRow(ctx, FormatCSV, skipWrongWidth)
			continue
		}

		for i, pos := range r.proj.positions {
			values[i] = r.parseCell(ctx, record[pos], r.full.Field(pos).Type)
		}
		batch.AppendRow(values...)
	}

	recordRows(ctx, FormatCSV, int64(read), 0)

	if batch.Len() == 0 {
		pipeline.ReturnBatch(batch)
		return nil, io.EOF
	}

	r.totalRows += int64(batch.Len())
	recordRows(ctx, FormatCSV, 0, int64(batch.Len()))
	return batch, nil
}

// parseCell parses a cell under its column type, passing the raw text
// through when it does not parse.
func (r *CSVReader) parseCell(ctx context.Context, cell string, t schema.LogicalType) any {
	v, err := schema.ParseText(cell, t)
	if err != nil {
		recordTextPassthrough(ctx, FormatCSV, t)
		return cell
	}
	return v
}

// Rewindable reports whether the underlying stream can seek.
func (r *CSVReader) Rewindable() bool {
	return r.seeker != nil
}

// Rewind restarts reading at the first data row.
func (r *CSVReader) Rewind() error {
	if r.closed {
		return ErrReaderClosed
	}
	if r.seeker == nil {
		return ErrNotRewindable
	}
	r.buffered = nil
	return r.restart()
}

// Close closes the reader and the underlying io.ReadCloser.
func (r *CSVReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	r.reader = nil
	r.buffered = nil
	return err
}

// TotalRowsReturned returns the total number of rows that have been successfully returned via Next().
func (r *CSVReader) TotalRowsReturned() int64 {
	return r.totalRows
}
