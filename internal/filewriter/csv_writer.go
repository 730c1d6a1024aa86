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
	"encoding/csv"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// CSVWriter writes a header row followed by one record per row. Nulls are
// written as empty cells.
type CSVWriter struct {
	base
	w      *csv.Writer
	closer io.Closer
	record []string
}

var _ Writer = (*CSVWriter)(nil)

// NewCSVWriter writes the header immediately. The writer takes ownership of out.
func NewCSVWriter(out io.WriteCloser, s *schema.Schema) (*CSVWriter, error) {
	w := csv.NewWriter(out)
	if err := w.Write(s.Names()); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return &CSVWriter{
		base:   base{schema: s, format: filereader.FormatCSV},
		w:      w,
		closer: out,
		record: make([]string, s.Len()),
	}, nil
}

func (c *CSVWriter) Write(ctx context.Context, batch *pipeline.Batch) error {
	if err := c.checkBatch(batch); err != nil {
		return err
	}
	if batch == nil {
		return nil
	}
	for i := range batch.Len() {
		for col := range c.record {
			c.record[col] = schema.FormatValue(batch.Value(i, col))
		}
		if err := c.w.Write(c.record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	c.wrote(ctx, batch.Len())
	return nil
}

func (c *CSVWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var result *multierror.Error
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to flush CSV output: %w", err))
	}
	if err := c.closer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
