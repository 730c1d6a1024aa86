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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// JSONLinesWriter writes one JSON object per row with keys in schema order.
// Timestamps are RFC 3339 strings, binary values base64 and non-finite
// floats null.
type JSONLinesWriter struct {
	base
	w      *bufio.Writer
	closer io.Closer
	keys   [][]byte
}

var _ Writer = (*JSONLinesWriter)(nil)

// NewJSONLinesWriter takes ownership of out.
func NewJSONLinesWriter(out io.WriteCloser, s *schema.Schema) (*JSONLinesWriter, error) {
	keys := make([][]byte, s.Len())
	for i, name := range s.Names() {
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return &JSONLinesWriter{
		base:   base{schema: s, format: filereader.FormatJSONLines},
		w:      bufio.NewWriterSize(out, 256*1024),
		closer: out,
		keys:   keys,
	}, nil
}

func (j *JSONLinesWriter) Write(ctx context.Context, batch *pipeline.Batch) error {
	if err := j.checkBatch(batch); err != nil {
		return err
	}
	if batch == nil {
		return nil
	}
	for i := range batch.Len() {
		_ = j.w.WriteByte('{')
		for col, key := range j.keys {
			if col > 0 {
				_ = j.w.WriteByte(',')
			}
			_, _ = j.w.Write(key)
			_ = j.w.WriteByte(':')
			b, err := json.Marshal(jsonValue(batch.Value(i, col)))
			if err != nil {
				return fmt.Errorf("failed to encode column %q: %w", j.schema.Field(col).Name, err)
			}
			_, _ = j.w.Write(b)
		}
		if _, err := j.w.WriteString("}\n"); err != nil {
			return fmt.Errorf("failed to write JSON line: %w", err)
		}
	}
	j.wrote(ctx, batch.Len())
	return nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (j *JSONLinesWriter) Close() error {
	if j.closed {
		return nil
	}
	j.closed = true

	var result *multierror.Error
	if err := j.w.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := j.closer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
