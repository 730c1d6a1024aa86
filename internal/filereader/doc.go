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

// Package filereader turns files of several encodings into a stream of
// columnar batches that share one schema.
//
// # Core Interfaces
//
// Every format reader implements Reader:
//
//	type Reader interface {
//	    Schema() *schema.Schema
//	    Next(ctx context.Context, maxRows int) (*pipeline.Batch, error) // io.EOF when exhausted
//	    Close() error
//	}
//
// Readers may additionally implement RowCounter when the row count is known
// without a scan, Rewinder when the stream can be restarted, and
// RowGroupReader when the file is made of independently readable row groups.
//
// # Format Readers
//
//   - CSVReader: header row required, column types inferred from a leading window
//   - JSONLinesReader: one object per line, keys unioned over the inference window
//   - ParquetReader: Apache Arrow backed, exact row count, row group access, projection
//   - AvroReader: Avro object container files
//
// Open picks a reader from the file extension or an explicit Format:
//
//	reader, err := filereader.Open("events.csv.gz", filereader.ReaderOptions{BatchSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer reader.Close()
//
//	for {
//	    batch, err := reader.Next(ctx, 0)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    process(batch)
//	    pipeline.ReturnBatch(batch)
//	}
//
// # Memory Management
//
// Batches come from the pipeline pool. A batch is only valid until the next
// call to Next; callers return it with pipeline.ReturnBatch or copy the rows
// they need to keep.
package filereader
