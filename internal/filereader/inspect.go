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
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// FileInfo describes a data file without reading its rows.
type FileInfo struct {
	Path       string         `json:"path" yaml:"path"`
	Format     Format         `json:"format" yaml:"format"`
	Compressed bool           `json:"compressed" yaml:"compressed"`
	SizeBytes  int64          `json:"size_bytes" yaml:"size_bytes"`
	Rows       int64          `json:"rows" yaml:"rows"`
	RowsKnown  bool           `json:"rows_known" yaml:"rows_known"`
	CreatedBy  string         `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Fields     []schema.Field `json:"fields" yaml:"fields"`
	RowGroups  []RowGroupInfo `json:"row_groups,omitempty" yaml:"row_groups,omitempty"`
	Columns    []ColumnInfo   `json:"columns,omitempty" yaml:"columns,omitempty"`
}

type RowGroupInfo struct {
	Index         int   `json:"index" yaml:"index"`
	Rows          int64 `json:"rows" yaml:"rows"`
	TotalByteSize int64 `json:"total_byte_size" yaml:"total_byte_size"`
}

// ColumnInfo aggregates a parquet column chunk's metadata over all row groups.
type ColumnInfo struct {
	Path             string `json:"path" yaml:"path"`
	Codec            string `json:"codec" yaml:"codec"`
	CompressedSize   int64  `json:"compressed_size" yaml:"compressed_size"`
	UncompressedSize int64  `json:"uncompressed_size" yaml:"uncompressed_size"`
}

// Inspect returns file metadata. Parquet footers are read with parquet-go;
// the other formats only report a row count when countRows is set, at the
// cost of a full scan.
func Inspect(ctx context.Context, filename string, opts ReaderOptions, countRows bool) (*FileInfo, error) {
	st, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}

	format := opts.Format
	compressed := strings.HasSuffix(strings.ToLower(filename), ".gz")
	if format == FormatUnknown {
		if format, compressed, err = FormatFromPath(filename); err != nil {
			return nil, err
		}
	}
	opts.Format = format
	opts.Columns = nil

	info := &FileInfo{
		Path:       filename,
		Format:     format,
		Compressed: compressed,
		SizeBytes:  st.Size(),
	}

	r, err := Open(ctx, filename, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	info.Fields = r.Schema().Fields()

	if format == FormatParquet {
		if err := inspectParquet(filename, info); err != nil {
			return nil, err
		}
		return info, nil
	}

	if n, ok := RowCount(r); ok {
		info.Rows, info.RowsKnown = n, true
	} else if countRows {
		n, err := CountRows(ctx, r)
		if err != nil {
			return nil, err
		}
		info.Rows, info.RowsKnown = n, true
	}
	return info, nil
}

func inspectParquet(filename string, info *FileInfo) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	pf, err := parquet.OpenFile(f, info.SizeBytes)
	if err != nil {
		return fmt.Errorf("failed to read parquet footer: %w", err)
	}

	md := pf.Metadata()
	info.Rows, info.RowsKnown = pf.NumRows(), true
	info.CreatedBy = md.CreatedBy

	byPath := make(map[string]int)
	for i, rg := range md.RowGroups {
		info.RowGroups = append(info.RowGroups, RowGroupInfo{
			Index:         i,
			Rows:          rg.NumRows,
			TotalByteSize: rg.TotalByteSize,
		})
		for _, cc := range rg.Columns {
			path := strings.Join(cc.MetaData.PathInSchema, ".")
			idx, ok := byPath[path]
			if !ok {
				idx = len(info.Columns)
				byPath[path] = idx
				info.Columns = append(info.Columns, ColumnInfo{
					Path:  path,
					Codec: cc.MetaData.Codec.String(),
				})
			}
			info.Columns[idx].CompressedSize += cc.MetaData.TotalCompressedSize
			info.Columns[idx].UncompressedSize += cc.MetaData.TotalUncompressedSize
		}
	}
	return nil
}

// CountRows drains r and returns the number of rows it produced.
func CountRows(ctx context.Context, r Reader) (int64, error) {
	var n int64
	for {
		batch, err := r.Next(ctx, 0)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n += int64(batch.Len())
		pipeline.ReturnBatch(batch)
	}
}
