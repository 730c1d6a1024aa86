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
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// gzipFile decompresses a file and supports rewinding to the start, which
// is all the text readers need for inference and two-pass reads.
type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func openGzipFile(filename string) (*gzipFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

func (g *gzipFile) Seek(offset int64, whence int) (int64, error) {
	if offset != 0 || whence != io.SeekStart {
		return 0, errors.New("gzip input can only be rewound to the start")
	}
	if _, err := g.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return 0, g.Reader.Reset(g.file)
}

func (g *gzipFile) Close() error {
	var result *multierror.Error
	if err := g.Reader.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := g.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Open creates a Reader for the named local file. The format comes from
// opts.Format when set and from the file extension otherwise; a .gz suffix
// enables gzip decompression for CSV and JSON lines input.
func Open(ctx context.Context, filename string, opts ReaderOptions) (Reader, error) {
	format := opts.Format
	compressed := strings.HasSuffix(strings.ToLower(filename), ".gz")
	if format == FormatUnknown {
		var err error
		if format, compressed, err = FormatFromPath(filename); err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatCSV, FormatJSONLines:
		return openTextReader(filename, format, compressed, opts)
	case FormatParquet:
		return createParquetReader(ctx, filename, opts)
	case FormatAvro:
		return createAvroReader(filename, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

func openTextReader(filename string, format Format, compressed bool, opts ReaderOptions) (Reader, error) {
	var rc io.ReadCloser
	if compressed {
		gz, err := openGzipFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s file: %w", format, err)
		}
		rc = gz
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s file: %w", format, err)
		}
		rc = f
	}

	// The readers close rc on construction errors.
	if format == FormatCSV {
		return NewCSVReader(rc, opts)
	}
	return NewJSONLinesReader(rc, opts)
}

// createParquetReader creates a ParquetReader for the given file.
func createParquetReader(ctx context.Context, filename string, opts ReaderOptions) (Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	reader, err := NewParquetReader(ctx, f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileOwningReader{ParquetReader: reader, file: f}, nil
}

// fileOwningReader closes the file handle after the parquet reader.
type fileOwningReader struct {
	*ParquetReader
	file *os.File
}

func (r *fileOwningReader) Close() error {
	var result *multierror.Error
	if err := r.ParquetReader.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if r.file != nil {
		// the parquet reader may already have closed it
		if err := r.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			result = multierror.Append(result, err)
		}
		r.file = nil
	}
	return result.ErrorOrNil()
}

// createAvroReader creates an AvroReader for the given file.
func createAvroReader(filename string, opts ReaderOptions) (Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open avro file: %w", err)
	}
	return NewAvroReader(f, opts)
}
