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
	"fmt"
	"path"
	"strings"
)

// Format identifies a file encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatJSONLines
	FormatParquet
	FormatAvro
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSONLines:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	case FormatAvro:
		return "avro"
	default:
		return "unknown"
	}
}

// Extension returns the canonical file extension, including the dot.
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + f.String()
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFormat accepts format names and their common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "csv":
		return FormatCSV, nil
	case "json", "jsonl", "ndjson":
		return FormatJSONLines, nil
	case "parquet", "pq":
		return FormatParquet, nil
	case "avro":
		return FormatAvro, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatFromPath detects the format from a file name or object key. A
// trailing .gz is ignored and reported separately.
func FormatFromPath(name string) (Format, bool, error) {
	base := strings.ToLower(path.Base(name))
	compressed := false
	if strings.HasSuffix(base, ".gz") {
		compressed = true
		base = strings.TrimSuffix(base, ".gz")
	}
	ext := path.Ext(base)
	if ext == "" {
		return FormatUnknown, compressed, fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, name)
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return FormatUnknown, compressed, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if compressed && (f == FormatParquet || f == FormatAvro) {
		return FormatUnknown, compressed, fmt.Errorf("%w: gzip is only supported for csv and json inputs: %s", ErrUnsupportedFormat, name)
	}
	return f, compressed, nil
}
