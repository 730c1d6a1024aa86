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

package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
	"github.com/cardinalhq/datamorph/internal/stats"
)

func f64(v float64) *float64 { return &v }

func sampleReport() *stats.Report {
	return &stats.Report{
		Source: "people.csv",
		Rows:   4,
		Columns: []stats.ColumnReport{
			{
				Name: "age", Type: schema.TypeInteger, Kind: stats.KindNumeric,
				Numeric: &stats.NumericReport{NonNullCount: 3, NullCount: 1, Min: f64(20), Max: f64(40), Mean: f64(30), Median: f64(30), StdDev: f64(8.16497)},
			},
			{
				Name: "city", Type: schema.TypeString, Kind: stats.KindCategorical,
				Categorical: &stats.CategoricalReport{
					NonNullCount: 4, DistinctCount: 2, DistinctExact: true,
					TopK: []stats.ValueCount{{Value: "oslo", Count: 3}, {Value: "rome", Count: 1}},
				},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"markdown", FormatMarkdown, false},
		{"md", FormatMarkdown, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Stats(&buf, FormatTable, []*stats.Report{sampleReport()}))
	out := buf.String()
	assert.Contains(t, out, "people.csv: 4 rows")
	assert.Contains(t, out, stats.NullMarker)
	assert.Contains(t, out, "oslo (3), rome (1)")
	assert.Contains(t, out, "8.16497")
	assert.Contains(t, out, "median")
}

// assertMarkdownTable checks every table line is pipe-delimited and that a
// header separator follows the first table row.
func assertMarkdownTable(t *testing.T, out string) {
	t.Helper()
	var tableLines []string
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"), "line %q", line)
		tableLines = append(tableLines, line)
	}
	require.GreaterOrEqual(t, len(tableLines), 2)
	assert.Regexp(t, `^\|[-|]+\|$`, tableLines[1])
}

func TestStatsMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Stats(&buf, FormatMarkdown, []*stats.Report{sampleReport()}))
	out := buf.String()
	assert.Contains(t, out, "# people.csv: 4 rows\n")
	assert.Contains(t, out, "## Numeric columns\n")
	assert.Contains(t, out, "## Categorical columns\n")
	assert.Less(t, strings.Index(out, "Numeric columns"), strings.Index(out, "Categorical columns"))
	assert.Contains(t, out, "oslo (3), rome (1)")
	assert.NotContains(t, out, "+-")
	assertMarkdownTable(t, out)
}

func TestSchemaMarkdownEscapesPipes(t *testing.T) {
	s := schema.MustNew(
		schema.Field{Name: "id", Type: schema.TypeInteger},
		schema.Field{Name: "a|b", Type: schema.TypeString, Nullable: true},
	)
	var buf bytes.Buffer
	require.NoError(t, Schema(&buf, FormatMarkdown, s))
	out := buf.String()
	assert.Contains(t, out, `a\|b`)
	assert.Contains(t, out, "nullable")
	assertMarkdownTable(t, out)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 4)
}

func TestStatsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Stats(&buf, FormatJSON, []*stats.Report{sampleReport()}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	cols := decoded[0]["columns"].([]any)
	age := cols[0].(map[string]any)
	assert.Equal(t, "integer", age["type"])
	assert.Equal(t, 30.0, age["numeric"].(map[string]any)["median"])
}

func TestSchemaYAML(t *testing.T) {
	s := schema.MustNew(
		schema.Field{Name: "id", Type: schema.TypeInteger},
		schema.Field{Name: "name", Type: schema.TypeString, Nullable: true},
	)
	var buf bytes.Buffer
	require.NoError(t, Schema(&buf, FormatYAML, s))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "name", decoded[1]["name"])
	assert.Equal(t, "string", decoded[1]["type"])
	assert.Equal(t, true, decoded[1]["nullable"])
}

func TestRowsKeepColumnOrder(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []pipeline.Row{{int64(1), nil, ts}, {int64(2), "b", ts}}
	cols := []string{"z", "a", "m"}

	var buf bytes.Buffer
	require.NoError(t, Rows(&buf, FormatJSON, cols, rows))
	out := buf.String()
	assert.Less(t, strings.Index(out, `"z"`), strings.Index(out, `"a"`))
	assert.Less(t, strings.Index(out, `"a"`), strings.Index(out, `"m"`))
	assert.Contains(t, out, `"a": null`)
	assert.Contains(t, out, `"2025-03-01T12:00:00Z"`)

	buf.Reset()
	require.NoError(t, Rows(&buf, FormatYAML, []string{"true", "n"}, []pipeline.Row{{int64(1), "x"}}))
	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1, decoded[0]["true"])

	buf.Reset()
	require.NoError(t, Rows(&buf, FormatTable, cols, rows))
	assert.Contains(t, buf.String(), "NULL")
}

func TestFileInfoTable(t *testing.T) {
	info := &filereader.FileInfo{
		Path:      "x.parquet",
		Format:    filereader.FormatParquet,
		SizeBytes: 1024,
		Rows:      10,
		RowsKnown: true,
		RowGroups: []filereader.RowGroupInfo{{Index: 0, Rows: 10, TotalByteSize: 900}},
		Columns:   []filereader.ColumnInfo{{Path: "id", Codec: "ZSTD", CompressedSize: 40, UncompressedSize: 80}},
	}
	var buf bytes.Buffer
	require.NoError(t, FileInfo(&buf, FormatTable, []*filereader.FileInfo{info}))
	out := buf.String()
	assert.Contains(t, out, "parquet")
	assert.Contains(t, out, "ZSTD")
	assert.Contains(t, out, "row groups")
}

func TestCell(t *testing.T) {
	assert.Equal(t, "NULL", Cell(nil))
	assert.Equal(t, "[3 bytes]", Cell([]byte("abc")))
	assert.Equal(t, "1.5", Cell(1.5))
}
