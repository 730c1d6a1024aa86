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

// Package render writes reports, schemas and rows to a terminal, as
// markdown tables or as machine-readable JSON and YAML.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
	"github.com/cardinalhq/datamorph/internal/stats"
)

// Format selects an output style.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

var ErrUnknownFormat = errors.New("unknown output format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatMarkdown, FormatJSON, FormatYAML:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// structured handles the JSON and YAML cases shared by every renderer.
func structured(w io.Writer, f Format, v any) (bool, error) {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// table escapes cells when rendering markdown.
type table struct {
	*tablewriter.Table
	markdown bool
}

func newTable(w io.Writer, f Format, header []string) *table {
	t := &table{Table: tablewriter.NewWriter(w), markdown: f == FormatMarkdown}
	t.SetHeader(t.escape(header))
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	if t.markdown {
		t.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
		t.SetCenterSeparator("|")
	}
	return t
}

var markdownEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ")

func (t *table) escape(cells []string) []string {
	if !t.markdown {
		return cells
	}
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = markdownEscaper.Replace(c)
	}
	return out
}

func (t *table) Append(row []string) {
	t.Table.Append(t.escape(row))
}

func (t *table) AppendBulk(rows [][]string) {
	for _, r := range rows {
		t.Append(r)
	}
}

// heading writes a markdown heading; terminal tables get a plain line.
func heading(w io.Writer, f Format, level int, text string) {
	if f == FormatMarkdown {
		_, _ = fmt.Fprintf(w, "%s %s\n\n", strings.Repeat("#", level), text)
		return
	}
	_, _ = fmt.Fprintln(w, text)
}

// Cell renders a single value for a table. Nulls show as NULL.
func Cell(v any) string {
	if v == nil {
		return "NULL"
	}
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("[%d bytes]", len(b))
	}
	return schema.FormatValue(v)
}

func floatCell(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'g', 6, 64)
}

func topValues(vcs []stats.ValueCount) string {
	parts := make([]string, len(vcs))
	for i, vc := range vcs {
		parts[i] = fmt.Sprintf("%s (%d)", vc.Value, vc.Count)
	}
	return strings.Join(parts, ", ")
}

// Stats renders one report per source.
func Stats(w io.Writer, f Format, reports []*stats.Report) error {
	if ok, err := structured(w, f, reports); ok {
		return err
	}
	for i, r := range reports {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if r.Source != "" {
			heading(w, f, 1, fmt.Sprintf("%s: %d rows", r.Source, r.Rows))
		} else {
			heading(w, f, 1, fmt.Sprintf("%d rows", r.Rows))
		}
		statsTables(w, f, r)
	}
	return nil
}

func statsTables(w io.Writer, f Format, r *stats.Report) {
	var numeric, categorical [][]string
	for _, c := range r.Columns {
		switch {
		case c.Numeric != nil:
			n := c.Numeric
			numeric = append(numeric, []string{
				c.Name, c.Type.String(),
				strconv.FormatInt(n.NonNullCount, 10),
				strconv.FormatInt(n.NullCount, 10),
				floatCell(n.Min), floatCell(n.Max), floatCell(n.Mean), floatCell(n.Median), floatCell(n.StdDev),
				strconv.FormatInt(n.Skipped, 10),
			})
		case c.Categorical != nil:
			cr := c.Categorical
			distinct := strconv.FormatInt(cr.DistinctCount, 10)
			if !cr.DistinctExact {
				distinct = "~" + distinct
			}
			categorical = append(categorical, []string{
				c.Name, c.Type.String(),
				strconv.FormatInt(cr.NonNullCount, 10),
				strconv.FormatInt(cr.NullCount, 10),
				distinct,
				topValues(cr.TopK),
			})
		}
	}
	if len(numeric) > 0 {
		if f == FormatMarkdown {
			heading(w, f, 2, "Numeric columns")
		}
		t := newTable(w, f, []string{"column", "type", "count", stats.NullMarker, "min", "max", "mean", "median", "stddev", "skipped"})
		t.AppendBulk(numeric)
		t.Render()
	}
	if len(categorical) > 0 {
		if f == FormatMarkdown {
			if len(numeric) > 0 {
				_, _ = fmt.Fprintln(w)
			}
			heading(w, f, 2, "Categorical columns")
		}
		t := newTable(w, f, []string{"column", "type", "count", stats.NullMarker, "distinct", "top values"})
		t.AppendBulk(categorical)
		t.Render()
	}
}

// Schema renders a schema's fields in order.
func Schema(w io.Writer, f Format, s *schema.Schema) error {
	if ok, err := structured(w, f, s.Fields()); ok {
		return err
	}
	t := newTable(w, f, []string{"#", "column", "type", "nullable"})
	for i, fld := range s.Fields() {
		t.Append([]string{strconv.Itoa(i), fld.Name, fld.Type.String(), strconv.FormatBool(fld.Nullable)})
	}
	t.Render()
	return nil
}

// FileInfo renders file metadata; parquet files add row group and column
// chunk tables.
func FileInfo(w io.Writer, f Format, infos []*filereader.FileInfo) error {
	if ok, err := structured(w, f, infos); ok {
		return err
	}
	for i, info := range infos {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		rows := "unknown"
		if info.RowsKnown {
			rows = strconv.FormatInt(info.Rows, 10)
		}
		t := newTable(w, f, []string{"property", "value"})
		t.Append([]string{"path", info.Path})
		t.Append([]string{"format", info.Format.String()})
		t.Append([]string{"compressed", strconv.FormatBool(info.Compressed)})
		t.Append([]string{"size", strconv.FormatInt(info.SizeBytes, 10)})
		t.Append([]string{"rows", rows})
		t.Append([]string{"columns", strconv.Itoa(len(info.Fields))})
		if info.CreatedBy != "" {
			t.Append([]string{"created by", info.CreatedBy})
		}
		if len(info.RowGroups) > 0 {
			t.Append([]string{"row groups", strconv.Itoa(len(info.RowGroups))})
		}
		t.Render()

		if len(info.RowGroups) > 0 {
			if f == FormatMarkdown {
				_, _ = fmt.Fprintln(w)
			}
			rg := newTable(w, f, []string{"row group", "rows", "bytes"})
			for _, g := range info.RowGroups {
				rg.Append([]string{strconv.Itoa(g.Index), strconv.FormatInt(g.Rows, 10), strconv.FormatInt(g.TotalByteSize, 10)})
			}
			rg.Render()
		}
		if len(info.Columns) > 0 {
			if f == FormatMarkdown {
				_, _ = fmt.Fprintln(w)
			}
			ct := newTable(w, f, []string{"column", "codec", "compressed", "uncompressed"})
			for _, c := range info.Columns {
				ct.Append([]string{c.Path, c.Codec, strconv.FormatInt(c.CompressedSize, 10), strconv.FormatInt(c.UncompressedSize, 10)})
			}
			ct.Render()
		}
	}
	return nil
}

// Rows renders rows under the given column names. JSON and YAML emit a
// list of objects.
func Rows(w io.Writer, f Format, columns []string, rows []pipeline.Row) error {
	if f == FormatJSON || f == FormatYAML {
		objs := make([]orderedRow, len(rows))
		for i, r := range rows {
			objs[i] = orderedRow{columns: columns, values: r}
		}
		_, err := structured(w, f, objs)
		return err
	}
	t := newTable(w, f, columns)
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, v := range r {
			cells[i] = Cell(v)
		}
		t.Append(cells)
	}
	t.Render()
	return nil
}

// orderedRow keeps column order in JSON and YAML objects.
type orderedRow struct {
	columns []string
	values  pipeline.Row
}

func structuredValue(v any) any {
	if b, ok := v.([]byte); ok {
		return schema.FormatValue(b)
	}
	return v
}

func (o orderedRow) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range o.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val := structuredValue(o.values[i])
		if x, ok := val.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
			val = nil
		}
		v, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func (o orderedRow) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for i, name := range o.columns {
		var v yaml.Node
		if err := v.Encode(structuredValue(o.values[i])); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, &v)
	}
	return node, nil
}
