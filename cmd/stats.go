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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/render"
	"github.com/cardinalhq/datamorph/internal/sqlengine"
	"github.com/cardinalhq/datamorph/internal/stats"
)

var statsFlags struct {
	columns      []string
	format         string
	markdown       bool
	fast           bool
	sketch         string
	sketchCapacity int
	topK           int
	workers        int
	inputFormats   map[string]string
}

var statsCmd = &cobra.Command{
	Use:   "stats FILE...",
	Short: "Summarize columns: min/max/mean/median or distinct counts and top values",
	Long: `Computes one statistics report per file in a single streaming pass.
Numeric columns report min, max, mean, approximate median and standard
deviation; all other columns report distinct counts and the most frequent
values.

--fast skips the streaming pass and asks DuckDB's SUMMARIZE instead: distinct
counts are approximate and no top values are reported. Avro files are not
supported in this mode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStats,
}

func init() {
	f := statsCmd.Flags()
	f.StringSliceVar(&statsFlags.columns, "columns", nil, "Only summarize these columns")
	f.StringVar(&statsFlags.format, "format", "table", "Output format: table, markdown, json, yaml")
	f.BoolVar(&statsFlags.markdown, "markdown", false, "Shorthand for --format markdown")
	f.BoolVar(&statsFlags.fast, "fast", false, "Summarize with DuckDB SUMMARIZE instead of a streaming pass")
	f.StringVar(&statsFlags.sketch, "sketch", "", "Quantile sketch: centroid or ddsketch")
	f.IntVar(&statsFlags.sketchCapacity, "sketch-capacity", 0, "Centroids kept by the centroid sketch")
	f.IntVar(&statsFlags.topK, "top-k", 0, "Most frequent values reported per categorical column")
	f.IntVar(&statsFlags.workers, "workers", 0, "Files (or parquet row groups) summarized concurrently")
	addInputFormatFlag(statsCmd, &statsFlags.inputFormats)
}

// fastIncompatible lists the flags that only apply to the streaming pass.
var fastIncompatible = []string{"columns", "sketch", "sketch-capacity", "top-k", "workers"}

func runStats(c *cobra.Command, args []string) error {
	format, err := outputFormat(c, statsFlags.format, statsFlags.markdown)
	if err != nil {
		return err
	}
	if statsFlags.fast {
		for _, name := range fastIncompatible {
			if c.Flags().Changed(name) {
				return fmt.Errorf("--fast cannot be combined with --%s", name)
			}
		}
	}
	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	opts := cfg.StatsOptions()
	if statsFlags.sketch != "" {
		opts.Sketch = statsFlags.sketch
	}
	if statsFlags.sketchCapacity > 0 {
		opts.SketchCapacity = statsFlags.sketchCapacity
	}
	if statsFlags.topK > 0 {
		opts.TopK = statsFlags.topK
	}
	if statsFlags.workers > 0 {
		opts.Workers = statsFlags.workers
	}

	sess, err := newSession(statsFlags.inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	if statsFlags.fast {
		reports, err := summarizeAll(ctx, sess, args)
		if err != nil {
			return err
		}
		return render.Stats(c.OutOrStdout(), format, reports)
	}

	sources := make([]stats.Source, len(args))
	for i, id := range args {
		sources[i] = stats.Source{Name: id, Open: sess.opener(id, statsFlags.columns)}
	}
	reports, err := stats.ComputeAll(ctx, sources, statsFlags.columns, opts)
	if err != nil {
		return err
	}
	return render.Stats(c.OutOrStdout(), format, reports)
}

// summarizeAll builds one report per file from DuckDB's SUMMARIZE.
func summarizeAll(ctx context.Context, sess *session, ids []string) ([]*stats.Report, error) {
	engine, err := sqlengine.Open(ctx,
		sqlengine.WithMemoryLimitMB(cfg.Query.MemoryLimit),
		sqlengine.WithThreads(cfg.Query.Threads),
		sqlengine.WithTempDirectory(cfg.Query.GetTempDirectory()),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = engine.Close() }()

	reports := make([]*stats.Report, 0, len(ids))
	for _, id := range ids {
		path, err := sess.local(ctx, id)
		if err != nil {
			return nil, err
		}
		f, err := sess.format(id)
		if err != nil {
			return nil, err
		}
		view := sqlengine.ViewName(id)
		if err := engine.Register(ctx, view, path, f); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		cols, err := engine.Summarize(ctx, view)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		r := sqlengine.SummaryReport(id, cols)
		logctx.FromContext(ctx).Debug("summarized file",
			slog.String("source", id),
			slog.Int64("rows", r.Rows),
			slog.Int("columns", len(r.Columns)))
		reports = append(reports, r)
	}
	return reports, nil
}
