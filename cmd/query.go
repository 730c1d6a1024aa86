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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/render"
	"github.com/cardinalhq/datamorph/internal/sqlengine"
)

var queryFlags struct {
	format       string
	views        map[string]string
	inputFormats map[string]string
}

var queryCmd = &cobra.Command{
	Use:   "query SQL [FILE...]",
	Short: "Run SQL over files using an embedded DuckDB",
	Long: `Registers each file as a view named after its base name (lower-cased,
extension removed, other characters replaced by underscores) and runs the
query. Use --view name=FILE to pick view names. Avro files are not
supported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryFlags.format, "format", "table", "Output format: table, markdown, json, yaml")
	f.StringToStringVar(&queryFlags.views, "view", nil, "Register FILE under an explicit view name, e.g. --view sales=s3://b/sales.parquet")
	addInputFormatFlag(queryCmd, &queryFlags.inputFormats)
}

func runQuery(c *cobra.Command, args []string) error {
	format, err := render.ParseFormat(queryFlags.format)
	if err != nil {
		return err
	}
	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	sess, err := newSession(queryFlags.inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	views := make(map[string]string, len(args)-1+len(queryFlags.views))
	var order []string
	for _, id := range args[1:] {
		name := sqlengine.ViewName(id)
		if _, dup := views[name]; dup {
			return fmt.Errorf("view %q is derived from more than one file; use --view", name)
		}
		views[name] = id
		order = append(order, name)
	}
	for name, id := range queryFlags.views {
		if _, dup := views[name]; !dup {
			order = append(order, name)
		}
		views[name] = id
	}

	engine, err := sqlengine.Open(ctx,
		sqlengine.WithMemoryLimitMB(cfg.Query.MemoryLimit),
		sqlengine.WithThreads(cfg.Query.Threads),
		sqlengine.WithTempDirectory(cfg.Query.GetTempDirectory()),
	)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	for _, name := range order {
		id := views[name]
		path, err := sess.local(ctx, id)
		if err != nil {
			return err
		}
		f, err := sess.format(id)
		if err != nil {
			return err
		}
		if err := engine.Register(ctx, name, path, f); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}

	res, err := engine.Query(ctx, args[0])
	if err != nil {
		return err
	}
	logctx.FromContext(ctx).Debug("query complete",
		slog.Int("rows", len(res.Rows)),
		slog.Duration("elapsed", res.Elapsed))

	rows := make([]pipeline.Row, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = r
	}
	return render.Rows(c.OutOrStdout(), format, res.Columns, rows)
}
