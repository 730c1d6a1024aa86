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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/merge"
	"github.com/cardinalhq/datamorph/internal/render"
	"github.com/cardinalhq/datamorph/internal/schema"
)

var schemaFlags struct {
	format       string
	markdown     bool
	allowCast    bool
	inputFormats map[string]string
}

var schemaCmd = &cobra.Command{
	Use:   "schema FILE...",
	Short: "Print a file's schema, or the reconciled schema of several files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSchema,
}

var metaFlags struct {
	format       string
	count        bool
	inputFormats map[string]string
}

var metaCmd = &cobra.Command{
	Use:   "meta FILE...",
	Short: "Print file metadata: size, rows, row groups and column codecs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMeta,
}

func init() {
	f := schemaCmd.Flags()
	f.StringVar(&schemaFlags.format, "format", "table", "Output format: table, markdown, json, yaml")
	f.BoolVar(&schemaFlags.markdown, "markdown", false, "Shorthand for --format markdown")
	f.BoolVar(&schemaFlags.allowCast, "allow-cast", false, "Reconcile disagreeing types by widening or stringifying")
	addInputFormatFlag(schemaCmd, &schemaFlags.inputFormats)

	f = metaCmd.Flags()
	f.StringVar(&metaFlags.format, "format", "table", "Output format: table, markdown, json, yaml")
	f.BoolVar(&metaFlags.count, "count", false, "Scan csv, json and avro files to count rows")
	addInputFormatFlag(metaCmd, &metaFlags.inputFormats)
}

func runSchema(c *cobra.Command, args []string) error {
	format, err := outputFormat(c, schemaFlags.format, schemaFlags.markdown)
	if err != nil {
		return err
	}
	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	sess, err := newSession(schemaFlags.inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	inputs, err := sess.inputs(args)
	if err != nil {
		return err
	}
	schemas, err := merge.Schemas(ctx, inputs, sess.cache)
	if err != nil {
		return err
	}
	target, plans, err := schema.Reconcile(schemas, schemaFlags.allowCast || cfg.Merge.AllowCast)
	if err != nil {
		return err
	}
	if err := render.Schema(c.OutOrStdout(), format, target); err != nil {
		return err
	}
	if (format != render.FormatTable && format != render.FormatMarkdown) || len(args) == 1 {
		return nil
	}
	for i, p := range plans {
		if !p.IsIdentity() {
			_, _ = fmt.Fprintf(c.OutOrStdout(), "%s: %s\n", args[i], p)
		}
	}
	return nil
}

func runMeta(c *cobra.Command, args []string) error {
	format, err := render.ParseFormat(metaFlags.format)
	if err != nil {
		return err
	}
	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	sess, err := newSession(metaFlags.inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	infos := make([]*filereader.FileInfo, 0, len(args))
	for _, id := range args {
		path, err := sess.local(ctx, id)
		if err != nil {
			return err
		}
		opts, err := sess.readerOptions(id, nil)
		if err != nil {
			return err
		}
		info, err := filereader.Inspect(ctx, path, opts, metaFlags.count)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		info.Path = id
		infos = append(infos, info)
	}
	return render.FileInfo(c.OutOrStdout(), format, infos)
}
