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

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/merge"
)

var mergeFlags struct {
	output       string
	outputFormat string
	allowCast    bool
	chunkSize    int
	inputFormats map[string]string
}

var mergeCmd = &cobra.Command{
	Use:   "merge FILE... -o OUTPUT",
	Short: "Concatenate files with compatible schemas into one output",
	Long: `Reconciles the schemas of every input before writing anything. Columns
missing from a source are filled with nulls. Type disagreements fail the
merge unless --allow-cast is set, in which case values are widened or
converted to strings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

var convertFlags struct {
	output       string
	outputFormat string
	chunkSize    int
	inputFormats map[string]string
}

var convertCmd = &cobra.Command{
	Use:   "convert FILE -o OUTPUT",
	Short: "Rewrite a file in another format",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	f := mergeCmd.Flags()
	f.StringVarP(&mergeFlags.output, "output", "o", "", "Output file (format from extension unless --output-format is set)")
	f.StringVar(&mergeFlags.outputFormat, "output-format", "", "Output format: csv, json, parquet, avro")
	f.BoolVar(&mergeFlags.allowCast, "allow-cast", false, "Widen or stringify columns whose types disagree")
	f.IntVar(&mergeFlags.chunkSize, "chunk-size", 0, "Rows read from a source per step")
	addInputFormatFlag(mergeCmd, &mergeFlags.inputFormats)
	_ = mergeCmd.MarkFlagRequired("output")

	f = convertCmd.Flags()
	f.StringVarP(&convertFlags.output, "output", "o", "", "Output file")
	f.StringVar(&convertFlags.outputFormat, "output-format", "", "Output format: csv, json, parquet, avro")
	f.IntVar(&convertFlags.chunkSize, "chunk-size", 0, "Rows read per step")
	addInputFormatFlag(convertCmd, &convertFlags.inputFormats)
	_ = convertCmd.MarkFlagRequired("output")
}

func runMerge(c *cobra.Command, args []string) error {
	opts := merge.Options{
		AllowCast: mergeFlags.allowCast || cfg.Merge.AllowCast,
		ChunkSize: cfg.Merge.ChunkSize,
	}
	if mergeFlags.chunkSize != 0 {
		opts.ChunkSize = mergeFlags.chunkSize
	}
	run := func(ctx context.Context, inputs []merge.Input, output merge.OutputFactory, cache *filereader.SchemaCache) (int64, error) {
		opts.Cache = cache
		return merge.Run(ctx, inputs, output, opts)
	}
	return runMergeLike(c, args, mergeFlags.output, mergeFlags.outputFormat, mergeFlags.inputFormats, run)
}

func runConvert(c *cobra.Command, args []string) error {
	chunkSize := cfg.Merge.ChunkSize
	if convertFlags.chunkSize != 0 {
		chunkSize = convertFlags.chunkSize
	}
	run := func(ctx context.Context, inputs []merge.Input, output merge.OutputFactory, _ *filereader.SchemaCache) (int64, error) {
		return merge.Convert(ctx, inputs[0], output, chunkSize)
	}
	return runMergeLike(c, args, convertFlags.output, convertFlags.outputFormat, convertFlags.inputFormats, run)
}

type mergeFunc func(ctx context.Context, inputs []merge.Input, output merge.OutputFactory, cache *filereader.SchemaCache) (int64, error)

func runMergeLike(c *cobra.Command, args []string, outputID, outputFormat string, inputFormats map[string]string, run mergeFunc) error {
	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	sess, err := newSession(inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	inputs, err := sess.inputs(args)
	if err != nil {
		return err
	}
	out, err := sess.createOutput(ctx, outputID, outputFormat)
	if err != nil {
		return err
	}

	written, err := run(ctx, inputs, out.factory(), sess.cache)
	if err := out.finish(ctx, err); err != nil {
		return err
	}
	logctx.FromContext(ctx).Info("output written", slog.String("output", outputID), slog.Int64("rows", written))
	_, _ = fmt.Fprintf(c.OutOrStdout(), "%d rows written to %s\n", written, outputID)
	return nil
}
