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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/sampling"
)

var sampleFlags struct {
	n            int64
	fraction     float64
	seed         int64
	mode         string
	output       string
	outputFormat string
	format       string
	inputFormats map[string]string
}

var sampleCmd = &cobra.Command{
	Use:   "sample FILE (-n N | --fraction F)",
	Short: "Draw a reproducible uniform random sample of rows",
	Long: `Draws exactly N rows, or round(F x rows) rows, uniformly at random.
The same seed over the same input always yields the same rows.`,
	Args: cobra.ExactArgs(1),
	RunE: runSample,
}

func init() {
	f := sampleCmd.Flags()
	f.Int64VarP(&sampleFlags.n, "rows", "n", 0, "Number of rows to sample")
	f.Float64Var(&sampleFlags.fraction, "fraction", 0, "Fraction of rows to sample, in (0, 1]")
	f.Int64Var(&sampleFlags.seed, "seed", 0, "Random seed (default from config, 42)")
	f.StringVar(&sampleFlags.mode, "mode", "", "Sampling mode: auto, single, two-pass, bernoulli")
	f.StringVarP(&sampleFlags.output, "output", "o", "", "Write the sample to this file instead of the terminal")
	f.StringVar(&sampleFlags.outputFormat, "output-format", "", "Output file format")
	f.StringVar(&sampleFlags.format, "format", "table", "Terminal format: table, json, yaml")
	addInputFormatFlag(sampleCmd, &sampleFlags.inputFormats)
	sampleCmd.MarkFlagsMutuallyExclusive("rows", "fraction")
}

func runSample(c *cobra.Command, args []string) error {
	modeName := cfg.Sample.Mode
	if sampleFlags.mode != "" {
		modeName = sampleFlags.mode
	}
	mode, err := sampling.ParseMode(modeName)
	if err != nil {
		return err
	}
	opts := sampling.Options{
		N:         sampleFlags.n,
		Fraction:  sampleFlags.fraction,
		Seed:      cfg.Sample.Seed,
		Mode:      mode,
		BatchSize: cfg.Reader.BatchSize,
	}
	if c.Flags().Changed("seed") {
		opts.Seed = sampleFlags.seed
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	sess, err := newSession(sampleFlags.inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	r, err := sess.open(ctx, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	res, err := sampling.Sample(ctx, r, opts)
	if err != nil {
		return err
	}
	logctx.FromContext(ctx).Debug("sampled",
		slog.String("mode", string(res.Mode)),
		slog.Int64("total", res.Total),
		slog.Int("rows", len(res.Rows)))
	return sess.emitRows(ctx, c.OutOrStdout(), res.Schema, res.Rows, sampleFlags.output, sampleFlags.outputFormat, sampleFlags.format)
}
