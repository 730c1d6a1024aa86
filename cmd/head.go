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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/internal/extract"
	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/pipeline"
)

type extractFlags struct {
	n            int
	output       string
	outputFormat string
	format       string
	inputFormats map[string]string
}

var (
	headFlags extractFlags
	tailFlags extractFlags
)

var headCmd = &cobra.Command{
	Use:   "head FILE",
	Short: "Print the first rows of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runExtract(c, args[0], &headFlags, extract.Head)
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail FILE",
	Short: "Print the last rows of a file",
	Long:  `Prints the last rows of a file. Parquet files only read their trailing row groups.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runExtract(c, args[0], &tailFlags, extract.Tail)
	},
}

func init() {
	for _, pair := range []struct {
		cmd   *cobra.Command
		flags *extractFlags
	}{{headCmd, &headFlags}, {tailCmd, &tailFlags}} {
		f := pair.cmd.Flags()
		f.IntVarP(&pair.flags.n, "rows", "n", 10, "Number of rows")
		f.StringVarP(&pair.flags.output, "output", "o", "", "Write the rows to this file instead of the terminal")
		f.StringVar(&pair.flags.outputFormat, "output-format", "", "Output file format")
		f.StringVar(&pair.flags.format, "format", "table", "Terminal format: table, json, yaml")
		addInputFormatFlag(pair.cmd, &pair.flags.inputFormats)
	}
}

type extractFunc func(ctx context.Context, r filereader.Reader, n int) ([]pipeline.Row, error)

func runExtract(c *cobra.Command, id string, flags *extractFlags, fn extractFunc) error {
	ctx, done, err := commandContext(c)
	if err != nil {
		return err
	}
	defer done()

	sess, err := newSession(flags.inputFormats)
	if err != nil {
		return err
	}
	defer sess.close()

	r, err := sess.open(ctx, id)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	rows, err := fn(ctx, r, flags.n)
	if err != nil {
		return err
	}
	return sess.emitRows(ctx, c.OutOrStdout(), r.Schema(), rows, flags.output, flags.outputFormat, flags.format)
}
