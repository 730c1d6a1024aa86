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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/datamorph/cmd"
)

// memLimitRatio is the share of the container limit given to the Go heap.
const memLimitRatio = 0.8

func init() {
	time.Local = time.UTC
	setMaxProcs()
	setMemLimit()
}

func setMaxProcs() {
	quiet := func(string, ...any) {}
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(quiet))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(quiet))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}
}

func setMemLimit() {
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(memLimitRatio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMEMLIMIT: %v\n", err)
	}
}

// scratchDir points TMPDIR at a per-tool directory so staged downloads,
// Parquet spill files and DuckDB temp files land in one place. The base
// is the configured storage tmp dir when it is set in the environment.
func scratchDir() {
	base := os.Getenv("DATAMORPH_STORAGE_TMP_DIR")
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "datamorph")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Failed to create scratch dir (ignoring)", slog.String("path", dir), slog.Any("error", err))
		return
	}
	if err := os.Setenv("TMPDIR", dir); err != nil {
		slog.Warn("Failed to set TMPDIR", slog.String("path", dir), slog.Any("error", err))
	}
}

func main() {
	scratchDir()
	cmd.Execute()
}
