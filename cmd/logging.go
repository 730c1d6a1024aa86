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
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/config"
	"github.com/cardinalhq/datamorph/internal/logctx"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// setupLogging builds the command logger: text on stderr, fanned out to a
// JSON file when one is configured. DEBUG or DATAMORPH_DEBUG in the
// environment forces debug level.
func setupLogging(lc config.LogConfig) (*slog.Logger, func() error, error) {
	level, err := parseLevel(lc.Level)
	if err != nil {
		return nil, nil, err
	}
	if os.Getenv("DEBUG") != "" || os.Getenv("DATAMORPH_DEBUG") != "" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	stderr := slog.NewTextHandler(os.Stderr, opts)

	if lc.File == "" {
		return slog.New(stderr), func() error { return nil }, nil
	}

	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := slog.New(slogmulti.Fanout(
		stderr,
		slog.NewJSONHandler(f, opts),
	))
	return logger, f.Close, nil
}

// commandContext returns the context a command runs under: cancelled on
// SIGINT/SIGTERM and carrying the configured logger.
func commandContext(c *cobra.Command) (context.Context, func(), error) {
	logger, closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	parent := c.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := handleSignals(parent, logger)
	ctx = logctx.WithLogger(ctx, logger.With(slog.String("command", c.Name())))
	return ctx, func() {
		cancel()
		_ = closeLog()
	}, nil
}
