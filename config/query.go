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

package config

import "os"

// QueryConfig holds settings for the embedded DuckDB used by query.
type QueryConfig struct {
	MemoryLimit   int64  `mapstructure:"memory_limit"`   // Memory limit in MB (0 = unlimited)
	Threads       int    `mapstructure:"threads"`        // 0 lets DuckDB decide
	TempDirectory string `mapstructure:"temp_directory"` // Directory for spill files
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{}
}

// GetTempDirectory returns the configured temp directory.
// Defaults to TMPDIR environment variable if not configured.
func (c *QueryConfig) GetTempDirectory() string {
	if c.TempDirectory != "" {
		return c.TempDirectory
	}
	if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
		return tmpdir
	}
	return os.TempDir()
}
