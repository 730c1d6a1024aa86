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

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATAMORPH_MERGE_CHUNK_SIZE", "500")
	t.Setenv("DATAMORPH_MERGE_ALLOW_CAST", "true")
	t.Setenv("DATAMORPH_STATS_SKETCH", "ddsketch")
	t.Setenv("DATAMORPH_STORAGE_SCHEMA_CACHE_TTL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Merge.ChunkSize)
	assert.True(t, cfg.Merge.AllowCast)
	assert.Equal(t, "ddsketch", cfg.Stats.Sketch)
	assert.Equal(t, 30*time.Second, cfg.Storage.SchemaCacheTTL)
	assert.Equal(t, 100, cfg.Stats.SketchCapacity)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datamorph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stats:
  top_k: 10
  workers: 4
sample:
  seed: 7
query:
  memory_limit: 512
`), 0o644))
	t.Setenv("DATAMORPH_STATS_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Stats.TopK)
	assert.Equal(t, 2, cfg.Stats.Workers, "environment wins over the file")
	assert.Equal(t, int64(7), cfg.Sample.Seed)
	assert.Equal(t, int64(512), cfg.Query.MemoryLimit)
	assert.Equal(t, 10000, cfg.Reader.BatchSize)

	so := cfg.StatsOptions()
	assert.Equal(t, 10, so.TopK)
	assert.Equal(t, 10000, so.BatchSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero chunk", func(c *Config) { c.Merge.ChunkSize = 0 }, false},
		{"negative infer", func(c *Config) { c.Reader.InferRows = -1 }, false},
		{"whole-file inference", func(c *Config) { c.Reader.InferRows = 0 }, true},
		{"top k above tracked", func(c *Config) { c.Stats.TopK = 2000 }, false},
		{"bad sketch", func(c *Config) { c.Stats.Sketch = "tdigest" }, false},
		{"bad mode", func(c *Config) { c.Sample.Mode = "systematic" }, false},
		{"two-pass alias", func(c *Config) { c.Sample.Mode = "twopass" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestQueryTempDirectory(t *testing.T) {
	c := QueryConfig{TempDirectory: "/data/spill"}
	assert.Equal(t, "/data/spill", c.GetTempDirectory())

	t.Setenv("TMPDIR", "/scratch")
	c = QueryConfig{}
	assert.Equal(t, "/scratch", c.GetTempDirectory())
}
