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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/merge"
	"github.com/cardinalhq/datamorph/internal/sampling"
	"github.com/cardinalhq/datamorph/internal/stats"
)

// Config aggregates configuration for every command.
type Config struct {
	Reader  ReaderConfig  `mapstructure:"reader"`
	Merge   MergeConfig   `mapstructure:"merge"`
	Stats   StatsConfig   `mapstructure:"stats"`
	Sample  SampleConfig  `mapstructure:"sample"`
	Storage StorageConfig `mapstructure:"storage"`
	Query   QueryConfig   `mapstructure:"query"`
	Log     LogConfig     `mapstructure:"log"`
}

type ReaderConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	InferRows int `mapstructure:"infer_rows"` // 0 scans the whole file
}

type MergeConfig struct {
	ChunkSize    int  `mapstructure:"chunk_size"`
	AllowCast    bool `mapstructure:"allow_cast"`
	RowGroupSize int  `mapstructure:"row_group_size"`
}

type StatsConfig struct {
	Sketch             string `mapstructure:"sketch"`
	SketchCapacity     int    `mapstructure:"sketch_capacity"`
	TopK               int    `mapstructure:"top_k"`
	TrackedValues      int    `mapstructure:"tracked_values"`
	CardinalityCeiling int    `mapstructure:"cardinality_ceiling"`
	Workers            int    `mapstructure:"workers"`
}

type SampleConfig struct {
	Seed int64  `mapstructure:"seed"`
	Mode string `mapstructure:"mode"`
}

type StorageConfig struct {
	TmpDir         string        `mapstructure:"tmp_dir"`
	SchemaCacheTTL time.Duration `mapstructure:"schema_cache_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Reader: ReaderConfig{BatchSize: 10000, InferRows: 10000},
		Merge:  MergeConfig{ChunkSize: merge.DefaultChunkSize, RowGroupSize: 100000},
		Stats: StatsConfig{
			Sketch:             stats.SketchCentroid,
			SketchCapacity:     100,
			TopK:               5,
			TrackedValues:      1000,
			CardinalityCeiling: 100000,
			Workers:            1,
		},
		Sample:  SampleConfig{Seed: sampling.DefaultSeed, Mode: string(sampling.ModeAuto)},
		Storage: StorageConfig{SchemaCacheTTL: 10 * time.Minute},
		Query:   DefaultQueryConfig(),
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment. Environment variables use the prefix "DATAMORPH" and the dot
// character in keys is replaced by an underscore, so "merge.chunk_size"
// becomes "DATAMORPH_MERGE_CHUNK_SIZE". With an empty path ./config.yaml is
// used when present; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("DATAMORPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	positive := func(name string, n int) {
		if n <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	positive("reader.batch_size", c.Reader.BatchSize)
	positive("merge.chunk_size", c.Merge.ChunkSize)
	positive("merge.row_group_size", c.Merge.RowGroupSize)
	positive("stats.sketch_capacity", c.Stats.SketchCapacity)
	positive("stats.top_k", c.Stats.TopK)
	positive("stats.tracked_values", c.Stats.TrackedValues)
	positive("stats.cardinality_ceiling", c.Stats.CardinalityCeiling)
	positive("stats.workers", c.Stats.Workers)
	if c.Reader.InferRows < 0 {
		result = multierror.Append(result, fmt.Errorf("reader.infer_rows must not be negative, got %d", c.Reader.InferRows))
	}
	if c.Stats.TopK > c.Stats.TrackedValues {
		result = multierror.Append(result, fmt.Errorf("stats.top_k (%d) exceeds stats.tracked_values (%d)", c.Stats.TopK, c.Stats.TrackedValues))
	}
	if c.Stats.Sketch != stats.SketchCentroid && c.Stats.Sketch != stats.SketchDDSketch {
		result = multierror.Append(result, fmt.Errorf("stats.sketch must be %q or %q, got %q", stats.SketchCentroid, stats.SketchDDSketch, c.Stats.Sketch))
	}
	if _, err := sampling.ParseMode(c.Sample.Mode); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Storage.SchemaCacheTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("storage.schema_cache_ttl must be positive, got %s", c.Storage.SchemaCacheTTL))
	}
	if c.Query.MemoryLimit < 0 || c.Query.Threads < 0 {
		result = multierror.Append(result, errors.New("query.memory_limit and query.threads must not be negative"))
	}
	return result.ErrorOrNil()
}

func (c *Config) ReaderOptions() filereader.ReaderOptions {
	return filereader.ReaderOptions{BatchSize: c.Reader.BatchSize, InferRows: c.Reader.InferRows}
}

func (c *Config) StatsOptions() stats.Options {
	return stats.Options{
		Sketch:             c.Stats.Sketch,
		SketchCapacity:     c.Stats.SketchCapacity,
		TopK:               c.Stats.TopK,
		TrackedValues:      c.Stats.TrackedValues,
		CardinalityCeiling: c.Stats.CardinalityCeiling,
		BatchSize:          c.Reader.BatchSize,
		Workers:            c.Stats.Workers,
	}
}
