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

// Package sqlengine registers data files as views in an embedded DuckDB
// database and runs ad-hoc SQL over them.
package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/logctx"
)

// ErrUnsupportedFormat is returned for inputs DuckDB cannot scan natively.
var ErrUnsupportedFormat = errors.New("format not supported by the query engine")

type config struct {
	memoryLimitMB int64
	threads       int
	tempDir       string
}

type Option func(*config)

// WithMemoryLimitMB caps DuckDB's memory use.
func WithMemoryLimitMB(mb int64) Option {
	return func(c *config) { c.memoryLimitMB = mb }
}

// WithTempDirectory sets where DuckDB spills when over its memory limit.
func WithTempDirectory(dir string) Option {
	return func(c *config) { c.tempDir = dir }
}

// WithThreads sets DuckDB's worker threads; 0 keeps its default.
func WithThreads(n int) Option {
	return func(c *config) { c.threads = max(n, 0) }
}

// Engine is an in-memory DuckDB database. Views live on a single
// connection, so an Engine is not safe for concurrent use.
type Engine struct {
	db    *sql.DB
	conn  *sql.Conn
	views []string
}

func Open(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var setup []string
	if cfg.memoryLimitMB > 0 {
		setup = append(setup, fmt.Sprintf("SET memory_limit='%dMB';", cfg.memoryLimitMB))
	}
	if cfg.threads > 0 {
		setup = append(setup, fmt.Sprintf("SET threads=%d;", cfg.threads))
	}
	if cfg.tempDir != "" {
		setup = append(setup, fmt.Sprintf("SET temp_directory=%s;", quoteLiteral(cfg.tempDir)))
	}
	for _, stmt := range setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure duckdb: %w", err)
		}
	}
	return &Engine{db: db, conn: conn}, nil
}

// ViewName derives a SQL identifier from a file name: the base name without
// extensions, lower-cased, with anything but letters and digits replaced by
// underscores.
func ViewName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	var b strings.Builder
	for i, r := range strings.ToLower(base) {
		switch {
		case unicode.IsLetter(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('t')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "t"
	}
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func scanFunction(format filereader.Format) (string, error) {
	switch format {
	case filereader.FormatParquet:
		return "read_parquet", nil
	case filereader.FormatCSV:
		return "read_csv_auto", nil
	case filereader.FormatJSONLines:
		return "read_json_auto", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Register creates a view named name over the file at path. FormatUnknown
// detects the format from the extension.
func (e *Engine) Register(ctx context.Context, name, path string, format filereader.Format) error {
	if format == filereader.FormatUnknown {
		var err error
		if format, _, err = filereader.FormatFromPath(path); err != nil {
			return err
		}
	}
	fn, err := scanFunction(format)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s(%s);", quoteIdent(name), fn, quoteLiteral(path))
	if _, err := e.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to register %s: %w", path, err)
	}
	e.views = append(e.views, name)
	logctx.FromContext(ctx).Debug("registered view", slog.String("view", name), slog.String("path", path))
	return nil
}

// Views lists registered view names in registration order.
func (e *Engine) Views() []string {
	return append([]string(nil), e.views...)
}

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    [][]any
	Elapsed time.Duration
}

// Query runs a statement and reads every result row.
func (e *Engine) Query(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	rows, err := e.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// normalize maps driver values onto the canonical value set used by the
// renderers.
func normalize(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

func (e *Engine) Close() error {
	cerr := e.conn.Close()
	if err := e.db.Close(); err != nil {
		return err
	}
	return cerr
}
