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

// Package merge concatenates several sources into one output under a
// reconciled schema, one bounded chunk at a time.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/filewriter"
	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// DefaultChunkSize is the number of rows pulled from a source per step.
const DefaultChunkSize = 100000

// ErrInvalidOptions is returned for bad parameters before any I/O.
var ErrInvalidOptions = errors.New("invalid merge options")

// Input is one source of a merge.
type Input struct {
	Name string
	// Format is part of the schema cache key; FormatUnknown means the
	// opener detects it.
	Format filereader.Format
	Open   func(ctx context.Context) (filereader.Reader, error)
}

// OutputFactory creates the sink once the target schema is known.
type OutputFactory func(target *schema.Schema) (filewriter.Writer, error)

// Options configures a merge run.
type Options struct {
	AllowCast bool
	ChunkSize int
	// Cache, when set, serves source schemas keyed by (name, format).
	Cache *filereader.SchemaCache
}

// Error wraps a failure that happened after output began. RowsWritten
// rows are already in the output and are not rolled back.
type Error struct {
	Source      string
	RowsWritten int64
	Err         error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("merge failed after %d rows: %v", e.RowsWritten, e.Err)
	}
	return fmt.Sprintf("merge failed in %s after %d rows: %v", e.Source, e.RowsWritten, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	rowsMergedCounter otelmetric.Int64Counter

	tracer = otel.Tracer("github.com/cardinalhq/datamorph/internal/merge")
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/datamorph/internal/merge")

	var err error
	rowsMergedCounter, err = meter.Int64Counter(
		"datamorph.merge.rows",
		otelmetric.WithDescription("Number of rows appended to merge outputs"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create merge.rows counter: %w", err))
	}
}

// Schemas loads every input's schema, through the cache when one is set.
func Schemas(ctx context.Context, inputs []Input, cache *filereader.SchemaCache) ([]*schema.Schema, error) {
	schemas := make([]*schema.Schema, len(inputs))
	for i, in := range inputs {
		load := func(ctx context.Context) (*schema.Schema, error) {
			r, err := in.Open(ctx)
			if err != nil {
				return nil, err
			}
			defer func() { _ = r.Close() }()
			return r.Schema(), nil
		}
		var (
			s   *schema.Schema
			err error
		)
		if cache != nil {
			s, err = cache.Get(ctx, filereader.SchemaKey{Source: in.Name, Format: in.Format}, load)
		} else {
			s, err = load(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		schemas[i] = s
	}
	return schemas, nil
}

// Run reconciles the input schemas, creates the output with the target
// schema and appends every input in order. It returns the number of rows
// written. Schema incompatibility fails before the output is created;
// later failures return an *Error carrying the rows already written.
func Run(ctx context.Context, inputs []Input, output OutputFactory, opts Options) (int64, error) {
	ctx, span := tracer.Start(ctx, "merge.Run", trace.WithAttributes(attribute.Int("inputs", len(inputs))))
	defer span.End()

	written, err := run(ctx, inputs, output, opts)
	span.SetAttributes(attribute.Int64("rows", written))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
	}
	return written, err
}

func run(ctx context.Context, inputs []Input, output OutputFactory, opts Options) (int64, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("%w: no inputs", ErrInvalidOptions)
	}
	if opts.ChunkSize < 0 {
		return 0, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidOptions, opts.ChunkSize)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	ll := logctx.FromContext(ctx)

	schemas, err := Schemas(ctx, inputs, opts.Cache)
	if err != nil {
		return 0, err
	}
	target, plans, err := schema.Reconcile(schemas, opts.AllowCast)
	if err != nil {
		return 0, err
	}
	for i, p := range plans {
		if !p.IsIdentity() {
			ll.Debug("source needs alignment", slog.String("source", inputs[i].Name), slog.String("plan", p.String()))
		}
	}

	w, err := output(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create output: %w", err)
	}

	start := time.Now()
	m := &merger{w: w, target: target, chunkSize: opts.ChunkSize, logEvery: int64(opts.ChunkSize) * 10}
	m.nextLog = m.logEvery
	var runErr error
	for i, in := range inputs {
		if err := m.appendSource(logctx.With(ctx, slog.String("source", in.Name)), in, schemas[i], plans[i]); err != nil {
			runErr = &Error{Source: in.Name, RowsWritten: m.written, Err: err}
			break
		}
	}
	if err := w.Close(); err != nil {
		if runErr == nil {
			return m.written, &Error{RowsWritten: m.written, Err: fmt.Errorf("failed to close output: %w", err)}
		}
		runErr = multierror.Append(runErr, err)
	}
	if runErr != nil {
		return m.written, runErr
	}

	ll.Info("merge complete",
		slog.Int("sources", len(inputs)),
		slog.Int64("rows", m.written),
		slog.Duration("elapsed", time.Since(start)))
	return m.written, nil
}

type merger struct {
	w         filewriter.Writer
	target    *schema.Schema
	chunkSize int
	written   int64
	logEvery  int64
	nextLog   int64
}

func (m *merger) appendSource(ctx context.Context, in Input, expected *schema.Schema, plan *schema.CastPlan) error {
	r, err := in.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	if !r.Schema().Equal(expected) {
		return fmt.Errorf("schema changed since it was read: got %v, want %v", r.Schema().Names(), expected.Names())
	}

	ll := logctx.FromContext(ctx)
	var sourceRow int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := r.Next(ctx, m.chunkSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read failed at row %d: %w", sourceRow, err)
		}

		out, err := Apply(plan, batch, m.target)
		n := batch.Len()
		pipeline.ReturnBatch(batch)
		if err != nil {
			var ce *CastError
			if errors.As(err, &ce) {
				ce.Source = in.Name
				ce.Row += sourceRow
			}
			return err
		}
		err = m.w.Write(ctx, out)
		pipeline.ReturnBatch(out)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}

		sourceRow += int64(n)
		m.written += int64(n)
		rowsMergedCounter.Add(ctx, int64(n))
		if m.written >= m.nextLog {
			ll.Info("merge progress", slog.Int64("rows", m.written))
			m.nextLog += m.logEvery
		}
	}
}

// Convert rewrites a single input into the output produced by output,
// widening types where needed.
func Convert(ctx context.Context, in Input, output OutputFactory, chunkSize int) (int64, error) {
	return Run(ctx, []Input{in}, output, Options{AllowCast: true, ChunkSize: chunkSize})
}
