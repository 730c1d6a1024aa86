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

package filereader

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/datamorph/internal/schema"
)

// Row skip reasons.
const (
	skipWrongWidth = "wrong_width"
)

// Every reader instrument carries a "format" attribute with the input format.
var (
	rowsDecodedCounter     otelmetric.Int64Counter
	rowsEmittedCounter     otelmetric.Int64Counter
	rowsSkippedCounter     otelmetric.Int64Counter
	unknownKeysCounter     otelmetric.Int64Counter
	textPassthroughCounter otelmetric.Int64Counter
	inferenceRowsHistogram otelmetric.Int64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/datamorph/internal/filereader")

	var err error
	rowsDecodedCounter, err = meter.Int64Counter(
		"datamorph.reader.rows.decoded",
		otelmetric.WithDescription("Records decoded from an input file, including records later skipped"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.decoded counter: %w", err))
	}

	rowsEmittedCounter, err = meter.Int64Counter(
		"datamorph.reader.rows.emitted",
		otelmetric.WithDescription("Rows handed to commands after projection"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.emitted counter: %w", err))
	}

	rowsSkippedCounter, err = meter.Int64Counter(
		"datamorph.reader.rows.skipped",
		otelmetric.WithDescription("Records skipped while reading, by reason; wrong_width is a CSV record whose field count differs from the header"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.skipped counter: %w", err))
	}

	unknownKeysCounter, err = meter.Int64Counter(
		"datamorph.reader.keys.unknown",
		otelmetric.WithDescription("JSON keys first seen after the inference window; their values are not read"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create keys.unknown counter: %w", err))
	}

	textPassthroughCounter, err = meter.Int64Counter(
		"datamorph.reader.values.passthrough",
		otelmetric.WithDescription("Values kept as their original text because they do not convert to the column type"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create values.passthrough counter: %w", err))
	}

	inferenceRowsHistogram, err = meter.Int64Histogram(
		"datamorph.reader.inference.rows",
		otelmetric.WithDescription("Records sampled to infer a CSV or JSON lines schema"),
		otelmetric.WithUnit("{row}"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create inference.rows histogram: %w", err))
	}
}

func formatAttrs(f Format, extra ...attribute.KeyValue) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(append([]attribute.KeyValue{attribute.String("format", f.String())}, extra...)...)
}

// recordRows counts decoded and emitted rows for one read step.
func recordRows(ctx context.Context, f Format, decoded, emitted int64) {
	attrs := formatAttrs(f)
	if decoded > 0 {
		rowsDecodedCounter.Add(ctx, decoded, attrs)
	}
	if emitted > 0 {
		rowsEmittedCounter.Add(ctx, emitted, attrs)
	}
}

func recordSkippedRow(ctx context.Context, f Format, reason string) {
	rowsSkippedCounter.Add(ctx, 1, formatAttrs(f, attribute.String("reason", reason)))
}

func recordUnknownKeys(ctx context.Context, f Format, n int) {
	unknownKeysCounter.Add(ctx, int64(n), formatAttrs(f))
}

func recordTextPassthrough(ctx context.Context, f Format, t schema.LogicalType) {
	textPassthroughCounter.Add(ctx, 1, formatAttrs(f, attribute.String("column_type", t.String())))
}

func recordInference(ctx context.Context, f Format, sampled int) {
	inferenceRowsHistogram.Record(ctx, int64(sampled), formatAttrs(f))
}
