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

// Package stats computes per-column descriptive statistics over batch
// streams in bounded memory. Numeric columns get exact count, min, max,
// mean and standard deviation plus a sketched median; every other column
// gets approximate top-K frequencies and a distinct count.
package stats

import (
	"errors"
	"fmt"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// ErrFinalized is returned when an accumulator is used after Finalize.
var ErrFinalized = errors.New("accumulator already finalized")

// Options configures the summaries built for each column.
type Options struct {
	Sketch             string // SketchCentroid (default) or SketchDDSketch
	SketchCapacity     int    // centroids kept by the quantile sketch (default 100)
	TopK               int    // most frequent values reported (default 5)
	TrackedValues      int    // Space-Saving counters per column (default 1000)
	CardinalityCeiling int    // exact distinct counting limit (default 100000)
	BatchSize          int    // rows requested per batch; 0 uses the reader default
	Workers            int    // concurrent files or row groups (default 1)
}

func (o Options) withDefaults() Options {
	if o.Sketch == "" {
		o.Sketch = SketchCentroid
	}
	if o.SketchCapacity <= 0 {
		o.SketchCapacity = 100
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.TrackedValues <= 0 {
		o.TrackedValues = 1000
	}
	if o.CardinalityCeiling <= 0 {
		o.CardinalityCeiling = 100000
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Kind is the summary family chosen for a column from its declared type.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// KindOf classifies a logical type. Only integer and floating columns are
// numeric.
func KindOf(t schema.LogicalType) Kind {
	if t.IsNumeric() {
		return KindNumeric
	}
	return KindCategorical
}

type columnState struct {
	field       schema.Field
	index       int // position in the batch schema
	numeric     *NumericSummary
	categorical *CategoricalSummary
}

// Accumulator folds batches sharing one schema into per-column summaries.
// It is not safe for concurrent use; parallel work uses one accumulator
// per worker combined with Merge.
type Accumulator struct {
	schema    *schema.Schema
	opts      Options
	columns   []*columnState
	rows      int64
	finalized bool
	report    *Report
}

// NewAccumulator summarizes the named columns of s, or every column when
// columns is empty. Classification happens here, once.
func NewAccumulator(s *schema.Schema, columns []string, opts Options) (*Accumulator, error) {
	opts = opts.withDefaults()
	if len(columns) == 0 {
		columns = s.Names()
	}

	a := &Accumulator{schema: s, opts: opts}
	for _, name := range columns {
		idx, ok := s.Index(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", schema.ErrUnknownField, name)
		}
		col := &columnState{field: s.Field(idx), index: idx}
		if KindOf(col.field.Type) == KindNumeric {
			sketch, err := NewSketch(opts.Sketch, opts.SketchCapacity)
			if err != nil {
				return nil, err
			}
			col.numeric = NewNumericSummary(sketch)
		} else {
			col.categorical = NewCategoricalSummary(opts.TopK, opts.TrackedValues, opts.CardinalityCeiling)
		}
		a.columns = append(a.columns, col)
	}
	return a, nil
}

// Update folds one batch. The batch must use the accumulator's schema.
func (a *Accumulator) Update(batch *pipeline.Batch) error {
	if a.finalized {
		return ErrFinalized
	}
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	if !batch.Schema().Equal(a.schema) {
		return fmt.Errorf("batch schema %v does not match %v", batch.Schema().Names(), a.schema.Names())
	}
	for _, col := range a.columns {
		values := batch.Column(col.index)
		if col.numeric != nil {
			for _, v := range values {
				col.numeric.Add(v)
			}
			continue
		}
		for _, v := range values {
			col.categorical.Add(v)
		}
	}
	a.rows += int64(batch.Len())
	return nil
}

// Merge folds another partial accumulator over the same schema and
// columns into a. other must not be used afterwards.
func (a *Accumulator) Merge(other *Accumulator) error {
	if a.finalized || other.finalized {
		return ErrFinalized
	}
	if !a.schema.Equal(other.schema) || len(a.columns) != len(other.columns) {
		return errors.New("cannot merge accumulators over different columns")
	}
	for i, col := range a.columns {
		o := other.columns[i]
		if col.field.Name != o.field.Name {
			return errors.New("cannot merge accumulators over different columns")
		}
		var err error
		if col.numeric != nil {
			err = col.numeric.Merge(o.numeric)
		} else {
			err = col.categorical.Merge(o.categorical)
		}
		if err != nil {
			return fmt.Errorf("column %q: %w", col.field.Name, err)
		}
	}
	a.rows += other.rows
	return nil
}

// Rows returns the number of rows folded so far.
func (a *Accumulator) Rows() int64 {
	return a.rows
}

// Finalize freezes the summaries into a report. Later calls return the
// same report; Update and Merge fail with ErrFinalized.
func (a *Accumulator) Finalize() *Report {
	if a.finalized {
		return a.report
	}
	a.finalized = true

	r := &Report{Rows: a.rows, Columns: make([]ColumnReport, len(a.columns))}
	for i, col := range a.columns {
		cr := ColumnReport{Name: col.field.Name, Type: col.field.Type}
		if col.numeric != nil {
			cr.Kind = KindNumeric
			cr.Numeric = col.numeric.Report()
		} else {
			cr.Kind = KindCategorical
			cr.Categorical = col.categorical.Report()
		}
		r.Columns[i] = cr
	}
	a.report = r
	// summaries are no longer needed
	a.columns = nil
	return r
}

// Report is the statistics result for one source.
type Report struct {
	Source  string         `json:"source,omitempty" yaml:"source,omitempty"`
	Rows    int64          `json:"rows" yaml:"rows"`
	Columns []ColumnReport `json:"columns" yaml:"columns"`
}

// ColumnReport holds exactly one of Numeric or Categorical.
type ColumnReport struct {
	Name        string             `json:"name" yaml:"name"`
	Type        schema.LogicalType `json:"type" yaml:"type"`
	Kind        Kind               `json:"kind" yaml:"kind"`
	Numeric     *NumericReport     `json:"numeric,omitempty" yaml:"numeric,omitempty"`
	Categorical *CategoricalReport `json:"categorical,omitempty" yaml:"categorical,omitempty"`
}

// Column finds a column report by name.
func (r *Report) Column(name string) (ColumnReport, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnReport{}, false
}
