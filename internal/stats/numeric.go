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

package stats

import (
	"math"

	"github.com/cardinalhq/datamorph/internal/schema"
)

// NumericSummary folds numeric values into count, min, max, a running
// mean and M2 (Welford), plus a quantile sketch for the median.
type NumericSummary struct {
	count   int64
	nulls   int64
	skipped int64
	min     float64
	max     float64
	mean    float64
	m2      float64
	sketch  QuantileSketch
}

func NewNumericSummary(sketch QuantileSketch) *NumericSummary {
	return &NumericSummary{
		min:    math.Inf(1),
		max:    math.Inf(-1),
		sketch: sketch,
	}
}

// Add folds one canonical value. nil and NaN count as null; infinities and
// values that do not convert to a number are skipped and counted.
func (s *NumericSummary) Add(v any) {
	if v == nil {
		s.nulls++
		return
	}
	x, err := schema.ToFloat64(v)
	if err != nil {
		s.skipped++
		return
	}
	if math.IsNaN(x) {
		s.nulls++
		return
	}
	if math.IsInf(x, 0) {
		s.skipped++
		return
	}
	s.AddFloat(x)
}

func (s *NumericSummary) AddFloat(x float64) {
	s.count++
	if x < s.min {
		s.min = x
	}
	if x > s.max {
		s.max = x
	}
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (x - s.mean)
	s.sketch.Add(x)
}

// Merge combines two partial summaries using the pairwise update for the
// mean and M2.
func (s *NumericSummary) Merge(o *NumericSummary) error {
	if err := s.sketch.Merge(o.sketch); err != nil {
		return err
	}
	s.nulls += o.nulls
	s.skipped += o.skipped
	if o.count == 0 {
		return nil
	}
	if s.count == 0 {
		s.count, s.min, s.max, s.mean, s.m2 = o.count, o.min, o.max, o.mean, o.m2
		return nil
	}
	n := s.count + o.count
	delta := o.mean - s.mean
	s.mean += delta * float64(o.count) / float64(n)
	s.m2 += o.m2 + delta*delta*float64(s.count)*float64(o.count)/float64(n)
	s.count = n
	s.min = math.Min(s.min, o.min)
	s.max = math.Max(s.max, o.max)
	return nil
}

// NumericReport is the frozen view of a NumericSummary. Min, Max, Mean,
// Median and StdDev are nil when the column held no values.
type NumericReport struct {
	NonNullCount int64    `json:"non_null_count" yaml:"non_null_count"`
	NullCount    int64    `json:"null_count" yaml:"null_count"`
	Skipped      int64    `json:"skipped" yaml:"skipped"`
	Min          *float64 `json:"min" yaml:"min"`
	Max          *float64 `json:"max" yaml:"max"`
	Mean         *float64 `json:"mean" yaml:"mean"`
	Median       *float64 `json:"median" yaml:"median"`
	StdDev       *float64 `json:"stddev" yaml:"stddev"`
}

func (s *NumericSummary) Report() *NumericReport {
	r := &NumericReport{
		NonNullCount: s.count,
		NullCount:    s.nulls,
		Skipped:      s.skipped,
	}
	if s.count == 0 {
		return r
	}
	r.Min = ptr(s.min)
	r.Max = ptr(s.max)
	r.Mean = ptr(s.mean)
	r.StdDev = ptr(math.Sqrt(s.m2 / float64(s.count)))
	if median, ok := s.sketch.Quantile(0.5); ok {
		// the sketch interpolates; keep it inside the exact bounds
		r.Median = ptr(math.Max(s.min, math.Min(s.max, median)))
	}
	return r
}

func ptr(f float64) *float64 {
	return &f
}
