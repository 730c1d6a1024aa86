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
	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/datamorph/internal/schema"
)

// NullMarker stands in for null in rendered categorical reports.
const NullMarker = "__NULL__"

// CategoricalSummary counts values by their text form. Frequencies are
// tracked with Space-Saving counters; distinct values are counted exactly
// up to the cardinality ceiling and with HyperLogLog beyond it.
type CategoricalSummary struct {
	nonNull  int64
	nulls    int64
	topK     int
	counters *spaceSaving
	ceiling  int
	exact    mapset.Set[string]
	hll      *hyperloglog.Sketch
}

func NewCategoricalSummary(topK, tracked, ceiling int) *CategoricalSummary {
	tracked = max(tracked, topK, 1)
	return &CategoricalSummary{
		topK:     topK,
		counters: newSpaceSaving(tracked),
		ceiling:  max(ceiling, 1),
		exact:    mapset.NewThreadUnsafeSet[string](),
	}
}

func (s *CategoricalSummary) Add(v any) {
	if v == nil {
		s.nulls++
		return
	}
	key := schema.FormatValue(v)
	s.nonNull++
	s.counters.observe(key, 1)
	s.addDistinct(key)
}

func (s *CategoricalSummary) addDistinct(key string) {
	if s.hll != nil {
		s.hll.InsertHash(xxhash.Sum64String(key))
		return
	}
	s.exact.Add(key)
	if s.exact.Cardinality() > s.ceiling {
		s.switchToEstimate()
	}
}

// switchToEstimate seeds a HyperLogLog sketch with the exact set and
// drops the set.
func (s *CategoricalSummary) switchToEstimate() {
	s.hll = hyperloglog.New14()
	s.exact.Each(func(k string) bool {
		s.hll.InsertHash(xxhash.Sum64String(k))
		return false
	})
	s.exact = nil
}

func (s *CategoricalSummary) Merge(o *CategoricalSummary) error {
	s.nonNull += o.nonNull
	s.nulls += o.nulls
	s.counters.merge(o.counters)

	switch {
	case s.hll == nil && o.hll == nil:
		s.exact = s.exact.Union(o.exact)
		if s.exact.Cardinality() > s.ceiling {
			s.switchToEstimate()
		}
		return nil
	case s.hll == nil:
		s.switchToEstimate()
	}
	if o.hll != nil {
		return s.hll.Merge(o.hll)
	}
	o.exact.Each(func(k string) bool {
		s.hll.InsertHash(xxhash.Sum64String(k))
		return false
	})
	return nil
}

// DistinctCount returns the distinct value count and whether it is exact.
// Estimates never fall below the ceiling plus one or the number of
// tracked values, both of which are known lower bounds.
func (s *CategoricalSummary) DistinctCount() (int64, bool) {
	if s.hll == nil {
		return int64(s.exact.Cardinality()), true
	}
	est := int64(s.hll.Estimate())
	return max(est, int64(s.ceiling)+1, int64(s.counters.len())), false
}

// CategoricalReport is the frozen view of a CategoricalSummary.
type CategoricalReport struct {
	NonNullCount  int64        `json:"non_null_count" yaml:"non_null_count"`
	NullCount     int64        `json:"null_count" yaml:"null_count"`
	DistinctCount int64        `json:"distinct_count" yaml:"distinct_count"`
	DistinctExact bool         `json:"distinct_exact" yaml:"distinct_exact"`
	TopK          []ValueCount `json:"top_k" yaml:"top_k"`
}

// ValueCount is one entry of a top-K table.
type ValueCount struct {
	Value string `json:"value" yaml:"value"`
	Count int64  `json:"count" yaml:"count"`
}

func (s *CategoricalSummary) Report() *CategoricalReport {
	distinct, exact := s.DistinctCount()
	return &CategoricalReport{
		NonNullCount:  s.nonNull,
		NullCount:     s.nulls,
		DistinctCount: distinct,
		DistinctExact: exact,
		TopK:          s.counters.top(s.topK),
	}
}
