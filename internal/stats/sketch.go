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
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"
)

// QuantileSketch is a bounded-memory, mergeable summary answering
// approximate quantile queries.
type QuantileSketch interface {
	Add(x float64)
	// Merge folds other into the receiver. Both sketches must be the same kind.
	Merge(other QuantileSketch) error
	// Quantile returns the approximate value at rank q in [0, 1]. ok is
	// false when the sketch is empty.
	Quantile(q float64) (value float64, ok bool)
	Count() float64
}

// Sketch kinds accepted by NewSketch.
const (
	SketchCentroid = "centroid"
	SketchDDSketch = "ddsketch"
)

var errSketchKind = errors.New("cannot merge sketches of different kinds")

// NewSketch builds an empty sketch of the named kind.
func NewSketch(kind string, capacity int) (QuantileSketch, error) {
	switch kind {
	case "", SketchCentroid:
		return NewCentroidSketch(capacity), nil
	case SketchDDSketch:
		return NewDDSketch(capacity)
	default:
		return nil, fmt.Errorf("unknown sketch kind %q", kind)
	}
}

type centroid struct {
	mean   float64
	weight float64
}

// CentroidSketch keeps at most capacity weighted centroids ordered by
// mean. Incoming values are buffered as singletons; once the buffer
// reaches capacity the buffer and centroids are merged and compacted.
// Compaction walks the centroids in order and merges neighbours while the
// combined weight stays under 2*total/capacity, so centroids end up with
// roughly equal weight across the whole rank range.
type CentroidSketch struct {
	capacity  int
	centroids []centroid
	buffer    []centroid
	total     float64
	min       float64
	max       float64
}

var _ QuantileSketch = (*CentroidSketch)(nil)

const minSketchCapacity = 10

func NewCentroidSketch(capacity int) *CentroidSketch {
	capacity = max(capacity, minSketchCapacity)
	return &CentroidSketch{
		capacity: capacity,
		buffer:   make([]centroid, 0, capacity),
		min:      math.Inf(1),
		max:      math.Inf(-1),
	}
}

func (s *CentroidSketch) Add(x float64) {
	if math.IsNaN(x) {
		return
	}
	s.buffer = append(s.buffer, centroid{mean: x, weight: 1})
	s.total++
	s.min = math.Min(s.min, x)
	s.max = math.Max(s.max, x)
	if len(s.buffer) >= s.capacity {
		s.compress()
	}
}

func (s *CentroidSketch) Count() float64 {
	return s.total
}

// Len returns the number of centroids held after compaction.
func (s *CentroidSketch) Len() int {
	s.compress()
	return len(s.centroids)
}

func (s *CentroidSketch) compress() {
	if len(s.buffer) == 0 {
		return
	}
	all := append(s.centroids, s.buffer...)
	sort.Slice(all, func(i, j int) bool { return all[i].mean < all[j].mean })
	s.buffer = s.buffer[:0]

	limit := 2 * s.total / float64(s.capacity)
	out := all[:1]
	for _, c := range all[1:] {
		last := &out[len(out)-1]
		if last.weight+c.weight <= limit {
			w := last.weight + c.weight
			last.mean += (c.mean - last.mean) * c.weight / w
			last.weight = w
			continue
		}
		out = append(out, c)
	}
	s.centroids = out
}

func (s *CentroidSketch) Merge(other QuantileSketch) error {
	o, ok := other.(*CentroidSketch)
	if !ok {
		return errSketchKind
	}
	if o.total == 0 {
		return nil
	}
	s.buffer = append(s.buffer, o.centroids...)
	s.buffer = append(s.buffer, o.buffer...)
	s.total += o.total
	s.min = math.Min(s.min, o.min)
	s.max = math.Max(s.max, o.max)
	s.compress()
	return nil
}

// Quantile interpolates between centroid centres; the first and last
// segments interpolate towards the exact min and max.
func (s *CentroidSketch) Quantile(q float64) (float64, bool) {
	if s.total == 0 {
		return 0, false
	}
	s.compress()
	q = math.Max(0, math.Min(1, q))
	if len(s.centroids) == 1 {
		return s.centroids[0].mean, true
	}

	rank := q * s.total
	cum := 0.0
	prevCenter, prevMean := 0.0, s.min
	for _, c := range s.centroids {
		center := cum + c.weight/2
		if rank < center {
			if center == prevCenter {
				return c.mean, true
			}
			return prevMean + (rank-prevCenter)/(center-prevCenter)*(c.mean-prevMean), true
		}
		cum += c.weight
		prevCenter, prevMean = center, c.mean
	}
	if s.total == prevCenter {
		return s.max, true
	}
	return prevMean + (rank-prevCenter)/(s.total-prevCenter)*(s.max-prevMean), true
}

// DDSketch adapts a DataDog DDSketch with a collapsing dense store, which
// bounds memory by its bin count and gives relative-error guarantees in
// value space.
type DDSketch struct {
	sk *ddsketch.DDSketch
}

var _ QuantileSketch = (*DDSketch)(nil)

const ddsketchRelativeAccuracy = 0.01

// NewDDSketch allows capacity*10 bins.
func NewDDSketch(capacity int) (*DDSketch, error) {
	capacity = max(capacity, minSketchCapacity)
	sk, err := ddsketch.LogCollapsingLowestDenseDDSketch(ddsketchRelativeAccuracy, capacity*10)
	if err != nil {
		return nil, fmt.Errorf("failed to create ddsketch: %w", err)
	}
	return &DDSketch{sk: sk}, nil
}

// Add ignores values the sketch cannot index (NaN and infinities).
func (d *DDSketch) Add(x float64) {
	_ = d.sk.Add(x)
}

func (d *DDSketch) Count() float64 {
	return d.sk.GetCount()
}

func (d *DDSketch) Merge(other QuantileSketch) error {
	o, ok := other.(*DDSketch)
	if !ok {
		return errSketchKind
	}
	return d.sk.MergeWith(o.sk)
}

func (d *DDSketch) Quantile(q float64) (float64, bool) {
	if d.sk.IsEmpty() {
		return 0, false
	}
	v, err := d.sk.GetValueAtQuantile(math.Max(0, math.Min(1, q)))
	if err != nil {
		return 0, false
	}
	return v, true
}
