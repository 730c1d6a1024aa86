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
	"container/heap"
	"sort"
)

// spaceSaving tracks approximate heavy hitters with a fixed number of
// counters (Metwally et al.). When a new key arrives and every counter is
// taken, the smallest counter is reassigned to the new key and keeps its
// count as the key's error bound. The counters always sum to the number of
// observations.
type spaceSaving struct {
	capacity int
	heap     counterHeap
	index    map[string]*counter
}

type counter struct {
	key   string
	count int64
	err   int64
	pos   int
}

type counterHeap []*counter

func (h counterHeap) Len() int { return len(h) }

func (h counterHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	return h[i].key > h[j].key
}

func (h counterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *counterHeap) Push(x any) {
	c := x.(*counter)
	c.pos = len(*h)
	*h = append(*h, c)
}

func (h *counterHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

func newSpaceSaving(capacity int) *spaceSaving {
	capacity = max(capacity, 1)
	return &spaceSaving{
		capacity: capacity,
		heap:     make(counterHeap, 0, min(capacity, 1024)),
		index:    make(map[string]*counter, min(capacity, 1024)),
	}
}

func (s *spaceSaving) observe(key string, n int64) {
	if c, ok := s.index[key]; ok {
		c.count += n
		heap.Fix(&s.heap, c.pos)
		return
	}
	if len(s.heap) < s.capacity {
		c := &counter{key: key, count: n}
		heap.Push(&s.heap, c)
		s.index[key] = c
		return
	}
	victim := s.heap[0]
	delete(s.index, victim.key)
	victim.err = victim.count
	victim.count += n
	victim.key = key
	s.index[key] = victim
	heap.Fix(&s.heap, 0)
}

// merge adds every counter of o. Keys beyond capacity are dropped
// smallest first.
func (s *spaceSaving) merge(o *spaceSaving) {
	for _, c := range o.heap {
		if mine, ok := s.index[c.key]; ok {
			mine.count += c.count
			mine.err += c.err
			heap.Fix(&s.heap, mine.pos)
			continue
		}
		if len(s.heap) < s.capacity {
			added := &counter{key: c.key, count: c.count, err: c.err}
			heap.Push(&s.heap, added)
			s.index[c.key] = added
			continue
		}
		if smallest := s.heap[0]; smallest.count < c.count {
			delete(s.index, smallest.key)
			smallest.key, smallest.count, smallest.err = c.key, c.count, c.err
			s.index[c.key] = smallest
			heap.Fix(&s.heap, 0)
		}
	}
}

func (s *spaceSaving) len() int {
	return len(s.heap)
}

// top returns up to k counters ordered by descending count, ties broken by
// key.
func (s *spaceSaving) top(k int) []ValueCount {
	all := make([]*counter, len(s.heap))
	copy(all, s.heap)
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].key < all[j].key
	})
	if k < len(all) {
		all = all[:k]
	}
	out := make([]ValueCount, len(all))
	for i, c := range all {
		out[i] = ValueCount{Value: c.key, Count: c.count}
	}
	return out
}
