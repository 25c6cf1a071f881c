package metrics

import (
	"slices"
	"time"

	"go.uber.org/atomic"
)

// Histogram records durations into fixed buckets and tracks count, sum and max.
type Histogram struct {
	bounds []time.Duration
	counts []*atomic.Int64 // len(bounds)+1; the last bucket is overflow
	count  *atomic.Int64
	sum    *atomic.Int64 // nanoseconds
	max    *atomic.Int64 // nanoseconds
}

// NewHistogram creates a Histogram with the given bucket upper bounds.
func NewHistogram(bounds []time.Duration) *Histogram {
	sorted := slices.Clone(bounds)
	slices.Sort(sorted)

	counts := make([]*atomic.Int64, len(sorted)+1)
	for i := range counts {
		counts[i] = atomic.NewInt64(0)
	}
	return &Histogram{
		bounds: sorted,
		counts: counts,
		count:  atomic.NewInt64(0),
		sum:    atomic.NewInt64(0),
		max:    atomic.NewInt64(0),
	}
}

// Observe records one duration. Negative durations are recorded as zero.
func (h *Histogram) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	idx, _ := slices.BinarySearch(h.bounds, d)
	h.counts[idx].Inc()
	h.count.Inc()
	h.sum.Add(int64(d))
	for {
		current := h.max.Load()
		if int64(d) <= current || h.max.CompareAndSwap(current, int64(d)) {
			return
		}
	}
}

// Bucket is one histogram bucket. UpperBound is zero for the overflow bucket.
type Bucket struct {
	UpperBound time.Duration `json:"upperBound"`
	Count      int64         `json:"count"`
}

// HistogramSnapshot is a point-in-time copy of a Histogram.
type HistogramSnapshot struct {
	Count   int64         `json:"count"`
	Total   time.Duration `json:"total"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Buckets []Bucket      `json:"buckets"`
}

// Snapshot copies the current values.
func (h *Histogram) Snapshot() HistogramSnapshot {
	s := HistogramSnapshot{
		Count: h.count.Load(),
		Total: time.Duration(h.sum.Load()),
		Max:   time.Duration(h.max.Load()),
	}
	if s.Count > 0 {
		s.Average = s.Total / time.Duration(s.Count)
	}
	s.Buckets = make([]Bucket, len(h.counts))
	for i, c := range h.counts {
		if i < len(h.bounds) {
			s.Buckets[i].UpperBound = h.bounds[i]
		}
		s.Buckets[i].Count = c.Load()
	}
	return s
}
