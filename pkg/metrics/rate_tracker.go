// Package metrics keeps the counters of a batch run.
package metrics

import (
	"sync"
	"time"
)

// RateTracker measures lines per second over a sliding window of buckets.
type RateTracker struct {
	mu         sync.Mutex
	bucketSize time.Duration
	counts     []int   // Lines per bucket slot
	buckets    []int64 // Bucket number currently held by each slot
	total      int     // Lines recorded since creation or Reset
	now        func() time.Time
}

// NewRateTracker creates a tracker of windowSize buckets, each bucketSize long.
func NewRateTracker(bucketSize time.Duration, windowSize int) *RateTracker {
	if windowSize < 1 {
		windowSize = 1
	}
	if bucketSize <= 0 {
		bucketSize = time.Second
	}
	rt := &RateTracker{
		bucketSize: bucketSize,
		counts:     make([]int, windowSize),
		buckets:    make([]int64, windowSize),
		now:        time.Now,
	}
	for i := range rt.buckets {
		rt.buckets[i] = -1
	}
	return rt
}

// Record records a single line at t.
func (rt *RateTracker) Record(t time.Time) {
	rt.RecordN(t, 1)
}

// RecordN records n lines at t.
func (rt *RateTracker) RecordN(t time.Time, n int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.bucketOf(t)
	slot := int(b % int64(len(rt.counts)))
	if rt.buckets[slot] != b {
		// Slot still holds an older bucket.
		rt.buckets[slot] = b
		rt.counts[slot] = 0
	}
	rt.counts[slot] += n
	rt.total += n
}

// Stats represents rate statistics in lines per second.
type Stats struct {
	Current float64 // Rate in the current bucket
	Peak    float64 // Busiest bucket in the window
	Average float64 // Mean over the buckets seen in the window
	Total   int
}

// Stats returns the rates over the window ending now.
func (rt *RateTracker) Stats() Stats {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := Stats{Total: rt.total}
	if rt.total == 0 {
		return st
	}

	cur := rt.bucketOf(rt.now())
	window := int64(len(rt.counts))
	secs := rt.bucketSize.Seconds()

	var seen, sum, peak int
	for i, b := range rt.buckets {
		if b < 0 || b > cur || cur-b >= window {
			continue
		}
		seen++
		sum += rt.counts[i]
		if rt.counts[i] > peak {
			peak = rt.counts[i]
		}
		if b == cur {
			st.Current = float64(rt.counts[i]) / secs
		}
	}
	if seen == 0 {
		return st
	}

	st.Peak = float64(peak) / secs
	st.Average = float64(sum) / (float64(seen) * secs)
	return st
}

// Reset clears all tracking data.
func (rt *RateTracker) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i := range rt.counts {
		rt.counts[i] = 0
		rt.buckets[i] = -1
	}
	rt.total = 0
}

func (rt *RateTracker) bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(rt.bucketSize)
}
