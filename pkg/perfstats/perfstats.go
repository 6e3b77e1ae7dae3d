// Package perfstats holds small sample accumulators, used for running means of box areas and
// for timing the stages of frame processing.
package perfstats

import (
	"sync/atomic"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
// Because only the sum and count are stored, the average does not depend on the order in
// which samples were added.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// AddSince adds the time elapsed since 'start'
func (a *TimeAccumulator) AddSince(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// MovingAverage is an exponential moving average that can be updated from one goroutine
// and read from others.
type MovingAverage struct {
	v atomic.Uint64
}

// Update folds 'value' into the average with weight 1/64.
// The first sample seeds the average.
func (m *MovingAverage) Update(value int64) {
	vu := uint64(max(value, 0))
	// Not strictly correct without CompareAndSwap, but we only have one writer.
	if m.v.Load() == 0 {
		m.v.Store(vu)
	} else {
		m.v.Store((m.v.Load()*63 + vu) >> 6)
	}
}

func (m *MovingAverage) Load() int64 {
	return int64(m.v.Load())
}
