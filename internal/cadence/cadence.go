// Package cadence measures how regularly the host renders frames.
//
// The render thread calls Mark once per uploaded frame. Summarize turns the
// recorded times into rate and jitter statistics; a steady cadence means the
// latest-wins slot is keeping up with the stream.
package cadence

import (
	"math"
	"sync"
	"time"
)

const (
	// rateStabilityThreshold is the maximum rate standard deviation as a fraction
	// of the mean rate (30 fps → stable below 4.5 fps stddev).
	rateStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected frame interval (30 fps → stable below ~6.6ms).
	jitterStabilityThreshold = 0.20

	// minStableFrames is the fewest frames a window needs before it can be
	// called stable.
	minStableFrames = 3

	// DefaultWindow is the number of most recent frames kept by NewTracker(0).
	DefaultWindow = 300
)

// Stats summarizes a window of frame times.
type Stats struct {
	Frames   int
	Duration time.Duration

	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64

	// Jitter is the deviation of each interval from 1/FPSMean, in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64

	Stable bool
}

// Tracker keeps the times of the most recent frames in a ring.
type Tracker struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewTracker keeps the last window frame times (DefaultWindow if <= 0).
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{times: make([]time.Time, window)}
}

// Mark records a frame rendered now.
func (t *Tracker) Mark() {
	t.MarkAt(time.Now())
}

// MarkAt records a frame rendered at ts.
func (t *Tracker) MarkAt(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.times[t.next] = ts
	t.next = (t.next + 1) % len(t.times)
	if t.next == 0 {
		t.full = true
	}
}

// Reset forgets every recorded frame, e.g. when a new file is opened.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 0
	t.full = false
}

// Summarize computes statistics over the recorded window.
func (t *Tracker) Summarize() Stats {
	t.mu.Lock()
	var ordered []time.Time
	if t.full {
		ordered = append(ordered, t.times[t.next:]...)
		ordered = append(ordered, t.times[:t.next]...)
	} else {
		ordered = append(ordered, t.times[:t.next]...)
	}
	t.mu.Unlock()

	if len(ordered) < 2 {
		return Stats{Frames: len(ordered)}
	}
	return Compute(ordered, ordered[len(ordered)-1].Sub(ordered[0]))
}

// Compute derives rate and jitter statistics from ordered frame times spanning
// total. Fewer than two frames, or a zero span, yield a zero, unstable result.
func Compute(frameTimes []time.Time, total time.Duration) Stats {
	n := len(frameTimes)
	st := Stats{Frames: n, Duration: total}
	if n < 2 || total <= 0 {
		return st
	}

	// n frames over total span n-1 intervals.
	st.FPSMean = float64(n-1) / total.Seconds()

	intervals := make([]float64, 0, n-1)
	rates := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			rates = append(rates, 1/iv)
		}
	}
	if len(rates) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = rates[0], rates[0]
	for _, r := range rates {
		st.FPSMin = math.Min(st.FPSMin, r)
		st.FPSMax = math.Max(st.FPSMax, r)
	}
	st.FPSStdDev = stddev(rates, st.FPSMean)

	expected := 1 / st.FPSMean
	jitters := make([]float64, len(intervals))
	var sum float64
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		sum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = sum / float64(len(jitters))
	st.JitterStdDev = stddev(jitters, st.JitterMean)

	st.Stable = n >= minStableFrames &&
		st.FPSStdDev < st.FPSMean*rateStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

func stddev(values []float64, mean float64) float64 {
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
