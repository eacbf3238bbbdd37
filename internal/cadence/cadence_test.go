package cadence

import (
	"math/rand"
	"testing"
	"testing/quick"
	"time"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// frameTimes spaces n frames at 1/fps with a deterministic random offset of up
// to ±jitter of the interval.
func frameTimes(n int, fps, jitter float64) []time.Time {
	if n < 1 {
		return nil
	}
	interval := 1.0 / fps
	rng := rand.New(rand.NewSource(42))

	times := make([]time.Time, n)
	times[0] = base
	for i := 1; i < n; i++ {
		iv := interval + (rng.Float64()*2-1)*jitter*interval
		times[i] = times[i-1].Add(time.Duration(iv * float64(time.Second)))
	}
	return times
}

func span(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}
	return times[len(times)-1].Sub(times[0])
}

// TestComputeStability: a regular cadence is stable, a ragged one is not.
func TestComputeStability(t *testing.T) {
	t.Run("steady", func(t *testing.T) {
		times := frameTimes(60, 30, 0.05)
		st := Compute(times, span(times))
		if !st.Stable {
			t.Errorf("expected stable: fps %.2f±%.2f jitter %.4fs", st.FPSMean, st.FPSStdDev, st.JitterMean)
		}
		if st.FPSMean < 28 || st.FPSMean > 32 {
			t.Errorf("mean fps %.2f, want ~30", st.FPSMean)
		}
	})

	t.Run("ragged", func(t *testing.T) {
		times := frameTimes(60, 30, 0.6)
		st := Compute(times, span(times))
		if st.Stable {
			t.Errorf("expected unstable: jitter %.1f%% of interval", st.JitterMean*st.FPSMean*100)
		}
	})
}

func TestComputeEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		times []time.Time
		total time.Duration
	}{
		{"no frames", nil, time.Second},
		{"one frame", []time.Time{base}, time.Second},
		{"two frames", []time.Time{base, base.Add(time.Second)}, time.Second},
		{"zero span", []time.Time{base, base, base}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Compute(tt.times, tt.total)
			if st.Stable {
				t.Error("edge case reported stable")
			}
			if st.Frames != len(tt.times) {
				t.Errorf("Frames = %d, want %d", st.Frames, len(tt.times))
			}
			if st.FPSStdDev < 0 || st.JitterMean < 0 || st.JitterMax < 0 {
				t.Errorf("negative statistic: %+v", st)
			}
		})
	}
}

// TestComputeBounds: min <= mean-ish rates <= max and jitter is never negative,
// for any rate and frame count.
func TestComputeBounds(t *testing.T) {
	f := func(fps float64, n uint8) bool {
		if fps < 0.5 || fps > 120 || n < 3 || n > 200 {
			return true
		}
		times := frameTimes(int(n), fps, 0.1)
		st := Compute(times, span(times))
		return st.FPSMin <= st.FPSMax &&
			st.JitterMean >= 0 &&
			st.JitterMax >= st.JitterMean &&
			st.FPSStdDev >= 0
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// TestTrackerWindow: only the most recent frames count once the ring wraps.
func TestTrackerWindow(t *testing.T) {
	tr := NewTracker(10)

	// 20 slow frames (1 fps) then 10 fast ones (50 fps): the window sees only
	// the fast ones.
	ts := base
	for i := 0; i < 20; i++ {
		ts = ts.Add(time.Second)
		tr.MarkAt(ts)
	}
	for i := 0; i < 10; i++ {
		ts = ts.Add(20 * time.Millisecond)
		tr.MarkAt(ts)
	}

	st := tr.Summarize()
	if st.Frames != 10 {
		t.Fatalf("Frames = %d, want 10", st.Frames)
	}
	if st.FPSMean < 49 || st.FPSMean > 51 {
		t.Errorf("FPSMean = %.2f, want ~50", st.FPSMean)
	}
	if !st.Stable {
		t.Errorf("regular window reported unstable: %+v", st)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(0)
	tr.Mark()
	tr.Mark()
	tr.Reset()

	if st := tr.Summarize(); st.Frames != 0 {
		t.Errorf("Frames after Reset = %d", st.Frames)
	}
}
