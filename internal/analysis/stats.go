package analysis

import (
	"math"
	"sort"
)

func sortedCopy(xs []float64) []float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s
}

func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := sortedCopy(xs)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// percentile uses linear interpolation between closest ranks on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// round rounds half to even at the given number of decimal places.
func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(x*p) / p
}

func roundInt(x float64) int {
	return int(math.RoundToEven(x))
}

// pushWindow appends v and keeps at most size trailing values.
func pushWindow[T any](w []T, v T, size int) []T {
	w = append(w, v)
	if len(w) > size {
		w = w[len(w)-size:]
	}
	return w
}

func allTrue(w []bool) bool {
	for _, b := range w {
		if !b {
			return false
		}
	}
	return true
}

func anyTrue(w []bool) bool {
	for _, b := range w {
		if b {
			return true
		}
	}
	return false
}

// seriesRate estimates the effective sampling rate of a feature series.
func seriesRate(frames []int, times []float64, fps float64) float64 {
	if fps > 0 && len(frames) >= 2 {
		var diffs []float64
		for i := 1; i < len(frames); i++ {
			if d := frames[i] - frames[i-1]; d > 0 {
				diffs = append(diffs, float64(d))
			}
		}
		if len(diffs) > 0 {
			return fps / math.Max(1, median(diffs))
		}
	}
	if len(times) >= 2 {
		var dts []float64
		for i := 1; i < len(times); i++ {
			if d := times[i] - times[i-1]; d > 0 {
				dts = append(dts, d)
			}
		}
		if len(dts) > 0 {
			return 1 / median(dts)
		}
	}
	if fps > 0 {
		return fps
	}
	return 1
}
