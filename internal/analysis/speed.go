package analysis

import (
	"math"
	"sort"
)

const (
	minSpeedKmph   = 0.0
	maxSpeedKmph   = 150.0
	timelineWindow = 5
)

// SpeedPoint is one entry of the speed timeline.
type SpeedPoint struct {
	Time float64 `json:"t"`
	Kmph float64 `json:"speed_kmph"`
}

// SampleSpeed converts flow in pixels per sampled step into km/h.
func SampleSpeed(flowPx, metersPerPixel, rateHz float64) float64 {
	return clamp(flowPx*metersPerPixel*rateHz*3.6, minSpeedKmph, maxSpeedKmph)
}

// AverageSpeed is the mean after IQR outlier removal. If the filter drops
// everything the raw mean is used.
func AverageSpeed(speeds []float64) float64 {
	if len(speeds) == 0 {
		return 0
	}
	s := sortedCopy(speeds)
	q1 := percentile(s, 25)
	q3 := percentile(s, 75)
	iqr := q3 - q1
	lower := math.Max(minSpeedKmph, q1-1.5*iqr)
	upper := math.Min(maxSpeedKmph, q3+1.5*iqr)

	kept := make([]float64, 0, len(speeds))
	for _, v := range speeds {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		kept = speeds
	}
	return mean(kept)
}

// SpeedTimeline smooths per-sample speeds with a centered moving average.
func SpeedTimeline(points []SpeedPoint) []SpeedPoint {
	out := make([]SpeedPoint, len(points))
	half := timelineWindow / 2
	for i := range points {
		lo := max(0, i-half)
		hi := min(len(points), i+half+1)
		var sum float64
		for _, p := range points[lo:hi] {
			sum += p.Kmph
		}
		out[i] = SpeedPoint{Time: round(points[i].Time, 2), Kmph: round(sum/float64(hi-lo), 2)}
	}
	return out
}

// speedAt returns the latest speed at or before t, falling back to the first point.
func speedAt(points []SpeedPoint, t float64) float64 {
	if len(points) == 0 {
		return 0
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Time > t })
	if i == 0 {
		return points[0].Kmph
	}
	return points[i-1].Kmph
}
