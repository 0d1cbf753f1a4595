package analysis

import "math"

const (
	turnOmegaDPS      = 8.0
	turnAngleDeg      = 25.0
	turnSmoothWindow  = 5
	turnArmSamples    = 6
	turnReleaseSample = 6
	turnMinSeconds    = 0.7
)

// TurnSummary counts directional events; lane changes reuse the same shape.
type TurnSummary struct {
	TurnCount int `json:"turn_count"`
	Left      int `json:"left"`
	Right     int `json:"right"`
}

func (s *TurnSummary) add(right bool) {
	s.TurnCount++
	if right {
		s.Right++
	} else {
		s.Left++
	}
}

// RotationSample is the frame-to-frame rotation estimated from feature matches.
type RotationSample struct {
	Time     float64
	AngleDeg float64
}

func medianFilter(x []float64, k int) []float64 {
	if k <= 1 {
		return append([]float64(nil), x...)
	}
	r := k / 2
	y := make([]float64, len(x))
	for i := range x {
		y[i] = median(x[max(0, i-r):min(len(x), i+r+1)])
	}
	return y
}

// CountTurns detects sustained yaw from per-sample rotation angles.
func CountTurns(samples []RotationSample, rateHz float64) TurnSummary {
	var out TurnSummary
	if len(samples) < 3 || rateHz <= 0 {
		return out
	}
	omega := make([]float64, len(samples))
	for i, s := range samples {
		omega[i] = s.AngleDeg * rateHz
	}
	smooth := medianFilter(omega, turnSmoothWindow)
	heading := make([]float64, len(smooth))
	var acc float64
	for i, w := range smooth {
		acc += w / rateHz
		heading[i] = acc
	}

	var (
		turning      bool
		arm, release []bool
		startIdx     int
		startHeading float64
		right        bool
	)
	for i, w := range smooth {
		turningNow := math.Abs(w) >= turnOmegaDPS
		arm = pushWindow(arm, turningNow, turnArmSamples)
		if !turning {
			if len(arm) == turnArmSamples && allTrue(arm) {
				startIdx = i - turnArmSamples + 1
				right = median(smooth[startIdx:i+1]) >= 0
				startHeading = heading[startIdx]
				turning = true
				release = release[:0]
			}
			continue
		}
		sameDir := right == (w >= 0)
		release = pushWindow(release, !turningNow || !sameDir, turnReleaseSample)
		delta := heading[i] - startHeading
		if !right {
			delta = -delta
		}
		longEnough := samples[i].Time-samples[startIdx].Time >= turnMinSeconds
		if (len(release) == turnReleaseSample && allTrue(release)) || (delta >= turnAngleDeg && longEnough) {
			out.add(right)
			turning = false
			arm = arm[:0]
			release = release[:0]
		}
	}
	return out
}
