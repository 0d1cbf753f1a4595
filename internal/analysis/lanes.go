package analysis

import "math"

const (
	laneEMA         = 0.12
	laneEnter       = 0.50
	laneExit        = 0.30
	laneMinSeconds  = 1.0
	laneMinCoverage = 0.10
	laneDominance   = 1.2
	laneMinU        = 0.8
)

// LaneScore is the signed lateral-dominance score of one flow sample, 0 when
// motion is sparse, mostly vertical or weak.
func LaneScore(l Lateral) float64 {
	absU := math.Abs(l.MeanU)
	absV := math.Abs(l.MeanV)
	if l.Coverage > laneMinCoverage && absU > absV*laneDominance && absU > laneMinU {
		return l.MeanU / (absV + 1e-6)
	}
	return 0
}

// CountLaneChanges smooths lane scores and counts sustained lateral drifts.
// Positive drift is a change to the right.
func CountLaneChanges(samples []Lateral, rateHz float64) TurnSummary {
	var (
		out     TurnSummary
		ema     float64
		turning bool
		dir     int
		frames  int
	)
	if rateHz <= 0 {
		return out
	}
	finish := func() {
		if float64(frames)/rateHz >= laneMinSeconds {
			out.add(dir > 0)
		}
		turning = false
		dir = 0
		frames = 0
	}
	for _, s := range samples {
		ema = laneEMA*LaneScore(s) + (1-laneEMA)*ema
		absEMA := math.Abs(ema)
		dirNow := 1
		if ema < 0 {
			dirNow = -1
		}
		if !turning {
			if absEMA >= laneEnter {
				turning = true
				dir = dirNow
				frames = 1
			}
			continue
		}
		if absEMA >= laneExit && dirNow == dir {
			frames++
		} else {
			finish()
		}
	}
	if turning {
		finish()
	}
	return out
}
