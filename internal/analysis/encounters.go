package analysis

import "math"

const (
	encounterEMA       = 0.25
	baselineSeconds    = 1.5
	encounterEnterK    = 0.18
	encounterExitK     = 0.10
	encounterDerivMin  = 0.04
	encounterMinBoxH   = 0.14
	encounterMinSec    = 0.2
	encounterMergeSecs = 2.0
)

var bandNames = [3]string{"left", "center", "right"}

// Encounter is one close-proximity event.
type Encounter struct {
	StartTime        float64 `json:"start_time"`
	PeakTime         float64 `json:"peak_time"`
	PeakScore        float64 `json:"peak_score"`
	Where            string  `json:"where"`
	MaxBoxHeightNorm float64 `json:"max_box_height_norm"`
	EndTime          float64 `json:"end_time"`
}

type EncounterSummary struct {
	Encounters []Encounter `json:"close_encounters"`
	EventCount int         `json:"event_count"`
	Note       string      `json:"note,omitempty"`
}

// BandFrame carries the three band readings of one sample.
type BandFrame struct {
	Time  float64
	Bands [3]Band
}

// DetectEncounters runs the fused band score through an adaptive-threshold state machine.
func DetectEncounters(frames []BandFrame, rateHz float64) EncounterSummary {
	baseLen := max(3, int(baselineSeconds*rateHz))
	var (
		bases  [3][]float64
		ema    [3]float64
		events []Encounter
		cur    *Encounter
	)

	for i, f := range frames {
		prevFused := math.Max(ema[0], math.Max(ema[1], ema[2]))
		var boxH [3]float64
		for b := 0; b < 3; b++ {
			boxH[b] = math.Max(f.Bands[b].BoxHeight, 0)
			score := boxH[b] + math.Max(f.Bands[b].Expansion, 0)
			if i == 0 {
				ema[b] = score
			} else {
				ema[b] = encounterEMA*score + (1-encounterEMA)*ema[b]
			}
			bases[b] = pushWindow(bases[b], ema[b], baseLen)
		}

		var medians [3]float64
		for b := 0; b < 3; b++ {
			if len(bases[b]) >= 3 {
				medians[b] = median(bases[b])
			}
		}
		peak := 0
		for b := 1; b < 3; b++ {
			if ema[b] > ema[peak] {
				peak = b
			}
		}
		fused := ema[peak]
		if i == 0 {
			prevFused = fused
		}
		d1 := fused - prevFused
		boxOK := boxH[peak] >= encounterMinBoxH*0.9
		base := median(medians[:])
		enterThr := base + encounterEnterK
		exitThr := base + encounterExitK

		if cur == nil {
			if fused >= enterThr && d1 >= encounterDerivMin && boxOK {
				cur = &Encounter{
					StartTime:        round(f.Time, 2),
					PeakTime:         round(f.Time, 2),
					PeakScore:        round(fused, 3),
					Where:            bandNames[peak],
					MaxBoxHeightNorm: round(boxH[peak], 3),
				}
			}
			continue
		}
		if fused > cur.PeakScore {
			cur.PeakScore = round(fused, 3)
			cur.PeakTime = round(f.Time, 2)
			cur.Where = bandNames[peak]
			cur.MaxBoxHeightNorm = round(boxH[peak], 3)
		}
		if fused <= exitThr {
			cur.EndTime = round(f.Time, 2)
			events = append(events, *cur)
			cur = nil
		}
	}
	if cur != nil {
		cur.EndTime = round(frames[len(frames)-1].Time, 2)
		events = append(events, *cur)
	}

	var kept []Encounter
	for _, e := range events {
		if e.EndTime-e.StartTime >= encounterMinSec {
			kept = append(kept, e)
		}
	}

	merged := []Encounter{}
	for _, e := range kept {
		if n := len(merged); n > 0 && e.StartTime-merged[n-1].EndTime <= encounterMergeSecs {
			last := &merged[n-1]
			if e.PeakScore > last.PeakScore {
				last.PeakScore = e.PeakScore
				last.PeakTime = e.PeakTime
				last.Where = e.Where
				last.MaxBoxHeightNorm = e.MaxBoxHeightNorm
			}
			last.EndTime = e.EndTime
			continue
		}
		merged = append(merged, e)
	}
	return EncounterSummary{Encounters: merged, EventCount: len(merged)}
}
