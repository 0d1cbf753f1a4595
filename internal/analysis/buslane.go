package analysis

const (
	busMinRedCoverage = 0.12
	busBufferFrames   = 12
	busMinSeconds     = 1.0
)

type TimeRange struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type BusLaneSummary struct {
	ViolationDetected bool        `json:"violation_detected"`
	ViolationRanges   []TimeRange `json:"violation_ranges"`
}

// CoverageSample is the red-paint coverage of the lane ROI in one frame.
type CoverageSample struct {
	Time     float64
	Coverage float64
}

// DetectBusLane reports ranges where the vehicle drives on red-painted lane markings.
// A range opens when the last busBufferFrames frames all qualify and closes when none do.
func DetectBusLane(samples []CoverageSample) BusLaneSummary {
	var (
		buffer []bool
		active bool
		ranges []TimeRange
	)
	for _, s := range samples {
		buffer = pushWindow(buffer, s.Coverage >= busMinRedCoverage, busBufferFrames)
		full := len(buffer) == busBufferFrames
		if !active && full && allTrue(buffer) {
			ranges = append(ranges, TimeRange{StartTime: s.Time, EndTime: -1})
			active = true
		}
		if active && full && !anyTrue(buffer) {
			ranges[len(ranges)-1].EndTime = s.Time
			active = false
		}
	}
	if active && len(samples) > 0 {
		ranges[len(ranges)-1].EndTime = samples[len(samples)-1].Time
	}

	out := BusLaneSummary{ViolationRanges: []TimeRange{}}
	for _, r := range ranges {
		if r.EndTime >= 0 && r.EndTime-r.StartTime >= busMinSeconds {
			out.ViolationRanges = append(out.ViolationRanges, TimeRange{StartTime: round(r.StartTime, 2), EndTime: round(r.EndTime, 2)})
		}
	}
	out.ViolationDetected = len(out.ViolationRanges) > 0
	return out
}
