package analysis

import "math"

const (
	signalHistory       = 3
	signalMinHits       = 2
	redLightMinKmph     = 15.0
	redLightMinDuration = 0.5
)

// TrafficViolation is a red-light window with the fastest speed seen inside it.
type TrafficViolation struct {
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	MaxSpeedKmph float64 `json:"max_speed_kmph"`
	Signal       string  `json:"signal"`
}

type TrafficSummary struct {
	Violations []TrafficViolation `json:"violations"`
	Windows    []TimeRange        `json:"traffic_violation_windows"`
	Violation  bool               `json:"violation"`
}

type SignalSample struct {
	Time    float64
	Signals Signals
}

// DetectTrafficViolations flags windows where a red light is confirmed in at least
// signalMinHits of the last signalHistory samples while the vehicle keeps moving.
func DetectTrafficViolations(samples []SignalSample, speeds []SpeedPoint) TrafficSummary {
	out := TrafficSummary{Violations: []TrafficViolation{}, Windows: []TimeRange{}}
	var (
		history []bool
		open    bool
		start   float64
		peak    float64
	)
	closeAt := func(end float64) {
		if end-start >= redLightMinDuration {
			out.Windows = append(out.Windows, TimeRange{StartTime: round(start, 2), EndTime: round(end, 2)})
			out.Violations = append(out.Violations, TrafficViolation{
				StartTime:    round(start, 2),
				EndTime:      round(end, 2),
				MaxSpeedKmph: round(peak, 2),
				Signal:       "red",
			})
		}
		open = false
	}
	for _, s := range samples {
		history = pushWindow(history, s.Signals.Red > 0, signalHistory)
		hits := 0
		for _, h := range history {
			if h {
				hits++
			}
		}
		speed := speedAt(speeds, s.Time)
		violating := hits >= signalMinHits && speed >= redLightMinKmph
		switch {
		case violating && !open:
			open = true
			start = s.Time
			peak = speed
		case violating:
			peak = math.Max(peak, speed)
		case open:
			closeAt(s.Time)
		}
	}
	if open && len(samples) > 0 {
		closeAt(samples[len(samples)-1].Time)
	}
	out.Violation = len(out.Windows) > 0
	return out
}
