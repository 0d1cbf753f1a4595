package analysis

import (
	"encoding/json"
	"fmt"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type VideoMetadata struct {
	DurationSeconds float64    `json:"duration_seconds"`
	FPS             float64    `json:"fps"`
	FrameCount      int        `json:"frame_count"`
	Resolution      Resolution `json:"resolution"`
}

// Result is the per-video analysis document.
type Result struct {
	VideoFilename    string           `json:"video_filename"`
	VideoMetadata    VideoMetadata    `json:"video_metadata"`
	AverageSpeedKmph float64          `json:"average_speed_kmph"`
	SafetyViolation  int              `json:"safety_violation"`
	TrafficSignals   TrafficSummary   `json:"traffic_signal_summary"`
	CloseEncounters  EncounterSummary `json:"close_encounters"`
	Turns            TurnSummary      `json:"turn_changes_orb"`
	LaneChanges      TurnSummary      `json:"lane_change_count"`
	BusLane          BusLaneSummary   `json:"illegal_way_bus_lane"`
	DrivingScores    DrivingScores    `json:"driving_scores"`
	SpeedTimeline    []SpeedPoint     `json:"speed_timeline,omitempty"`
}

// Metrics extracts the scoring inputs from r.
func (r *Result) Metrics() Metrics {
	m := Metrics{
		CloseEncounters: r.CloseEncounters.EventCount,
		LaneChanges:     r.LaneChanges.TurnCount,
	}
	if r.TrafficSignals.Violation {
		m.TrafficViolations = 1
	}
	if r.BusLane.ViolationDetected {
		m.BusLaneViolations = 1
	}
	return m
}

// Rescore recomputes the derived fields from the detector summaries.
// SafetyViolation counts violation kinds: a red-light window and a bus lane range
// each add one.
func (r *Result) Rescore() {
	r.SafetyViolation = btoi(len(r.TrafficSignals.Windows) > 0) + btoi(len(r.BusLane.ViolationRanges) > 0)
	r.DrivingScores = Score(r.Metrics())
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DecodeResult parses a result document produced elsewhere and rescores it.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if r.TrafficSignals.Violations == nil {
		r.TrafficSignals.Violations = []TrafficViolation{}
	}
	if r.TrafficSignals.Windows == nil {
		r.TrafficSignals.Windows = []TimeRange{}
	}
	if r.BusLane.ViolationRanges == nil {
		r.BusLane.ViolationRanges = []TimeRange{}
	}
	if r.CloseEncounters.Encounters == nil {
		r.CloseEncounters.Encounters = []Encounter{}
	}
	if r.CloseEncounters.EventCount == 0 {
		r.CloseEncounters.EventCount = len(r.CloseEncounters.Encounters)
	}
	r.Rescore()
	return r, nil
}
