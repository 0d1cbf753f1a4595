package analysis

// Meta describes the clip a feature stream was extracted from.
type Meta struct {
	Filename        string  `json:"filename"`
	FPS             float64 `json:"fps"`
	FrameCount      int     `json:"frame_count"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Band holds the proximity features of one horizontal band (left, center, right).
type Band struct {
	BoxHeight float64 `json:"box_h"`
	Expansion float64 `json:"expansion"`
}

// Lateral summarises strong optical flow in the lane-change ROI.
type Lateral struct {
	Coverage float64 `json:"coverage"`
	MeanU    float64 `json:"mean_u"`
	MeanV    float64 `json:"mean_v"`
}

// Signals counts traffic-light detections by color.
type Signals struct {
	Red   int `json:"red"`
	Amber int `json:"amber"`
	Green int `json:"green"`
}

// Sample is one processed frame. Each feature is optional because the extractor
// samples them at different rates.
type Sample struct {
	Frame       int      `json:"frame"`
	Time        float64  `json:"t"`
	FlowPx      *float64 `json:"flow_px,omitempty"`
	SpeedKmph   *float64 `json:"speed_kmph,omitempty"`
	Bands       []Band   `json:"bands,omitempty"`
	RotationDeg *float64 `json:"rotation_deg,omitempty"`
	Lateral     *Lateral `json:"lateral,omitempty"`
	RedCoverage *float64 `json:"red_coverage,omitempty"`
	Signals     *Signals `json:"signals,omitempty"`
}
