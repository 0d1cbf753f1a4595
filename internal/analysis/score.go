package analysis

import "math"

// Metrics are the four counts a driving score is computed from.
type Metrics struct {
	CloseEncounters   int `json:"close_encounters"`
	TrafficViolations int `json:"traffic_violations"`
	BusLaneViolations int `json:"bus_lane_violations"`
	LaneChanges       int `json:"lane_changes"`
}

// Scores are the rounded component scores in [0, 100].
type Scores struct {
	Overall    int `json:"overall_score"`
	Safety     int `json:"safety_score"`
	Compliance int `json:"compliance_score"`
	Efficiency int `json:"efficiency_score"`
}

const (
	safetyWeight     = 0.5
	complianceWeight = 0.3
	efficiencyWeight = 0.2
)

// CalculateScore applies the penalty formulas. The overall score is weighted
// over the unrounded components and every value is rounded half to even.
func CalculateScore(m Metrics) Scores {
	safety := math.Max(0, 100-8*float64(m.CloseEncounters))
	compliance := math.Max(0, 100-40*float64(m.TrafficViolations)-30*float64(m.BusLaneViolations))
	efficiency := math.Max(0, 100-0.5*float64(m.LaneChanges))
	overall := safetyWeight*safety + complianceWeight*compliance + efficiencyWeight*efficiency
	return Scores{
		Overall:    roundInt(overall),
		Safety:     roundInt(safety),
		Compliance: roundInt(compliance),
		Efficiency: roundInt(efficiency),
	}
}

type Category struct {
	Name        string
	Description string
	Color       string
}

// Score categories.
const (
	CategoryExcellent        = "Excellent"
	CategoryGood             = "Good"
	CategoryNeedsImprovement = "Needs Improvement"
)

func CategoryFor(overall int) Category {
	switch {
	case overall >= 90:
		return Category{CategoryExcellent, "Outstanding performance exceeding safety standards", "green"}
	case overall >= 75:
		return Category{CategoryGood, "Good performance with minor improvement opportunities", "amber"}
	default:
		return Category{CategoryNeedsImprovement, "Performance requires attention and safety improvements", "red"}
	}
}

// DrivingScores is the driving_scores block of a result document.
type DrivingScores struct {
	Scores
	Category            string  `json:"category"`
	CategoryDescription string  `json:"category_description"`
	CategoryColor       string  `json:"category_color"`
	MetricsUsed         Metrics `json:"metrics_used"`
}

// Score builds the full driving_scores block for m.
func Score(m Metrics) DrivingScores {
	s := CalculateScore(m)
	c := CategoryFor(s.Overall)
	return DrivingScores{
		Scores:              s,
		Category:            c.Name,
		CategoryDescription: c.Description,
		CategoryColor:       c.Color,
		MetricsUsed:         m,
	}
}
