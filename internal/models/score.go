package models

// CriterionScore is the awarded score for a single rubric criterion.
type CriterionScore struct {
	Name      string  `json:"name"`
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"max_points"`
	Feedback  string  `json:"feedback,omitempty"`
}

// ScoreResult is a full scoring of one submission against a rubric. A
// submission carries two variants: the raw provider output, which may be
// internally inconsistent, and the validated result, which is authoritative.
type ScoreResult struct {
	TotalScore float64          `json:"total_score"`
	MaxScore   float64          `json:"max_score"`
	Criteria   []CriterionScore `json:"criteria_scores"`
	Feedback   string           `json:"feedback,omitempty"`
}

// AccuracyMetrics scores how trustworthy a validated result is. All fields
// are in [0,1].
type AccuracyMetrics struct {
	MathematicalAccuracy float64 `json:"mathematical_accuracy"`
	FeedbackQuality      float64 `json:"feedback_quality"`
	ScoreReasonableness  float64 `json:"score_reasonableness"`
	Confidence           float64 `json:"confidence"`
}

const (
	// ConfidenceHigh indicates the validated result needed little or no correction.
	ConfidenceHigh = "high"
	// ConfidenceMedium indicates the result is usable but worth a second look.
	ConfidenceMedium = "medium"
	// ConfidenceLow indicates the result should be reviewed by a human.
	ConfidenceLow = "low"
)

// Bucket maps the composite confidence value onto a display band.
func (m AccuracyMetrics) Bucket() string {
	switch {
	case m.Confidence >= 0.9:
		return ConfidenceHigh
	case m.Confidence >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
