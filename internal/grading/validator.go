package grading

import (
	"math"
	"strings"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// totalTolerance is the largest gap between the provider-reported total and
// the recomputed criteria sum that counts as agreement.
const totalTolerance = 0.05

// evidenceMarkers are cheap signals that feedback cites something concrete
// from the submission rather than boilerplate.
var evidenceMarkers = []string{
	"because",
	"for example",
	"specifically",
	"line",
	"section",
	"page",
	`"`,
}

// Validate corrects a raw provider score against the rubric and scores how
// trustworthy the corrected result is. It is pure and idempotent: running it
// on its own output returns an identical score with no further correction.
func Validate(raw models.ScoreResult, rubric models.Rubric) (models.ScoreResult, models.AccuracyMetrics) {
	maxTotal := rubric.MaxTotalPoints()

	correction := 0.0
	criteria := make([]models.CriterionScore, len(rubric.Criteria))
	for i, criterion := range rubric.Criteria {
		points := 0.0
		feedback := ""
		if i < len(raw.Criteria) {
			points = raw.Criteria[i].Points
			feedback = raw.Criteria[i].Feedback
		}

		clamped := clamp(points, 0, criterion.MaxPoints)
		correction += math.Abs(clamped - points)

		criteria[i] = models.CriterionScore{
			Name:      criterion.Name,
			Points:    round1(clamped),
			MaxPoints: criterion.MaxPoints,
			Feedback:  feedback,
		}
	}

	recomputed := 0.0
	for _, c := range criteria {
		recomputed += c.Points
	}
	recomputed = round1(recomputed)

	if math.Abs(recomputed-raw.TotalScore) > totalTolerance {
		correction += math.Abs(recomputed - raw.TotalScore)
	}

	validated := models.ScoreResult{
		TotalScore: recomputed,
		MaxScore:   maxTotal,
		Criteria:   criteria,
		Feedback:   raw.Feedback,
	}

	accuracy := 1.0
	if maxTotal > 0 {
		accuracy = 1 - math.Min(1, correction/maxTotal)
	}

	metrics := models.AccuracyMetrics{
		MathematicalAccuracy: accuracy,
		FeedbackQuality:      feedbackQuality(validated),
		ScoreReasonableness:  scoreReasonableness(validated),
	}
	metrics.Confidence = clamp(0.4*metrics.MathematicalAccuracy+0.3*metrics.FeedbackQuality+0.3*metrics.ScoreReasonableness, 0, 1)

	return validated, metrics
}

// feedbackQuality scores feedback text on length and presence of concrete
// evidence markers. Deterministic over the validated result alone.
func feedbackQuality(result models.ScoreResult) float64 {
	builder := strings.Builder{}
	builder.WriteString(result.Feedback)
	for _, c := range result.Criteria {
		builder.WriteString(" ")
		builder.WriteString(c.Feedback)
	}
	text := strings.ToLower(strings.TrimSpace(builder.String()))
	if text == "" {
		return 0
	}

	lengthScore := math.Min(1, float64(len(text))/400)

	markers := 0
	for _, marker := range evidenceMarkers {
		if strings.Contains(text, marker) {
			markers++
		}
	}
	evidenceScore := math.Min(1, float64(markers)/3)

	return clamp(0.6*lengthScore+0.4*evidenceScore, 0, 1)
}

// scoreReasonableness measures whether the total sits in a plausible band
// given the criteria-level scores: wildly uneven per-criterion ratios lower it.
func scoreReasonableness(result models.ScoreResult) float64 {
	if len(result.Criteria) == 0 || result.MaxScore <= 0 {
		return 0
	}

	ratios := make([]float64, 0, len(result.Criteria))
	for _, c := range result.Criteria {
		if c.MaxPoints <= 0 {
			continue
		}
		ratios = append(ratios, c.Points/c.MaxPoints)
	}
	if len(ratios) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range ratios {
		mean += r
	}
	mean /= float64(len(ratios))

	deviation := 0.0
	for _, r := range ratios {
		deviation += math.Abs(r - mean)
	}
	deviation /= float64(len(ratios))

	return clamp(1-2*deviation, 0, 1)
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
