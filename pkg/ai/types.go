package ai

import (
	"context"
	"errors"
)

// ErrMalformedResponse indicates the provider answered but the payload did not
// match the expected score schema. Callers may retry with a reformulated
// request; the transport call itself succeeded.
var ErrMalformedResponse = errors.New("malformed provider response")

// Criterion mirrors one rubric dimension for the provider request.
type Criterion struct {
	Name      string
	MaxPoints float64
}

// GradeInput carries everything the provider needs to score one submission.
// Attempt is greater than zero when the request is a reformulation after a
// malformed response.
type GradeInput struct {
	Text       string
	RubricName string
	Criteria   []Criterion
	Strictness float64
	Attempt    int
}

// CriterionScore is the provider-reported score for a single criterion.
type CriterionScore struct {
	Name      string  `json:"name"`
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"max_points"`
	Feedback  string  `json:"feedback,omitempty"`
}

// RawScore is the unvalidated scoring returned by the provider. Its numbers
// may be internally inconsistent until they pass through validation.
type RawScore struct {
	TotalScore float64                `json:"total_score"`
	MaxScore   float64                `json:"max_score"`
	Criteria   []CriterionScore       `json:"criteria_scores"`
	Feedback   string                 `json:"feedback"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// Grader describes an AI model capable of scoring a submission against a rubric.
type Grader interface {
	Grade(ctx context.Context, input GradeInput) (RawScore, error)
	// Ping verifies the provider is reachable and credentials are usable.
	Ping(ctx context.Context) error
}
