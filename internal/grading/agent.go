package grading

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/pkg/ai"
)

// maxReformulations bounds how many times the agent rephrases the request
// after a malformed provider answer, on top of the controller's own retries.
const maxReformulations = 2

// ErrInvalidResponse indicates the provider kept answering outside the score
// schema even after reformulated requests.
var ErrInvalidResponse = errors.New("provider returned an unusable response")

// Agent invokes the AI grading provider for one submission's text. It holds
// no per-submission state; the only mutation it causes is on the shared
// RetryState, indirectly through the controller.
type Agent struct {
	grader ai.Grader
	retry  *RetryController
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewAgent constructs a grading agent on top of the given provider and controller.
func NewAgent(grader ai.Grader, retry *RetryController, logger zerolog.Logger) *Agent {
	return &Agent{
		grader: grader,
		retry:  retry,
		logger: logger.With().Str("component", "grading_agent").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gradeflow-api/internal/grading/agent"),
	}
}

// Grade scores text against the rubric at the given strictness. Transport
// failures are retried by the controller; malformed answers are retried here
// with a reformulated request before surfacing ErrInvalidResponse.
func (a *Agent) Grade(parent context.Context, text string, rubric models.Rubric, strictness float64) (models.ScoreResult, error) {
	ctx, span := a.tracer.Start(parent, "agent.grade", trace.WithAttributes(
		attribute.String("rubric", rubric.Title),
		attribute.Float64("strictness", strictness),
	))
	defer span.End()

	criteria := make([]ai.Criterion, 0, len(rubric.Criteria))
	for _, c := range rubric.Criteria {
		criteria = append(criteria, ai.Criterion{Name: c.Name, MaxPoints: c.MaxPoints})
	}

	var lastErr error
	for attempt := 0; attempt <= maxReformulations; attempt++ {
		input := ai.GradeInput{
			Text:       text,
			RubricName: rubric.Title,
			Criteria:   criteria,
			Strictness: strictness,
			Attempt:    attempt,
		}

		var raw ai.RawScore
		err := a.retry.Call(ctx, func(ctx context.Context) error {
			score, err := a.grader.Grade(ctx, input)
			if err == nil {
				raw = score
			}
			return err
		})
		if err == nil {
			return convertRawScore(raw), nil
		}

		lastErr = err

		var classified *ClassifiedError
		if errors.As(err, &classified) && classified.Class == ClassMalformed {
			a.logger.Warn().Int("attempt", attempt).Msg("malformed provider response, reformulating")
			continue
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ScoreResult{}, err
	}

	err := fmt.Errorf("%w: %v", ErrInvalidResponse, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return models.ScoreResult{}, err
}

func convertRawScore(raw ai.RawScore) models.ScoreResult {
	criteria := make([]models.CriterionScore, 0, len(raw.Criteria))
	for _, c := range raw.Criteria {
		criteria = append(criteria, models.CriterionScore{
			Name:      c.Name,
			Points:    c.Points,
			MaxPoints: c.MaxPoints,
			Feedback:  c.Feedback,
		})
	}

	return models.ScoreResult{
		TotalScore: raw.TotalScore,
		MaxScore:   raw.MaxScore,
		Criteria:   criteria,
		Feedback:   raw.Feedback,
	}
}
