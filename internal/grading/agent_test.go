package grading

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/pkg/ai"
)

// scriptedGrader returns the queued errors one by one, then succeeds with the
// configured score. It records every input it was handed.
type scriptedGrader struct {
	errs   []error
	score  ai.RawScore
	inputs []ai.GradeInput
}

func (g *scriptedGrader) Grade(_ context.Context, input ai.GradeInput) (ai.RawScore, error) {
	g.inputs = append(g.inputs, input)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return ai.RawScore{}, err
		}
	}
	return g.score, nil
}

func (g *scriptedGrader) Ping(context.Context) error { return nil }

func newTestAgent(grader ai.Grader) *Agent {
	controller, _ := newTestController(NewRetryState(), RetryConfig{MaxRetries: 3})
	return NewAgent(grader, controller, testLogger())
}

func malformed(detail string) error {
	return fmt.Errorf("%w: %s", ai.ErrMalformedResponse, detail)
}

func TestAgentReformulatesAfterMalformedResponses(t *testing.T) {
	grader := &scriptedGrader{
		errs: []error{malformed("prose"), malformed("truncated json")},
		score: ai.RawScore{
			TotalScore: 8,
			MaxScore:   10,
			Criteria:   []ai.CriterionScore{{Name: "Correctness", Points: 8, MaxPoints: 10}},
		},
	}

	rubric := models.Rubric{Title: "Quiz", Criteria: []models.Criterion{{Name: "Correctness", MaxPoints: 10}}}
	result, err := newTestAgent(grader).Grade(context.Background(), "answer text", rubric, 0.5)
	require.NoError(t, err)
	require.Equal(t, 8.0, result.TotalScore)

	require.Len(t, grader.inputs, 3)
	for i, input := range grader.inputs {
		require.Equal(t, i, input.Attempt)
	}
}

func TestAgentGivesUpAfterMaxReformulations(t *testing.T) {
	grader := &scriptedGrader{
		errs: []error{malformed("1"), malformed("2"), malformed("3"), malformed("4")},
	}

	rubric := models.Rubric{Title: "Quiz", Criteria: []models.Criterion{{Name: "Correctness", MaxPoints: 10}}}
	_, err := newTestAgent(grader).Grade(context.Background(), "answer text", rubric, 0.5)
	require.ErrorIs(t, err, ErrInvalidResponse)
	require.Len(t, grader.inputs, 3, "one initial attempt plus two reformulations")
}

func TestAgentDoesNotReformulateNonMalformedFailures(t *testing.T) {
	grader := &scriptedGrader{
		errs: []error{
			errors.New("connection reset"),
			errors.New("connection reset"),
			errors.New("connection reset"),
			errors.New("connection reset"),
		},
	}

	rubric := models.Rubric{Title: "Quiz", Criteria: []models.Criterion{{Name: "Correctness", MaxPoints: 10}}}
	_, err := newTestAgent(grader).Grade(context.Background(), "answer text", rubric, 0.5)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidResponse)
	require.Len(t, grader.inputs, 4, "transient failures stay inside the controller budget")

	var classified *ClassifiedError
	require.ErrorAs(t, err, &classified)
	require.Equal(t, ClassTransient, classified.Class)
}
