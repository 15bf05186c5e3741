package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gradeflow-api/internal/extract"
	"github.com/noah-isme/gradeflow-api/internal/models"
)

// fileSeparator joins the extracted text of a multi-file submission.
const fileSeparator = "\n\n--- %s ---\n\n"

// Pipeline drives a single submission through extraction, grading and
// validation. Stages run sequentially within the submission; many pipelines
// run concurrently under the coordinator.
type Pipeline struct {
	extractor extract.Client
	agent     *Agent
	logger    zerolog.Logger
	tracer    trace.Tracer

	// onTransition, when set, observes every status change. Used by the
	// coordinator to stream progress events while grading runs.
	onTransition func(sub *models.Submission)
}

// NewPipeline constructs a submission pipeline.
func NewPipeline(extractor extract.Client, agent *Agent, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		agent:     agent,
		logger:    logger.With().Str("component", "submission_pipeline").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gradeflow-api/internal/grading/pipeline"),
	}
}

// OnTransition registers a status-change observer. Must be called before Run.
func (p *Pipeline) OnTransition(fn func(sub *models.Submission)) {
	p.onTransition = fn
}

// Run moves the submission to a terminal status. The submission is owned by
// this call until it returns; afterwards it is immutable.
func (p *Pipeline) Run(ctx context.Context, sub *models.Submission, rubric models.Rubric, strictness float64) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("student_id", sub.StudentID),
	))
	defer span.End()

	logger := p.logger.With().Str("student_id", sub.StudentID).Logger()

	// Declared short-circuit statuses never enter grading.
	switch sub.Declared {
	case models.DeclaredNotSubmitted:
		p.transition(sub, models.SubmissionStatusNotSubmitted, "student did not submit")
		return
	case models.DeclaredPreviouslyGraded:
		p.transition(sub, models.SubmissionStatusPreviouslyGraded, "a grade already exists")
		return
	case models.DeclaredNoFiles:
		p.transition(sub, models.SubmissionStatusNoFiles, "submission has no files")
		return
	}

	if p.cancelled(ctx, sub) {
		return
	}

	if len(sub.Files) == 0 {
		p.transition(sub, models.SubmissionStatusNoFiles, "submission has no files")
		return
	}

	p.transition(sub, models.SubmissionStatusExtracting, "")
	text, readable, err := p.extractAll(ctx, sub, logger)
	if err != nil {
		if p.cancelled(ctx, sub) {
			return
		}
		p.transition(sub, models.SubmissionStatusFailed, err.Error())
		return
	}
	if readable == 0 {
		p.transition(sub, models.SubmissionStatusNoReadableFiles, "no file could be extracted")
		return
	}
	sub.ExtractedText = text

	if p.cancelled(ctx, sub) {
		return
	}

	p.transition(sub, models.SubmissionStatusGrading, "")
	raw, err := p.agent.Grade(ctx, sub.ExtractedText, rubric, strictness)
	if err != nil {
		logger.Warn().Err(err).Msg("grading failed")
		p.transition(sub, models.SubmissionStatusFailed, gradeFailureReason(err))
		return
	}
	sub.RawResult = &raw

	if p.cancelled(ctx, sub) {
		return
	}

	p.transition(sub, models.SubmissionStatusValidating, "")
	validated, metrics := Validate(raw, rubric)
	if metrics.MathematicalAccuracy < 1 {
		logger.Info().
			Float64("mathematical_accuracy", metrics.MathematicalAccuracy).
			Float64("total_score", validated.TotalScore).
			Msg("validator corrected provider result")
	}
	sub.ValidatedResult = &validated
	sub.Accuracy = &metrics

	if p.cancelled(ctx, sub) {
		return
	}

	p.transition(sub, models.SubmissionStatusDone, "")
}

// extractAll runs extraction per file and concatenates the readable ones with
// per-file separators. A per-file failure only skips that file.
func (p *Pipeline) extractAll(ctx context.Context, sub *models.Submission, logger zerolog.Logger) (string, int, error) {
	builder := strings.Builder{}
	readable := 0

	for _, file := range sub.Files {
		if err := ctx.Err(); err != nil {
			return "", readable, err
		}

		text, err := p.extractor.ExtractText(ctx, file)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupportedFormat) || errors.Is(err, extract.ErrExtraction) {
				logger.Warn().Err(err).Str("file", file.Name).Msg("file skipped")
				continue
			}
			return "", readable, err
		}

		if readable > 0 {
			builder.WriteString(fmt.Sprintf(fileSeparator, file.Name))
		}
		builder.WriteString(text)
		readable++
	}

	return builder.String(), readable, nil
}

// cancelled checks the job-scoped cancellation token at a stage boundary.
func (p *Pipeline) cancelled(ctx context.Context, sub *models.Submission) bool {
	if ctx.Err() == nil {
		return false
	}

	p.transition(sub, models.SubmissionStatusFailed, "cancelled")
	return true
}

func (p *Pipeline) transition(sub *models.Submission, status models.SubmissionStatus, reason string) {
	sub.Status = status
	if reason != "" {
		sub.Reason = reason
	}
	if p.onTransition != nil {
		p.onTransition(sub)
	}
}

func gradeFailureReason(err error) string {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		if errors.Is(classified.Err, ErrProviderExhausted) {
			return "provider exhausted"
		}
		return fmt.Sprintf("grading failed (%s)", classified.Class)
	}
	if errors.Is(err, ErrInvalidResponse) {
		return "provider kept returning unusable responses"
	}
	return err.Error()
}
