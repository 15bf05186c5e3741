package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	gradeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gradeflow",
		Subsystem: "ai",
		Name:      "grade_duration_seconds",
		Help:      "Duration of AI grading requests",
	}, []string{"model"})

	gradeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradeflow",
		Subsystem: "ai",
		Name:      "grade_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"model", "kind"})
)

// scoreSchema describes the shape every provider answer must satisfy before
// the result is handed to validation.
var scoreSchema = jsonschema.MustCompileString("score.json", `{
	"type": "object",
	"required": ["total_score", "max_score", "criteria_scores"],
	"properties": {
		"total_score": {"type": "number"},
		"max_score": {"type": "number"},
		"feedback": {"type": "string"},
		"criteria_scores": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "points", "max_points"],
				"properties": {
					"name": {"type": "string"},
					"points": {"type": "number"},
					"max_points": {"type": "number"},
					"feedback": {"type": "string"}
				}
			}
		}
	}
}`)

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIGrader implements Grader against the OpenAI chat completion API.
type OpenAIGrader struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGrader builds a new grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	tracer := otel.Tracer("github.com/noah-isme/gradeflow-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIGrader{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Grade sends one scoring request to OpenAI and parses the response. It makes
// exactly one network call; retry policy lives with the caller.
func (g *OpenAIGrader) Grade(parent context.Context, input GradeInput) (RawScore, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("attempt", input.Attempt),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: graderSystemPrompt(input.Strictness),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildGradingPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	gradeDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		gradeFailures.WithLabelValues(g.cfg.Model, "transport").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RawScore{}, fmt.Errorf("openai grade: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
		gradeFailures.WithLabelValues(g.cfg.Model, "malformed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RawScore{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	score, err := parseScoreResponse(content)
	if err != nil {
		gradeFailures.WithLabelValues(g.cfg.Model, "malformed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RawScore{}, err
	}

	score.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	return score, nil
}

// Ping issues a lightweight request to confirm the provider is reachable and
// the API key is accepted.
func (g *OpenAIGrader) Ping(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

func graderSystemPrompt(strictness float64) string {
	return fmt.Sprintf("You are an automated grader scoring a student submission against a rubric. "+
		"Grade with strictness %.2f on a scale where 0 is lenient and 1 is maximally strict. "+
		"Respond with a JSON object containing total_score, max_score, feedback, and criteria_scores: "+
		"an array of {name, points, max_points, feedback}, one entry per rubric criterion in order. "+
		"Cite concrete evidence from the submission in every feedback string.", strictness)
}

func buildGradingPrompt(input GradeInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Rubric: ")
	builder.WriteString(input.RubricName)
	builder.WriteString("\n")
	for _, c := range input.Criteria {
		builder.WriteString(fmt.Sprintf("- %s (max %.1f points)\n", c.Name, c.MaxPoints))
	}
	builder.WriteString("\n# Submission\n")
	builder.WriteString(input.Text)
	if input.Attempt > 0 {
		builder.WriteString("\n\nYour previous answer was not valid JSON in the requested shape. ")
		builder.WriteString("Return ONLY a single JSON object with total_score, max_score, feedback and criteria_scores. No prose.")
	} else {
		builder.WriteString("\nReturn JSON.")
	}
	return builder.String()
}

func parseScoreResponse(content string) (RawScore, error) {
	var payload interface{}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return RawScore{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := scoreSchema.Validate(payload); err != nil {
		return RawScore{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var score RawScore
	if err := json.Unmarshal([]byte(content), &score); err != nil {
		return RawScore{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return score, nil
}
