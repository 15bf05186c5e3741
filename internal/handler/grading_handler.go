package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/dto"
	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/lms"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/internal/utils"
)

// GradingHandler exposes the job control surface: start, cancel, status, report.
type GradingHandler struct {
	coordinator *grading.Coordinator
	source      lms.Source
	repo        repository.JobRepository
	cache       *repository.ReportCache
	validator   *validator.Validate
	strictness  float64
	logger      zerolog.Logger
}

// NewGradingHandler builds the grading handler.
func NewGradingHandler(coordinator *grading.Coordinator, source lms.Source, repo repository.JobRepository, cache *repository.ReportCache, validate *validator.Validate, defaultStrictness float64, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		coordinator: coordinator,
		source:      source,
		repo:        repo,
		cache:       cache,
		validator:   validate,
		strictness:  defaultStrictness,
		logger:      logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("", h.start)
	router.Post("/:id/cancel", h.cancel)
	router.Get("/:id", h.status)
	router.Get("/:id/report", h.report)
}

func (h *GradingHandler) start(c *fiber.Ctx) error {
	var payload dto.StartJobRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.source.Snapshot(c.Context(), payload.CourseID, payload.AssignmentID, payload.StudentIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("lms snapshot failed")
		return utils.SendError(c, fiber.StatusBadGateway, "failed to read submissions from the lms")
	}

	strictness := h.strictness
	if payload.Strictness != nil {
		strictness = *payload.Strictness
	}

	jobID, err := h.coordinator.StartJob(c.Context(), submissions, payload.Rubric(), strictness)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "job started", dto.StartJobResponse{JobID: jobID})
}

func (h *GradingHandler) cancel(c *fiber.Ctx) error {
	if err := h.coordinator.CancelJob(c.Params("id")); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "cancellation requested", nil)
}

func (h *GradingHandler) status(c *fiber.Ctx) error {
	status, err := h.coordinator.Status(c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "job status", dto.JobStatusResponse{
		JobID:          status.JobID,
		State:          string(status.State),
		CompletedCount: status.CompletedCount,
		TotalCount:     status.TotalCount,
	})
}

// report serves the aggregate report: live coordinator first, then the cache,
// then the persisted row for jobs finished before a restart.
func (h *GradingHandler) report(c *fiber.Ctx) error {
	jobID := c.Params("id")

	report, err := h.coordinator.Report(jobID)
	if err == nil {
		if h.cache != nil {
			if cacheErr := h.cache.Set(c.Context(), report); cacheErr != nil {
				h.logger.Warn().Err(cacheErr).Str("job_id", jobID).Msg("failed to cache report")
			}
		}
		return utils.SendSuccess(c, "job report", report)
	}
	if errors.Is(err, grading.ErrJobNotTerminal) {
		return utils.SendError(c, fiber.StatusConflict, "job is still running")
	}
	if !errors.Is(err, grading.ErrJobNotFound) {
		return h.handleError(c, err)
	}

	if h.cache != nil {
		if cached, cacheErr := h.cache.Get(c.Context(), jobID); cacheErr == nil {
			return utils.SendSuccess(c, "job report", cached)
		}
	}

	if h.repo != nil {
		stored, repoErr := h.repo.GetReport(c.Context(), jobID)
		if repoErr == nil {
			return utils.SendSuccess(c, "job report", stored)
		}
		if !errors.Is(repoErr, repository.ErrReportNotFound) {
			return h.handleError(c, repoErr)
		}
	}

	return utils.SendError(c, fiber.StatusNotFound, "job not found")
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, grading.ErrJobNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "job not found")
	case errors.Is(err, grading.ErrNoSubmissions):
		return utils.SendError(c, fiber.StatusBadRequest, "no submissions selected")
	case errors.Is(err, grading.ErrInvalidRubric):
		return utils.SendError(c, fiber.StatusBadRequest, "invalid rubric")
	default:
		h.logger.Error().Err(err).Msg("grading request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
