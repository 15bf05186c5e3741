package grading

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ErrJobNotFound indicates no job with the given id is registered.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotTerminal indicates the report was requested before the job finished.
var ErrJobNotTerminal = errors.New("job is still running")

// ErrNoSubmissions indicates the job request selected nobody.
var ErrNoSubmissions = errors.New("no submissions selected")

// ErrInvalidRubric indicates the rubric cannot be graded against.
var ErrInvalidRubric = errors.New("invalid rubric")

// JobStore persists job lifecycle rows and the final report. A nil store is
// tolerated; the coordinator then keeps results in memory only.
type JobStore interface {
	CreateJob(ctx context.Context, record *models.JobRecord) error
	FinalizeJob(ctx context.Context, record *models.JobRecord, rows []models.SubmissionRow) error
}

// EventSink receives job and submission progress notifications.
type EventSink interface {
	SubmissionChanged(jobID string, sub *models.Submission)
	JobFinished(job *models.Job)
}

// CoordinatorConfig tunes the per-job worker pool and reporting.
type CoordinatorConfig struct {
	Concurrency      int
	PassingThreshold float64
	BreakerThreshold int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PassingThreshold <= 0 {
		c.PassingThreshold = 0.6
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	return c
}

// jobHandle retains a live grip on a started job so cancel and status always
// operate on the real thing instead of assuming completion.
type jobHandle struct {
	job       *models.Job
	cancel    context.CancelFunc
	done      chan struct{}
	completed atomic.Int64
	cancelled atomic.Bool
	report    *models.Report
}

// Coordinator owns the bounded worker pool that runs submission pipelines for
// grading jobs, and the table of live job handles.
type Coordinator struct {
	mu       sync.Mutex
	jobs     map[string]*jobHandle
	pipeline *Pipeline
	state    *RetryState
	store    JobStore
	events   EventSink
	cfg      CoordinatorConfig
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewCoordinator constructs a job coordinator. The retry state must be the
// same instance the pipeline's agent uses, so breaker trips stop dispatch.
func NewCoordinator(pipeline *Pipeline, state *RetryState, store JobStore, events EventSink, cfg CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	if state == nil {
		state = NewRetryState()
	}

	c := &Coordinator{
		jobs:     make(map[string]*jobHandle),
		pipeline: pipeline,
		state:    state,
		store:    store,
		events:   events,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "job_coordinator").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gradeflow-api/internal/grading/coordinator"),
		now:      time.Now,
	}
	if events != nil {
		pipeline.OnTransition(c.publishTransition)
	}
	return c
}

// StartJob registers a new grading job over the snapshot of submissions and
// kicks off its worker pool. It returns the job id immediately; progress is
// observed through Status and Report.
func (c *Coordinator) StartJob(ctx context.Context, submissions []*models.Submission, rubric models.Rubric, strictness float64) (string, error) {
	if len(submissions) == 0 {
		return "", ErrNoSubmissions
	}
	if len(rubric.Criteria) == 0 || rubric.MaxTotalPoints() <= 0 {
		return "", ErrInvalidRubric
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Rubric:      rubric,
		Strictness:  strictness,
		Submissions: submissions,
		Status:      models.JobStatusRunning,
		CreatedAt:   c.now(),
	}
	for _, sub := range submissions {
		sub.JobID = job.ID
		sub.Status = models.SubmissionStatusPending
	}

	// The job context is detached from the request: jobs outlive the HTTP
	// call that started them and end only via completion or CancelJob.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	handle := &jobHandle{
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.jobs[job.ID] = handle
	c.mu.Unlock()

	if c.store != nil {
		record := &models.JobRecord{
			ID:          job.ID,
			Status:      string(job.Status),
			RubricTitle: rubric.Title,
			TotalCount:  len(submissions),
			CreatedAt:   job.CreatedAt,
		}
		if err := c.store.CreateJob(ctx, record); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist job row")
		}
	}

	go c.run(jobCtx, handle)

	return job.ID, nil
}

// CancelJob requests cancellation of a running job. In-flight provider calls
// are allowed to finish; no further stage starts.
func (c *Coordinator) CancelJob(jobID string) error {
	handle, err := c.handle(jobID)
	if err != nil {
		return err
	}

	handle.cancelled.Store(true)
	handle.cancel()
	return nil
}

// JobStatus is the progress snapshot returned by Status.
type JobStatus struct {
	JobID          string           `json:"job_id"`
	State          models.JobStatus `json:"state"`
	CompletedCount int              `json:"completed_count"`
	TotalCount     int              `json:"total_count"`
}

// Status reports the job's state and completion counts.
func (c *Coordinator) Status(jobID string) (JobStatus, error) {
	handle, err := c.handle(jobID)
	if err != nil {
		return JobStatus{}, err
	}

	c.mu.Lock()
	state := handle.job.Status
	total := len(handle.job.Submissions)
	c.mu.Unlock()

	return JobStatus{
		JobID:          jobID,
		State:          state,
		CompletedCount: int(handle.completed.Load()),
		TotalCount:     total,
	}, nil
}

// Report returns the aggregate report. Available only once the job is terminal.
func (c *Coordinator) Report(jobID string) (models.Report, error) {
	handle, err := c.handle(jobID)
	if err != nil {
		return models.Report{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if handle.report == nil {
		return models.Report{}, ErrJobNotTerminal
	}
	return *handle.report, nil
}

// Wait blocks until the job reaches a terminal state. Intended for tests and
// graceful shutdown.
func (c *Coordinator) Wait(jobID string) error {
	handle, err := c.handle(jobID)
	if err != nil {
		return err
	}
	<-handle.done
	return nil
}

// Drain blocks until every registered job reaches a terminal state or the
// context expires. Used during graceful shutdown.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	handles := make([]*jobHandle, 0, len(c.jobs))
	for _, handle := range c.jobs {
		handles = append(handles, handle)
	}
	c.mu.Unlock()

	for _, handle := range handles {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) handle(jobID string) (*jobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return handle, nil
}

// run executes every submission pipeline under the bounded worker pool and
// finalizes the job.
func (c *Coordinator) run(ctx context.Context, handle *jobHandle) {
	job := handle.job
	_, span := c.tracer.Start(ctx, "coordinator.run", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.Int("submissions", len(job.Submissions)),
	))
	defer span.End()

	logger := c.logger.With().Str("job_id", job.ID).Logger()
	logger.Info().Int("submissions", len(job.Submissions)).Int("concurrency", c.cfg.Concurrency).Msg("job started")

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, sub := range job.Submissions {
		// Breaker trip stops dispatching new submissions. Work already
		// running keeps its slot until it finishes on its own. Declared
		// short-circuit submissions never touch the provider, so they still
		// get their proper terminal status instead of a failure.
		if c.state.Exhausted(c.cfg.BreakerThreshold) {
			status, reason := models.SubmissionStatusFailed, "provider exhausted"
			switch sub.Declared {
			case models.DeclaredNotSubmitted:
				status, reason = models.SubmissionStatusNotSubmitted, "student did not submit"
			case models.DeclaredPreviouslyGraded:
				status, reason = models.SubmissionStatusPreviouslyGraded, "a grade already exists"
			case models.DeclaredNoFiles:
				status, reason = models.SubmissionStatusNoFiles, "submission has no files"
			}
			c.skip(handle, sub, status, reason)
			continue
		}

		select {
		case <-ctx.Done():
			c.skip(handle, sub, models.SubmissionStatusFailed, "cancelled")
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sub *models.Submission) {
			defer wg.Done()
			defer func() { <-sem }()

			c.pipeline.Run(ctx, sub, job.Rubric, job.Strictness)
			handle.completed.Add(1)
			if c.events != nil {
				c.events.SubmissionChanged(job.ID, sub)
			}
		}(sub)
	}

	wg.Wait()
	c.finalize(handle)
	close(handle.done)
}

// skip assigns a terminal status to a submission that never got dispatched.
func (c *Coordinator) skip(handle *jobHandle, sub *models.Submission, status models.SubmissionStatus, reason string) {
	sub.Status = status
	sub.Reason = reason
	handle.completed.Add(1)
	if c.events != nil {
		c.events.SubmissionChanged(handle.job.ID, sub)
	}
}

// publishTransition streams non-terminal status changes as they happen.
// Terminal states are published exactly once by the worker or skip path that
// finished the submission, so they are filtered out here.
func (c *Coordinator) publishTransition(sub *models.Submission) {
	if sub.Status.IsTerminal() {
		return
	}
	c.events.SubmissionChanged(sub.JobID, sub)
}

func (c *Coordinator) finalize(handle *jobHandle) {
	job := handle.job

	status := models.JobStatusCompleted
	if handle.cancelled.Load() {
		status = models.JobStatusCancelled
	} else {
		for _, sub := range job.Submissions {
			if sub.Status == models.SubmissionStatusFailed {
				status = models.JobStatusPartiallyFailed
				break
			}
		}
	}

	completedAt := c.now()
	report := Aggregate(job, c.cfg.PassingThreshold)

	c.mu.Lock()
	job.Status = status
	job.CompletedAt = &completedAt
	report.JobStatus = status
	handle.report = &report
	c.mu.Unlock()

	c.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(status)).
		Int("graded", report.Graded).
		Int("failed", report.Failed).
		Msg("job finished")

	if c.store != nil {
		c.persist(job, &report)
	}
	if c.events != nil {
		c.events.JobFinished(job)
	}
}

func (c *Coordinator) persist(job *models.Job, report *models.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to encode report")
	}

	record := &models.JobRecord{
		ID:          job.ID,
		Status:      string(job.Status),
		RubricTitle: job.Rubric.Title,
		TotalCount:  len(job.Submissions),
		Report:      reportJSON,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}

	rows := make([]models.SubmissionRow, 0, len(report.PerSubmission))
	for _, rec := range report.PerSubmission {
		rows = append(rows, models.SubmissionRow{
			JobID:      job.ID,
			StudentID:  rec.StudentID,
			Status:     string(rec.Status),
			Reason:     rec.Reason,
			TotalScore: rec.TotalScore,
			MaxScore:   rec.MaxScore,
			Confidence: rec.Confidence,
		})
	}

	if err := c.store.FinalizeJob(ctx, record, rows); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist job result")
	}
}
