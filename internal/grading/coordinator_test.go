package grading

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/pkg/ai"
)

// concurrencyGrader tracks how many Grade calls run at the same time.
type concurrencyGrader struct {
	current atomic.Int64
	peak    atomic.Int64
	block   chan struct{}
}

func (g *concurrencyGrader) Grade(ctx context.Context, _ ai.GradeInput) (ai.RawScore, error) {
	now := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		peak := g.peak.Load()
		if now <= peak || g.peak.CompareAndSwap(peak, now) {
			break
		}
	}

	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ai.RawScore{}, ctx.Err()
		}
	} else {
		time.Sleep(5 * time.Millisecond)
	}

	return ai.RawScore{
		TotalScore: 8,
		MaxScore:   10,
		Criteria:   []ai.CriterionScore{{Name: "Correctness", Points: 8, MaxPoints: 10}},
	}, nil
}

func (g *concurrencyGrader) Ping(context.Context) error { return nil }

type recordingStore struct {
	mu      sync.Mutex
	created []*models.JobRecord
	final   []*models.JobRecord
	rows    []models.SubmissionRow
}

func (s *recordingStore) CreateJob(_ context.Context, record *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, record)
	return nil
}

func (s *recordingStore) FinalizeJob(_ context.Context, record *models.JobRecord, rows []models.SubmissionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = append(s.final, record)
	s.rows = append(s.rows, rows...)
	return nil
}

func submissionsWithFiles(n int) []*models.Submission {
	subs := make([]*models.Submission, 0, n)
	for i := 0; i < n; i++ {
		subs = append(subs, &models.Submission{
			StudentID: fmt.Sprintf("student-%d", i),
			Declared:  models.DeclaredHasFiles,
			Files:     []models.FileRef{{Name: "essay.txt", URL: "http://lms/essay.txt"}},
		})
	}
	return subs
}

func newTestCoordinator(grader ai.Grader, state *RetryState, store JobStore, cfg CoordinatorConfig) *Coordinator {
	controller, _ := newTestController(state, RetryConfig{MaxRetries: 3, BreakerThreshold: cfg.BreakerThreshold})
	agent := NewAgent(grader, controller, testLogger())
	extractor := &mapExtractor{texts: map[string]string{"essay.txt": "essay text"}}
	pipeline := NewPipeline(extractor, agent, testLogger())
	return NewCoordinator(pipeline, state, store, nil, cfg, testLogger())
}

func TestCoordinatorBoundsConcurrencyAndCompletesEverySubmission(t *testing.T) {
	grader := &concurrencyGrader{}
	state := NewRetryState()
	coordinator := newTestCoordinator(grader, state, nil, CoordinatorConfig{Concurrency: 3})

	subs := submissionsWithFiles(10)
	jobID, err := coordinator.StartJob(context.Background(), subs, quizRubric(), 0.5)
	require.NoError(t, err)
	require.NoError(t, coordinator.Wait(jobID))

	require.LessOrEqual(t, grader.peak.Load(), int64(3), "worker pool must cap concurrent provider calls")

	status, err := coordinator.Status(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, status.State)
	require.Equal(t, 10, status.CompletedCount)
	require.Equal(t, 10, status.TotalCount)

	for _, sub := range subs {
		require.True(t, sub.Status.IsTerminal(), "submission %s ended in %s", sub.StudentID, sub.Status)
		require.Equal(t, models.SubmissionStatusDone, sub.Status)
	}
}

func TestCoordinatorRejectsEmptyAndInvalidJobs(t *testing.T) {
	coordinator := newTestCoordinator(&concurrencyGrader{}, NewRetryState(), nil, CoordinatorConfig{})

	_, err := coordinator.StartJob(context.Background(), nil, quizRubric(), 0.5)
	require.ErrorIs(t, err, ErrNoSubmissions)

	_, err = coordinator.StartJob(context.Background(), submissionsWithFiles(1), models.Rubric{Title: "empty"}, 0.5)
	require.ErrorIs(t, err, ErrInvalidRubric)
}

func TestCoordinatorUnknownJob(t *testing.T) {
	coordinator := newTestCoordinator(&concurrencyGrader{}, NewRetryState(), nil, CoordinatorConfig{})

	_, err := coordinator.Status("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, coordinator.CancelJob("missing"), ErrJobNotFound)
	_, err = coordinator.Report("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestCoordinatorReportOnlyWhenTerminal(t *testing.T) {
	grader := &concurrencyGrader{block: make(chan struct{})}
	coordinator := newTestCoordinator(grader, NewRetryState(), nil, CoordinatorConfig{Concurrency: 2})

	jobID, err := coordinator.StartJob(context.Background(), submissionsWithFiles(2), quizRubric(), 0.5)
	require.NoError(t, err)

	_, err = coordinator.Report(jobID)
	require.ErrorIs(t, err, ErrJobNotTerminal)

	close(grader.block)
	require.NoError(t, coordinator.Wait(jobID))

	report, err := coordinator.Report(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, report.JobStatus)
	require.Len(t, report.PerSubmission, 2)
	require.Equal(t, 2, report.Graded)
}

func TestCoordinatorCancelLeavesEverySubmissionTerminal(t *testing.T) {
	grader := &concurrencyGrader{block: make(chan struct{})}
	coordinator := newTestCoordinator(grader, NewRetryState(), nil, CoordinatorConfig{Concurrency: 1})

	subs := submissionsWithFiles(4)
	jobID, err := coordinator.StartJob(context.Background(), subs, quizRubric(), 0.5)
	require.NoError(t, err)

	require.NoError(t, coordinator.CancelJob(jobID))
	close(grader.block)
	require.NoError(t, coordinator.Wait(jobID))

	status, err := coordinator.Status(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, status.State)
	require.Equal(t, 4, status.CompletedCount)

	for _, sub := range subs {
		require.True(t, sub.Status.IsTerminal(), "submission %s ended in %s", sub.StudentID, sub.Status)
	}

	report, err := coordinator.Report(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, report.JobStatus)
}

func TestCoordinatorDrainWaitsForJobs(t *testing.T) {
	grader := &concurrencyGrader{block: make(chan struct{})}
	coordinator := newTestCoordinator(grader, NewRetryState(), nil, CoordinatorConfig{Concurrency: 2})

	jobID, err := coordinator.StartJob(context.Background(), submissionsWithFiles(2), quizRubric(), 0.5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, coordinator.Drain(ctx), context.DeadlineExceeded)

	close(grader.block)
	require.NoError(t, coordinator.Drain(context.Background()))

	status, err := coordinator.Status(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, status.State)
}

// rateLimitedGrader always answers with a provider rate limit.
type rateLimitedGrader struct {
	calls atomic.Int64
}

func (g *rateLimitedGrader) Grade(context.Context, ai.GradeInput) (ai.RawScore, error) {
	g.calls.Add(1)
	return ai.RawScore{}, fmt.Errorf("429: retry_delay { seconds: 0 }")
}

func (g *rateLimitedGrader) Ping(context.Context) error { return nil }

func TestCoordinatorBreakerSkipsRemainingSubmissions(t *testing.T) {
	grader := &rateLimitedGrader{}
	state := NewRetryState()
	coordinator := newTestCoordinator(grader, state, nil, CoordinatorConfig{Concurrency: 1, BreakerThreshold: 1})

	subs := submissionsWithFiles(5)
	jobID, err := coordinator.StartJob(context.Background(), subs, quizRubric(), 0.5)
	require.NoError(t, err)
	require.NoError(t, coordinator.Wait(jobID))

	status, err := coordinator.Status(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPartiallyFailed, status.State)
	require.Equal(t, 5, status.CompletedCount)

	for _, sub := range subs {
		require.Equal(t, models.SubmissionStatusFailed, sub.Status)
		require.Equal(t, "provider exhausted", sub.Reason)
	}
	require.LessOrEqual(t, grader.calls.Load(), int64(1), "breaker must stop further provider calls")
}

func TestCoordinatorBreakerPreservesDeclaredShortCircuits(t *testing.T) {
	grader := &rateLimitedGrader{}
	state := NewRetryState()
	coordinator := newTestCoordinator(grader, state, nil, CoordinatorConfig{Concurrency: 1, BreakerThreshold: 1})

	subs := []*models.Submission{
		{StudentID: "s-1", Declared: models.DeclaredHasFiles, Files: []models.FileRef{{Name: "essay.txt", URL: "http://lms/essay.txt"}}},
		{StudentID: "s-2", Declared: models.DeclaredNotSubmitted},
		{StudentID: "s-3", Declared: models.DeclaredNoFiles},
		{StudentID: "s-4", Declared: models.DeclaredPreviouslyGraded},
		{StudentID: "s-5", Declared: models.DeclaredHasFiles, Files: []models.FileRef{{Name: "essay.txt", URL: "http://lms/essay.txt"}}},
	}
	jobID, err := coordinator.StartJob(context.Background(), subs, quizRubric(), 0.5)
	require.NoError(t, err)
	require.NoError(t, coordinator.Wait(jobID))

	// Only work that actually needed the provider fails on a tripped breaker.
	require.Equal(t, models.SubmissionStatusFailed, subs[0].Status)
	require.Equal(t, "provider exhausted", subs[0].Reason)
	require.Equal(t, models.SubmissionStatusNotSubmitted, subs[1].Status)
	require.Equal(t, "student did not submit", subs[1].Reason)
	require.Equal(t, models.SubmissionStatusNoFiles, subs[2].Status)
	require.Equal(t, models.SubmissionStatusPreviouslyGraded, subs[3].Status)
	require.Equal(t, models.SubmissionStatusFailed, subs[4].Status)
	require.Equal(t, "provider exhausted", subs[4].Reason)

	status, err := coordinator.Status(jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPartiallyFailed, status.State)
	require.Equal(t, 5, status.CompletedCount)
}

// recordingSink captures every event the coordinator emits.
type recordingSink struct {
	mu          sync.Mutex
	transitions []models.SubmissionStatus
	terminal    []models.SubmissionStatus
	jobIDs      map[string]struct{}
	finished    int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{jobIDs: make(map[string]struct{})}
}

func (s *recordingSink) SubmissionChanged(jobID string, sub *models.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobIDs[jobID] = struct{}{}
	if sub.Status.IsTerminal() {
		s.terminal = append(s.terminal, sub.Status)
		return
	}
	s.transitions = append(s.transitions, sub.Status)
}

func (s *recordingSink) JobFinished(*models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
}

func TestCoordinatorStreamsProgressEvents(t *testing.T) {
	sink := newRecordingSink()
	state := NewRetryState()
	controller, _ := newTestController(state, RetryConfig{MaxRetries: 3})
	agent := NewAgent(&concurrencyGrader{}, controller, testLogger())
	extractor := &mapExtractor{texts: map[string]string{"essay.txt": "essay text"}}
	pipeline := NewPipeline(extractor, agent, testLogger())
	coordinator := NewCoordinator(pipeline, state, nil, sink, CoordinatorConfig{Concurrency: 2}, testLogger())

	subs := submissionsWithFiles(2)
	jobID, err := coordinator.StartJob(context.Background(), subs, quizRubric(), 0.5)
	require.NoError(t, err)
	require.NoError(t, coordinator.Wait(jobID))

	sink.mu.Lock()
	defer sink.mu.Unlock()

	require.Equal(t, map[string]struct{}{jobID: {}}, sink.jobIDs)

	counts := make(map[models.SubmissionStatus]int)
	for _, status := range sink.transitions {
		counts[status]++
	}
	require.Equal(t, 2, counts[models.SubmissionStatusExtracting])
	require.Equal(t, 2, counts[models.SubmissionStatusGrading])
	require.Equal(t, 2, counts[models.SubmissionStatusValidating])

	require.Len(t, sink.terminal, 2, "terminal status must be published exactly once per submission")
	for _, status := range sink.terminal {
		require.Equal(t, models.SubmissionStatusDone, status)
	}
	require.Equal(t, 1, sink.finished)
}

func TestCoordinatorPersistsLifecycleAndReport(t *testing.T) {
	store := &recordingStore{}
	coordinator := newTestCoordinator(&concurrencyGrader{}, NewRetryState(), store, CoordinatorConfig{Concurrency: 2})

	jobID, err := coordinator.StartJob(context.Background(), submissionsWithFiles(3), quizRubric(), 0.5)
	require.NoError(t, err)
	require.NoError(t, coordinator.Wait(jobID))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.created, 1)
	require.Equal(t, jobID, store.created[0].ID)
	require.Equal(t, string(models.JobStatusRunning), store.created[0].Status)

	require.Len(t, store.final, 1)
	require.Equal(t, string(models.JobStatusCompleted), store.final[0].Status)
	require.NotEmpty(t, store.final[0].Report)
	require.Len(t, store.rows, 3)
}
