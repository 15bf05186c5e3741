// Package events publishes job progress over NATS for live consumers.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/observability"
)

// Publisher emits submission and job transitions. A nil NATS connection turns
// every publish into a no-op so the pipeline never depends on the broker.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewPublisher constructs an event publisher on the given subject base.
func NewPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) *Publisher {
	if subject == "" {
		subject = "gradeflow.jobs"
	}

	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

type submissionEvent struct {
	JobID     string                  `json:"job_id"`
	StudentID string                  `json:"student_id"`
	Status    models.SubmissionStatus `json:"status"`
	Reason    string                  `json:"reason,omitempty"`
	SentAt    time.Time               `json:"sent_at"`
}

type jobEvent struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
	SentAt time.Time        `json:"sent_at"`
}

// SubmissionChanged publishes one submission's latest status and records the
// terminal-status metric.
func (p *Publisher) SubmissionChanged(jobID string, sub *models.Submission) {
	if sub.Status.IsTerminal() {
		observability.Submissions().WithLabelValues(string(sub.Status)).Inc()
	}

	if p == nil || p.conn == nil {
		return
	}

	payload, err := json.Marshal(submissionEvent{
		JobID:     jobID,
		StudentID: sub.StudentID,
		Status:    sub.Status,
		Reason:    sub.Reason,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode submission event")
		return
	}

	if err := p.conn.Publish(p.subject+".submissions", payload); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish submission event")
	}
}

// JobFinished publishes the terminal state of a job and records job metrics.
func (p *Publisher) JobFinished(job *models.Job) {
	observability.Jobs().WithLabelValues(string(job.Status)).Inc()
	if job.CompletedAt != nil {
		observability.JobDuration().Observe(job.CompletedAt.Sub(job.CreatedAt).Seconds())
	}

	if p == nil || p.conn == nil {
		return
	}

	payload, err := json.Marshal(jobEvent{
		JobID:  job.ID,
		Status: job.Status,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode job event")
		return
	}

	if err := p.conn.Publish(p.subject+".finished", payload); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish job event")
	}
}
