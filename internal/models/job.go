package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus tracks the lifecycle of a grading job.
type JobStatus string

const (
	// JobStatusRunning indicates submissions are still being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates every submission reached Done or a
	// short-circuit terminal status.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusPartiallyFailed indicates at least one submission failed while
	// others finished.
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	// JobStatusFailed indicates a configuration-level error prevented any
	// submission from starting.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates cancellation was requested before completion.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job has finished, for better or worse.
func (s JobStatus) IsTerminal() bool {
	return s != JobStatusRunning && s != ""
}

// Job is one grading run over a set of selected submissions under one rubric.
type Job struct {
	ID          string        `json:"job_id"`
	Rubric      Rubric        `json:"rubric"`
	Strictness  float64       `json:"strictness"`
	Submissions []*Submission `json:"submissions"`
	Status      JobStatus     `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// JobRecord is the persisted row for a grading job.
type JobRecord struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Status      string         `gorm:"size:32;not null" json:"status"`
	RubricTitle string         `gorm:"size:255" json:"rubric_title"`
	TotalCount  int            `gorm:"not null" json:"total_count"`
	Report      datatypes.JSON `json:"report"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// SubmissionRow is the persisted per-submission terminal record.
type SubmissionRow struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	JobID      string    `gorm:"size:36;index;not null" json:"job_id"`
	StudentID  string    `gorm:"size:64;not null" json:"student_id"`
	Status     string    `gorm:"size:32;not null" json:"status"`
	Reason     string    `gorm:"type:text" json:"reason"`
	TotalScore float64   `json:"total_score"`
	MaxScore   float64   `json:"max_score"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
