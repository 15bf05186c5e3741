package models

// SubmissionRecord is one submission's terminal entry in a job report.
type SubmissionRecord struct {
	StudentID  string           `json:"student_id"`
	Status     SubmissionStatus `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	TotalScore float64          `json:"total_score"`
	MaxScore   float64          `json:"max_score"`
	Confidence float64          `json:"confidence"`
	Bucket     string           `json:"confidence_bucket,omitempty"`
}

// Report is the aggregate summary of a finished grading job. It contains
// exactly one record per originally selected submission.
type Report struct {
	JobID          string                   `json:"job_id"`
	JobStatus      JobStatus                `json:"job_status"`
	CountsByStatus map[SubmissionStatus]int `json:"counts_by_status"`
	Graded         int                      `json:"graded"`
	Failed         int                      `json:"failed"`
	AverageScore   float64                  `json:"average_score"`
	MinScore       float64                  `json:"min_score"`
	MaxScore       float64                  `json:"max_score"`
	PassRate       float64                  `json:"pass_rate"`
	PerSubmission  []SubmissionRecord       `json:"per_submission"`
}
