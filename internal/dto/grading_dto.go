package dto

import (
	"github.com/noah-isme/gradeflow-api/internal/models"
)

// CriterionPayload is one rubric criterion in a job request.
type CriterionPayload struct {
	Name      string  `json:"name" validate:"required"`
	MaxPoints float64 `json:"max_points" validate:"gt=0"`
}

// StartJobRequest starts a grading job over the selected students.
type StartJobRequest struct {
	CourseID     string             `json:"course_id" validate:"required"`
	AssignmentID string             `json:"assignment_id" validate:"required"`
	StudentIDs   []string           `json:"student_ids" validate:"required,min=1,dive,required"`
	RubricTitle  string             `json:"rubric_title"`
	Criteria     []CriterionPayload `json:"criteria" validate:"required,min=1,dive"`
	Strictness   *float64           `json:"strictness" validate:"omitempty,gte=0,lte=1"`
}

// Rubric converts the request payload into the domain rubric.
func (r StartJobRequest) Rubric() models.Rubric {
	criteria := make([]models.Criterion, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		criteria = append(criteria, models.Criterion{Name: c.Name, MaxPoints: c.MaxPoints})
	}
	return models.Rubric{Title: r.RubricTitle, Criteria: criteria}
}

// StartJobResponse acknowledges a started job.
type StartJobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse reports job progress.
type JobStatusResponse struct {
	JobID          string `json:"job_id"`
	State          string `json:"state"`
	CompletedCount int    `json:"completed_count"`
	TotalCount     int    `json:"total_count"`
}
