package models

// Criterion is one scoring dimension of a rubric.
type Criterion struct {
	Name      string  `json:"name" validate:"required"`
	MaxPoints float64 `json:"max_points" validate:"gt=0"`
}

// Rubric is the scoring schema for a grading job. It is assembled once when a
// job starts and shared read-only across every submission in that job.
type Rubric struct {
	Title    string      `json:"title"`
	Criteria []Criterion `json:"criteria" validate:"required,min=1,dive"`
}

// MaxTotalPoints returns the sum of the maximum points across all criteria.
func (r Rubric) MaxTotalPoints() float64 {
	total := 0.0
	for _, c := range r.Criteria {
		total += c.MaxPoints
	}
	return total
}
