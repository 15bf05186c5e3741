package grading

import (
	"github.com/noah-isme/gradeflow-api/internal/models"
)

// Aggregate builds the summary report for a finished job. Pure function over
// terminal job state: exactly one record per originally selected submission,
// averages and pass rate computed over Done submissions only.
func Aggregate(job *models.Job, passingThreshold float64) models.Report {
	report := models.Report{
		JobID:          job.ID,
		JobStatus:      job.Status,
		CountsByStatus: make(map[models.SubmissionStatus]int),
		PerSubmission:  make([]models.SubmissionRecord, 0, len(job.Submissions)),
	}

	sum := 0.0
	passed := 0
	for _, sub := range job.Submissions {
		report.CountsByStatus[sub.Status]++

		record := models.SubmissionRecord{
			StudentID: sub.StudentID,
			Status:    sub.Status,
			Reason:    sub.Reason,
		}

		switch sub.Status {
		case models.SubmissionStatusDone:
			result := sub.ValidatedResult
			record.TotalScore = result.TotalScore
			record.MaxScore = result.MaxScore
			if sub.Accuracy != nil {
				record.Confidence = sub.Accuracy.Confidence
				record.Bucket = sub.Accuracy.Bucket()
			}

			report.Graded++
			sum += result.TotalScore
			if report.Graded == 1 || result.TotalScore < report.MinScore {
				report.MinScore = result.TotalScore
			}
			if result.TotalScore > report.MaxScore {
				report.MaxScore = result.TotalScore
			}
			if result.MaxScore > 0 && result.TotalScore/result.MaxScore >= passingThreshold {
				passed++
			}
		case models.SubmissionStatusFailed:
			report.Failed++
		}

		report.PerSubmission = append(report.PerSubmission, record)
	}

	if report.Graded > 0 {
		report.AverageScore = sum / float64(report.Graded)
		report.PassRate = float64(passed) / float64(report.Graded)
	}

	return report
}
