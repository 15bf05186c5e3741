package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ErrReportNotFound indicates no persisted report exists for the job.
var ErrReportNotFound = errors.New("report not found")

// JobRepository defines data operations for grading jobs and their terminal records.
type JobRepository interface {
	CreateJob(ctx context.Context, record *models.JobRecord) error
	FinalizeJob(ctx context.Context, record *models.JobRecord, rows []models.SubmissionRow) error
	GetJob(ctx context.Context, jobID string) (models.JobRecord, error)
	GetReport(ctx context.Context, jobID string) (models.Report, error)
	ListSubmissionRows(ctx context.Context, jobID string) ([]models.SubmissionRow, error)
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository instantiates the repository.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) CreateJob(ctx context.Context, record *models.JobRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FinalizeJob writes the terminal job row and per-submission records in one
// transaction so a report is never visible without its records.
func (r *jobRepository) FinalizeJob(ctx context.Context, record *models.JobRecord, rows []models.SubmissionRow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(record).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (r *jobRepository) GetJob(ctx context.Context, jobID string) (models.JobRecord, error) {
	var record models.JobRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", jobID).Error; err != nil {
		return models.JobRecord{}, err
	}
	return record, nil
}

func (r *jobRepository) GetReport(ctx context.Context, jobID string) (models.Report, error) {
	record, err := r.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Report{}, ErrReportNotFound
		}
		return models.Report{}, err
	}

	if len(record.Report) == 0 {
		return models.Report{}, ErrReportNotFound
	}

	var report models.Report
	if err := json.Unmarshal(record.Report, &report); err != nil {
		return models.Report{}, fmt.Errorf("decode stored report: %w", err)
	}
	return report, nil
}

func (r *jobRepository) ListSubmissionRows(ctx context.Context, jobID string) ([]models.SubmissionRow, error) {
	var rows []models.SubmissionRow
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("student_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
