package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ReportCache keeps finished job reports in Redis so repeated reads skip the
// database. A nil client disables caching.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache constructs the cache.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReportCache{client: client, ttl: ttl}
}

func reportKey(jobID string) string {
	return fmt.Sprintf("gradeflow:report:%s", jobID)
}

// Get returns the cached report, or ErrReportNotFound on a miss.
func (c *ReportCache) Get(ctx context.Context, jobID string) (models.Report, error) {
	if c == nil || c.client == nil {
		return models.Report{}, ErrReportNotFound
	}

	raw, err := c.client.Get(ctx, reportKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Report{}, ErrReportNotFound
		}
		return models.Report{}, err
	}

	var report models.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return models.Report{}, fmt.Errorf("decode cached report: %w", err)
	}
	return report, nil
}

// Set stores the report for the configured TTL. Failures are returned for the
// caller to log; a cache write must never fail a job.
func (c *ReportCache) Set(ctx context.Context, report models.Report) error {
	if c == nil || c.client == nil {
		return nil
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return c.client.Set(ctx, reportKey(report.JobID), raw, c.ttl).Err()
}
