package repository

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

func TestReportCacheRoundTrip(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	cache := NewReportCache(client, time.Minute)
	ctx := context.Background()

	_, err = cache.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrReportNotFound)

	report := models.Report{
		JobID:     "job-1",
		JobStatus: models.JobStatusCompleted,
		Graded:    3,
		PassRate:  0.66,
		PerSubmission: []models.SubmissionRecord{
			{StudentID: "s1", Status: models.SubmissionStatusDone, TotalScore: 9, MaxScore: 10},
		},
	}
	require.NoError(t, cache.Set(ctx, report))

	cached, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, report.JobID, cached.JobID)
	require.Equal(t, report.Graded, cached.Graded)
	require.Len(t, cached.PerSubmission, 1)

	server.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestReportCacheNilClientIsNoop(t *testing.T) {
	cache := NewReportCache(nil, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, models.Report{JobID: "job-1"}))
	_, err := cache.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrReportNotFound)
}
