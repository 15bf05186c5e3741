// Package lms reads the submission snapshot for a grading job from the LMS.
// The snapshot is taken once at job start and treated as read-only afterwards.
package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// Source supplies the per-student submission snapshot at job start.
type Source interface {
	Snapshot(ctx context.Context, courseID, assignmentID string, studentIDs []string) ([]*models.Submission, error)
}

// ClientConfig configures the HTTP LMS client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client is the HTTP implementation of Source.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient constructs an LMS client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger.With().Str("component", "lms_client").Logger(),
	}
}

type submissionPayload struct {
	StudentID     string `json:"student_id"`
	WorkflowState string `json:"workflow_state"`
	Attachments   []struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
	} `json:"attachments"`
}

// Snapshot fetches the declared state and file references for the selected
// students. Students missing from the LMS answer are reported as not submitted
// so the job still produces one terminal record per selection.
func (c *Client) Snapshot(ctx context.Context, courseID, assignmentID string, studentIDs []string) ([]*models.Submission, error) {
	endpoint := fmt.Sprintf("%s/api/v1/courses/%s/assignments/%s/submissions?student_ids=%s",
		c.baseURL, url.PathEscape(courseID), url.PathEscape(assignmentID), url.QueryEscape(strings.Join(studentIDs, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build lms request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lms snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lms snapshot: status %d", resp.StatusCode)
	}

	var payload []submissionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode lms snapshot: %w", err)
	}

	byStudent := make(map[string]submissionPayload, len(payload))
	for _, row := range payload {
		byStudent[row.StudentID] = row
	}

	submissions := make([]*models.Submission, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		row, ok := byStudent[studentID]
		if !ok {
			submissions = append(submissions, &models.Submission{
				StudentID: studentID,
				Declared:  models.DeclaredNotSubmitted,
				Status:    models.SubmissionStatusPending,
			})
			continue
		}

		sub := &models.Submission{
			StudentID: studentID,
			Declared:  declaredStatus(row),
			Status:    models.SubmissionStatusPending,
		}
		for _, attachment := range row.Attachments {
			sub.Files = append(sub.Files, models.FileRef{Name: attachment.Filename, URL: attachment.URL})
		}
		submissions = append(submissions, sub)
	}

	return submissions, nil
}

func declaredStatus(row submissionPayload) models.DeclaredStatus {
	switch strings.ToLower(row.WorkflowState) {
	case "unsubmitted", "not_submitted":
		return models.DeclaredNotSubmitted
	case "graded", "previously_graded":
		return models.DeclaredPreviouslyGraded
	}

	if len(row.Attachments) == 0 {
		return models.DeclaredNoFiles
	}
	return models.DeclaredHasFiles
}
