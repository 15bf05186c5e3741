package models

// SubmissionStatus tracks a submission through the grading pipeline.
type SubmissionStatus string

const (
	// SubmissionStatusPending indicates the submission has not been picked up yet.
	SubmissionStatusPending SubmissionStatus = "pending"
	// SubmissionStatusExtracting indicates text extraction is in progress.
	SubmissionStatusExtracting SubmissionStatus = "extracting"
	// SubmissionStatusGrading indicates the AI provider call is in progress.
	SubmissionStatusGrading SubmissionStatus = "grading"
	// SubmissionStatusValidating indicates the raw result is being corrected.
	SubmissionStatusValidating SubmissionStatus = "validating"
	// SubmissionStatusDone indicates a validated result has been stored.
	SubmissionStatusDone SubmissionStatus = "done"
	// SubmissionStatusFailed indicates the pipeline gave up on this submission.
	SubmissionStatusFailed SubmissionStatus = "failed"
	// SubmissionStatusNotSubmitted indicates the student never submitted.
	SubmissionStatusNotSubmitted SubmissionStatus = "not_submitted"
	// SubmissionStatusNoFiles indicates the submission has no attachments.
	SubmissionStatusNoFiles SubmissionStatus = "no_files"
	// SubmissionStatusNoReadableFiles indicates every attachment failed extraction.
	SubmissionStatusNoReadableFiles SubmissionStatus = "no_readable_files"
	// SubmissionStatusPreviouslyGraded indicates a grade already exists upstream.
	SubmissionStatusPreviouslyGraded SubmissionStatus = "previously_graded"
)

// IsTerminal reports whether the status is final. A terminal submission is
// never mutated again.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionStatusDone, SubmissionStatusFailed, SubmissionStatusNotSubmitted,
		SubmissionStatusNoFiles, SubmissionStatusNoReadableFiles, SubmissionStatusPreviouslyGraded:
		return true
	}
	return false
}

// DeclaredStatus is the submission state reported by the LMS at job start.
type DeclaredStatus string

const (
	// DeclaredNotSubmitted means the student has no submission upstream.
	DeclaredNotSubmitted DeclaredStatus = "not_submitted"
	// DeclaredPreviouslyGraded means a grade already exists upstream.
	DeclaredPreviouslyGraded DeclaredStatus = "previously_graded"
	// DeclaredNoFiles means the submission exists but carries no attachments.
	DeclaredNoFiles DeclaredStatus = "no_files"
	// DeclaredHasFiles means the submission carries gradable attachments.
	DeclaredHasFiles DeclaredStatus = "has_files"
)

// FileRef points at one submitted file held by the LMS.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Submission is one student's work item moving through the pipeline. It is
// mutated only by the pipeline stage that currently owns it and becomes
// immutable once its status is terminal.
type Submission struct {
	JobID           string           `json:"-"`
	StudentID       string           `json:"student_id"`
	Declared        DeclaredStatus   `json:"declared_status"`
	Files           []FileRef        `json:"files"`
	ExtractedText   string           `json:"-"`
	Status          SubmissionStatus `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	RawResult       *ScoreResult     `json:"raw_result,omitempty"`
	ValidatedResult *ScoreResult     `json:"validated_result,omitempty"`
	Accuracy        *AccuracyMetrics `json:"accuracy,omitempty"`
}
