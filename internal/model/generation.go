package model

import (
	"errors"
	"time"
)

// JobStatus is the persisted lifecycle state of the generation job
type JobStatus string

// Job statuses, as stored in the state record
const (
	JobStatusIdle     JobStatus = "idle"
	JobStatusRunning  JobStatus = "loading"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "error"
)

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusIdle, JobStatusRunning, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a resting state reached by a resolved job
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Artifact is the generated post returned by the remote service
type Artifact struct {
	Title          string `json:"title" validate:"required"`
	SummaryForCard string `json:"summary_for_card"`
	ContentHTML    string `json:"content_html" validate:"required"`
}

// JobState is the single-slot record describing the current or most recent job
type JobState struct {
	Status    JobStatus  `json:"status"`
	Content   *Artifact  `json:"content"`
	Error     *string    `json:"error"`
	JobID     string     `json:"jobId,omitempty"`
	URL       string     `json:"url,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Revision  int64      `json:"revision"`
}

// Invariant violations reported by JobState.Validate
var (
	ErrUnknownStatus       = errors.New("unknown job status")
	ErrContentWithoutDone  = errors.New("content present but job is not complete")
	ErrMissingContent      = errors.New("complete job without content")
	ErrErrorWithoutFailure = errors.New("error message present but job has not failed")
	ErrMissingError        = errors.New("failed job without error message")
)

// IdleState returns the default record used at first read and after reset
func IdleState() JobState {
	return JobState{Status: JobStatusIdle}
}

// RunningState returns a fresh record for a job that just started.
// Nothing from a previous job is carried over.
func RunningState(jobID, url string, at time.Time) JobState {
	return JobState{
		Status:    JobStatusRunning,
		JobID:     jobID,
		URL:       url,
		UpdatedAt: &at,
	}
}

// Complete returns the terminal success record for the job described by s
func (s JobState) Complete(artifact Artifact, at time.Time) JobState {
	return JobState{
		Status:    JobStatusComplete,
		Content:   &artifact,
		JobID:     s.JobID,
		URL:       s.URL,
		UpdatedAt: &at,
	}
}

// Fail returns the terminal failure record for the job described by s
func (s JobState) Fail(message string, at time.Time) JobState {
	return JobState{
		Status:    JobStatusFailed,
		Error:     &message,
		JobID:     s.JobID,
		URL:       s.URL,
		UpdatedAt: &at,
	}
}

// ErrorMessage returns the failure message or "" when there is none
func (s JobState) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// Validate checks the presence invariants: content iff complete, error iff failed
func (s JobState) Validate() error {
	if !s.Status.Valid() {
		return ErrUnknownStatus
	}
	switch {
	case s.Status == JobStatusComplete && s.Content == nil:
		return ErrMissingContent
	case s.Status != JobStatusComplete && s.Content != nil:
		return ErrContentWithoutDone
	case s.Status == JobStatusFailed && s.Error == nil:
		return ErrMissingError
	case s.Status != JobStatusFailed && s.Error != nil:
		return ErrErrorWithoutFailure
	}
	return nil
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusIdle:     {JobStatusRunning},
	JobStatusRunning:  {JobStatusComplete, JobStatusFailed, JobStatusIdle},
	JobStatusComplete: {JobStatusRunning, JobStatusIdle},
	JobStatusFailed:   {JobStatusRunning, JobStatusIdle},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Running -> Idle is the reset edge; Idle -> Idle is not a
// transition because reset on an idle record writes nothing.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
