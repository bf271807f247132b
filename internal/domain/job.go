package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the persisted state of a queued unit of work.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status can never be left.
// Failed is excluded: redelivery within the attempt budget moves it back to running.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobCancelled
}

// IsFinished reports whether the job has reached an outcome, successful or not.
func (s JobStatus) IsFinished() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether the persisted status may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobQueued:
		return true
	case JobRunning:
		return next == JobSucceeded || next == JobFailed || next == JobCancelled
	case JobFailed:
		return next == JobRunning || next == JobQueued || next == JobCancelled
	}
	return false
}

// Job is the durable mirror of one queue message.
type Job struct {
	ID         string
	RunID      string // empty for run-less jobs (funds gather)
	Queue      string
	Type       string
	Payload    json.RawMessage
	Status     JobStatus
	Metadata   JobMetadata
	Error      string
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// JobMetadata carries the last reported progress and the job result.
type JobMetadata struct {
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}
