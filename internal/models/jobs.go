package models

import "time"

// JobKind distinguishes a cron-driven job from one only triggered manually.
type JobKind string

const (
	JobKindCron   JobKind = "cron"
	JobKindManual JobKind = "manual"
)

// JobRunState is the in-memory run state of a JobDefinition.
type JobRunState string

const (
	JobStateStopped JobRunState = "stopped"
	JobStateRunning JobRunState = "running"
)

// JobDefinition describes one registered job. Schedule is only meaningful
// when Kind == JobKindCron, and is a 6-field second-precision cron
// expression evaluated in the process's local time zone.
type JobDefinition struct {
	Name     string
	Kind     JobKind
	Schedule string
}

// JobStatus is the introspectable in-memory state of a registered job.
type JobStatus struct {
	Name             string      `json:"name"`
	State            JobRunState `json:"state"`
	Kind             JobKind     `json:"kind"`
	Schedule         string      `json:"schedule,omitempty"`
	SecondsUntilNext *float64    `json:"seconds_until_next,omitempty"`
}

// JobExecution is the durable record of one run of a job. Context stashes
// intermediate state a PostExecute hook needs (e.g. events to dispatch
// after the primary work commits).
type JobExecution struct {
	ID           string          `json:"id"`
	JobName      string          `json:"job_name"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorFlag    bool            `json:"error_flag"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Context      JobContext      `json:"context,omitempty"`
}

// JobContext is an opaque JSON bag, keyed by caller-chosen string keys,
// used to pass state from a job's Execute step to its PostExecute step
// and to persist it durably in the job_execution row.
type JobContext map[string]any
