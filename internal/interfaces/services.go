package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventRequest is one item of a CreateBulk call.
type EventRequest struct {
	Name    string
	Payload any
	Delay   time.Duration
	TraceID string
}

// EventManager is the contract jobs and handlers use to create child
// events without depending on the eventmanager package directly (avoids
// an import cycle: eventmanager -> handlers -> eventmanager).
type EventManager interface {
	CreateEvent(ctx context.Context, name string, payload any, delay time.Duration, traceID string) (uuid.UUID, error)
	// CreateBulk returns one id-or-error per request, in the same order;
	// a failure on one item never aborts the rest.
	CreateBulk(ctx context.Context, items []EventRequest) ([]uuid.UUID, []error)
	Cancel(ctx context.Context, publicID uuid.UUID) (bool, error)
}

// JobExecContext is handed to a Job's Execute/PostExecute methods.
type JobExecContext struct {
	ExecutionID  string
	Cancelled    <-chan struct{}
	EventManager EventManager
	StateBag     *StateBag
}

// Job is the unit registered with the scheduler. PostExecute is invoked
// only on a successful Execute, and exists so that a job can commit its
// primary work transactionally, then dispatch events derived from that
// commit (spec §4.2's post_execute hook).
type Job interface {
	Execute(ctx context.Context, jec JobExecContext) error
}

// PostExecuteJob is an optional extension a Job implements when it needs
// the post-commit dispatch step.
type PostExecuteJob interface {
	PostExecute(ctx context.Context, jec JobExecContext) error
}

// JobScheduler is the contract the HTTP boundary (GET /jobs, POST
// /jobs/{name}/run) drives.
type JobScheduler interface {
	Add(name string, kind string, schedule string, job Job) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RunJob(ctx context.Context, name string) error
	Introspect() ([]JobStatusView, error)
	History(limit int) ([]JobExecutionView, error)
}

// JobStatusView and JobExecutionView decouple the HTTP layer from the
// models package's concrete types where only a read view is needed. They
// are separate struct types that copy the fields of models.JobStatus and
// models.JobExecution the HTTP layer reads.
type JobStatusView struct {
	Name             string
	State            string
	Kind             string
	Schedule         string
	SecondsUntilNext *float64
}

type JobExecutionView struct {
	ID           string
	JobName      string
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorFlag    bool
	ErrorMessage string
}
