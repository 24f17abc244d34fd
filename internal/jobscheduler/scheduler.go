// Package jobscheduler drives recurring and manually-triggered jobs: a
// cron driver ticks each Cron job onto a shared control queue, and a
// single dispatcher pops that queue and runs the execution protocol
// (record -> execute -> post-execute -> persist -> stop).
package jobscheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/delayqueue"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

// controlMessage is what the cron driver (or a manual RunJob call) pushes
// onto the shared control queue; the dispatcher only needs the name.
type controlMessage struct {
	name string
}

type jobEntry struct {
	mu    sync.Mutex
	def   models.JobDefinition
	job   interfaces.Job
	state models.JobRunState

	cronEntryID cron.EntryID
	cancel      context.CancelFunc
}

// Scheduler implements interfaces.JobScheduler.
type Scheduler struct {
	execStore interfaces.JobExecutionStore
	eventMgr  interfaces.EventManager
	stateBag  *interfaces.StateBag
	logger    *common.Logger

	cronImpl *cron.Cron
	control  *delayqueue.Queue[controlMessage]

	mu   sync.RWMutex
	jobs map[string]*jobEntry

	dispatchCancel context.CancelFunc
	wg             sync.WaitGroup
}

// New creates a Scheduler. eventMgr and stateBag are handed to every job
// through its JobExecContext (spec §4.2 "Interaction with EventManager").
func New(execStore interfaces.JobExecutionStore, eventMgr interfaces.EventManager, stateBag *interfaces.StateBag, logger *common.Logger) *Scheduler {
	return &Scheduler{
		execStore: execStore,
		eventMgr:  eventMgr,
		stateBag:  stateBag,
		logger:    logger,
		cronImpl:  cron.New(cron.WithSeconds(), cron.WithLocation(time.Local)),
		control:   delayqueue.New[controlMessage](),
		jobs:      make(map[string]*jobEntry),
	}
}

// Add registers job before Start. kind is models.JobKindCron or
// models.JobKindManual; schedule is a 6-field second-precision cron
// expression and is ignored for Manual jobs.
func (s *Scheduler) Add(name string, kind string, schedule string, job interfaces.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q is already registered", name)
	}

	jk := models.JobKind(kind)
	if jk != models.JobKindCron && jk != models.JobKindManual {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	if jk == models.JobKindCron && schedule == "" {
		return fmt.Errorf("job %q is Cron but has no schedule expression", name)
	}

	s.jobs[name] = &jobEntry{
		def:   models.JobDefinition{Name: name, Kind: jk, Schedule: schedule},
		job:   job,
		state: models.JobStateStopped,
	}
	return nil
}

// Start spawns the cron driver and the control-queue dispatcher. Cron
// jobs are wired into robfig/cron; each tick pushes a controlMessage
// rather than running the job inline, so cron ticks and manual triggers
// flow through the same dispatcher (spec §4.2 start()).
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	for name, entry := range s.jobs {
		if entry.def.Kind != models.JobKindCron {
			continue
		}
		jobName := name
		id, err := s.cronImpl.AddFunc(entry.def.Schedule, func() {
			s.control.Push(controlMessage{name: jobName}, 0)
		})
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("failed to schedule job %q: %w", name, err)
		}
		entry.cronEntryID = id
	}
	s.mu.RUnlock()

	s.cronImpl.Start()

	dispatchCtx, cancel := context.WithCancel(ctx)
	s.dispatchCancel = cancel

	s.wg.Add(1)
	go s.safeRun("job-dispatcher", func() { s.dispatchLoop(dispatchCtx) })

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Job scheduler started")
	return nil
}

// Stop halts the cron driver and the dispatcher, cancelling any job
// currently executing and waiting for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cronImpl.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	if s.dispatchCancel != nil {
		s.dispatchCancel()
	}

	s.mu.RLock()
	for _, entry := range s.jobs {
		entry.mu.Lock()
		if entry.cancel != nil {
			entry.cancel()
		}
		entry.mu.Unlock()
	}
	s.mu.RUnlock()

	s.wg.Wait()
	s.logger.Info().Msg("Job scheduler stopped")
	return nil
}

// RunJob triggers name immediately, regardless of its kind (spec §4.2
// run_job). The execution still flows through the shared dispatcher.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no job registered with name %q", name)
	}
	s.control.Push(controlMessage{name: name}, 0)
	return nil
}

func (s *Scheduler) safeRun(name string, fn func()) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("goroutine", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in job scheduler")
		}
	}()
	fn()
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	for {
		msg, err := s.control.Pop(ctx)
		if err != nil {
			return
		}
		s.execute(ctx, msg.name)
	}
}

// execute runs the 6-step protocol from spec §4.2: record the execution
// row, mark the job Running, invoke Execute then the optional
// PostExecute, persist the outcome, and return the job to Stopped.
func (s *Scheduler) execute(ctx context.Context, name string) {
	s.mu.RLock()
	entry, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.state == models.JobStateRunning {
		entry.mu.Unlock()
		s.logger.Debug().Str("job", name).Msg("Skipped trigger: job already running")
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel
	entry.state = models.JobStateRunning
	entry.mu.Unlock()

	defer func() {
		entry.mu.Lock()
		entry.state = models.JobStateStopped
		entry.cancel = nil
		entry.mu.Unlock()
	}()

	exec, err := s.execStore.Begin(ctx, name)
	if err != nil {
		s.logger.Error().Str("job", name).Err(err).Msg("Failed to record job execution start")
		return
	}

	jec := interfaces.JobExecContext{
		ExecutionID:  exec.ID,
		Cancelled:    jobCtx.Done(),
		EventManager: s.eventMgr,
		StateBag:     s.stateBag,
	}

	execErr := entry.job.Execute(jobCtx, jec)
	if execErr == nil {
		if postJob, ok := entry.job.(interfaces.PostExecuteJob); ok {
			execErr = postJob.PostExecute(jobCtx, jec)
		}
	}

	if completeErr := s.execStore.Complete(ctx, exec.ID, execErr); completeErr != nil {
		s.logger.Error().Str("job", name).Str("execution_id", exec.ID).Err(completeErr).Msg("Failed to persist job execution outcome")
	}

	if execErr != nil {
		s.logger.Warn().Str("job", name).Str("execution_id", exec.ID).Err(execErr).Msg("Job execution failed")
	} else {
		s.logger.Info().Str("job", name).Str("execution_id", exec.ID).Msg("Job execution completed")
	}
}

// Introspect returns the current state of every registered job, plus its
// next scheduled run for Cron jobs (spec §4.2 introspect()).
func (s *Scheduler) Introspect() ([]interfaces.JobStatusView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]interfaces.JobStatusView, 0, len(s.jobs))
	for _, entry := range s.jobs {
		entry.mu.Lock()
		view := interfaces.JobStatusView{
			Name:     entry.def.Name,
			State:    string(entry.state),
			Kind:     string(entry.def.Kind),
			Schedule: entry.def.Schedule,
		}
		entry.mu.Unlock()

		if entry.def.Kind == models.JobKindCron && entry.cronEntryID != 0 {
			next := s.cronImpl.Entry(entry.cronEntryID).Next
			if !next.IsZero() {
				secs := time.Until(next).Seconds()
				view.SecondsUntilNext = &secs
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// History returns the most recent job executions across all jobs (spec
// §4.2, surfaced at GET /jobs alongside the current job states).
func (s *Scheduler) History(limit int) ([]interfaces.JobExecutionView, error) {
	rows, err := s.execStore.List(context.Background(), limit)
	if err != nil {
		return nil, err
	}

	views := make([]interfaces.JobExecutionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, interfaces.JobExecutionView{
			ID:           row.ID,
			JobName:      row.JobName,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			ErrorFlag:    row.ErrorFlag,
			ErrorMessage: row.ErrorMessage,
		})
	}
	return views, nil
}

// Compile-time check
var _ interfaces.JobScheduler = (*Scheduler)(nil)
