package jobscheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

// fakeExecStore is an in-memory interfaces.JobExecutionStore.
type fakeExecStore struct {
	mu   sync.Mutex
	rows map[string]*models.JobExecution
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{rows: make(map[string]*models.JobExecution)}
}

func (f *fakeExecStore) Begin(ctx context.Context, jobName string) (*models.JobExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec := &models.JobExecution{ID: uuid.NewString(), JobName: jobName, StartedAt: time.Now()}
	f.rows[exec.ID] = exec
	return exec, nil
}

func (f *fakeExecStore) Complete(ctx context.Context, id string, execErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return errors.New("unknown execution id")
	}
	now := time.Now()
	row.CompletedAt = &now
	if execErr != nil {
		row.ErrorFlag = true
		row.ErrorMessage = execErr.Error()
	}
	return nil
}

func (f *fakeExecStore) SetContext(ctx context.Context, id string, jobCtx models.JobContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Context = jobCtx
	}
	return nil
}

func (f *fakeExecStore) GetContext(ctx context.Context, id string) (models.JobContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		return row.Context, nil
	}
	return nil, nil
}

func (f *fakeExecStore) List(ctx context.Context, limit int) ([]*models.JobExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.JobExecution, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

// fakeJob records how many times it ran and optionally fails or sleeps.
type fakeJob struct {
	mu        sync.Mutex
	runs      int
	fail      error
	postRuns  int
	execDelay time.Duration
}

func (j *fakeJob) Execute(ctx context.Context, jec interfaces.JobExecContext) error {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	if j.execDelay > 0 {
		select {
		case <-time.After(j.execDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.fail
}

func (j *fakeJob) PostExecute(ctx context.Context, jec interfaces.JobExecContext) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.postRuns++
	return nil
}

func newTestScheduler() (*Scheduler, *fakeExecStore) {
	store := newFakeExecStore()
	bag := interfaces.NewStateBag()
	sched := New(store, nil, bag, common.NewLogger("error"))
	return sched, store
}

func TestScheduler_ManualRunJobExecutesAndPersists(t *testing.T) {
	sched, store := newTestScheduler()
	job := &fakeJob{}

	if err := sched.Add("cleanup", string(models.JobKindManual), "", job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	if err := sched.RunJob(ctx, "cleanup"); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	waitFor(t, func() bool {
		job.mu.Lock()
		defer job.mu.Unlock()
		return job.runs == 1 && job.postRuns == 1
	})

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 execution row, got %d", len(list))
	}
	if list[0].ErrorFlag {
		t.Error("expected no error flag on a successful run")
	}
}

func TestScheduler_RunJobPersistsHandlerError(t *testing.T) {
	sched, store := newTestScheduler()
	job := &fakeJob{fail: errors.New("boom")}

	if err := sched.Add("refresh", string(models.JobKindManual), "", job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop(context.Background())

	sched.RunJob(ctx, "refresh")

	waitFor(t, func() bool {
		job.mu.Lock()
		defer job.mu.Unlock()
		return job.runs == 1
	})

	list, _ := store.List(ctx, 10)
	if len(list) != 1 || !list[0].ErrorFlag || list[0].ErrorMessage != "boom" {
		t.Fatalf("expected a persisted failure row, got %+v", list)
	}
	if job.postRuns != 0 {
		t.Error("PostExecute must not run after Execute fails")
	}
}

func TestScheduler_RunJobRejectsUnknownName(t *testing.T) {
	sched, _ := newTestScheduler()
	ctx := context.Background()
	sched.Start(ctx)
	defer sched.Stop(ctx)

	if err := sched.RunJob(ctx, "does-not-exist"); err == nil {
		t.Error("expected an error for an unregistered job name")
	}
}

func TestScheduler_IntrospectReportsCronCountdown(t *testing.T) {
	sched, _ := newTestScheduler()
	job := &fakeJob{}

	if err := sched.Add("heartbeat", string(models.JobKindCron), "*/5 * * * * *", job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	views, err := sched.Introspect()
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 job status, got %d", len(views))
	}
	if views[0].SecondsUntilNext == nil {
		t.Error("expected a cron job to report seconds_until_next")
	}
}

func TestScheduler_AddRejectsDuplicateName(t *testing.T) {
	sched, _ := newTestScheduler()
	job := &fakeJob{}

	if err := sched.Add("dup", string(models.JobKindManual), "", job); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := sched.Add("dup", string(models.JobKindManual), "", job); err == nil {
		t.Error("expected an error registering the same job name twice")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition was not met within 2s")
}
