package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

// row_id is aliased to id for struct mapping, same workaround as
// eventSelectFields.
const jobExecSelectFields = "row_id as id, job_name, started_at, completed_at, error_flag, error_message, context"

// JobExecutionStore implements interfaces.JobExecutionStore using SurrealDB.
type JobExecutionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobExecutionStore creates a new JobExecutionStore.
func NewJobExecutionStore(db *surrealdb.DB, logger *common.Logger) *JobExecutionStore {
	return &JobExecutionStore{db: db, logger: logger}
}

// Begin inserts a new in-flight JobExecution row.
func (s *JobExecutionStore) Begin(ctx context.Context, jobName string) (*models.JobExecution, error) {
	id := uuid.New().String()
	started := time.Now()

	sql := `UPSERT $rid SET row_id = $row_id, job_name = $job_name, started_at = $started_at,
		error_flag = false, error_message = '', context = $context`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("job_execution", id),
		"row_id":     id,
		"job_name":   jobName,
		"started_at": started,
		"context":    models.JobContext{},
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to begin job execution: %w", err)
	}

	return &models.JobExecution{
		ID:        id,
		JobName:   jobName,
		StartedAt: started,
		Context:   models.JobContext{},
	}, nil
}

// Complete stamps completed_at and, if execErr is non-nil, the error
// fields (spec §4.2: a failed Execute never runs PostExecute).
func (s *JobExecutionStore) Complete(ctx context.Context, id string, execErr error) error {
	now := time.Now()
	errFlag := execErr != nil
	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}

	sql := `UPDATE $rid SET completed_at = $now, error_flag = $error_flag, error_message = $error_message`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("job_execution", id),
		"now":           now,
		"error_flag":    errFlag,
		"error_message": errMsg,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to complete job execution: %w", err)
	}
	return nil
}

// SetContext persists the Context bag a job's Execute step buffered for
// its PostExecute step (spec §4.2, §4.4's consequence-event buffering).
func (s *JobExecutionStore) SetContext(ctx context.Context, id string, jobCtx models.JobContext) error {
	sql := `UPDATE $rid SET context = $context`
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("job_execution", id),
		"context": jobCtx,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set job execution context: %w", err)
	}
	return nil
}

func (s *JobExecutionStore) GetContext(ctx context.Context, id string) (models.JobContext, error) {
	sql := "SELECT context FROM $rid"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("job_execution", id)}

	type row struct {
		Context json.RawMessage `json:"context"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get job execution context: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.JobContext{}, nil
	}

	var jobCtx models.JobContext
	if err := json.Unmarshal((*results)[0].Result[0].Context, &jobCtx); err != nil {
		return models.JobContext{}, fmt.Errorf("failed to decode job execution context: %w", err)
	}
	return jobCtx, nil
}

func (s *JobExecutionStore) List(ctx context.Context, limit int) ([]*models.JobExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + jobExecSelectFields + " FROM job_execution ORDER BY started_at DESC LIMIT $limit"
	results, err := surrealdb.Query[[]models.JobExecution](ctx, s.db, sql, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list job executions: %w", err)
	}
	return toJobExecutionPointers(results), nil
}

func toJobExecutionPointers(results *[]surrealdb.QueryResult[[]models.JobExecution]) []*models.JobExecution {
	var out []*models.JobExecution
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out
}

// Compile-time check
var _ interfaces.JobExecutionStore = (*JobExecutionStore)(nil)
