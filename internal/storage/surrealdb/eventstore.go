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

// row_id is aliased to id for struct mapping (SurrealDB's native id meta
// field is a record pointer, not a plain string, same workaround as the
// teacher's "job_id as id").
const eventSelectFields = "row_id as id, public_id, name, payload, scheduled_for, status, attempts, error_flag, error_message, completed_at, trace_id, hash, created_at, updated_at"

// EventStore implements interfaces.EventStore using SurrealDB.
type EventStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewEventStore creates a new EventStore.
func NewEventStore(db *surrealdb.DB, logger *common.Logger) *EventStore {
	return &EventStore{db: db, logger: logger}
}

// Insert persists evt with status=Pending unless a non-terminal row with
// the same hash already exists, in which case a Duplicate row is written
// instead and WasDup is reported true (spec §4.1 dedup-by-hash).
//
// The dedup check is made atomic by first trying to INSERT a claim row
// keyed on the hash itself: SurrealDB rejects an INSERT at an id that is
// already taken, so two concurrent inserts with an identical hash can
// never both believe they own it. The claim is released once the event
// reaches a terminal state, freeing the hash for reuse.
func (s *EventStore) Insert(ctx context.Context, evt *models.Event) (interfaces.InsertResult, error) {
	claimSQL := `INSERT INTO event_hash_claim (id) VALUES ($rid)`
	claimVars := map[string]any{"rid": surrealmodels.NewRecordID("event_hash_claim", evt.Hash)}
	_, claimErr := surrealdb.Query[any](ctx, s.db, claimSQL, claimVars)

	var wasDup bool
	if claimErr != nil {
		claimed, checkErr := s.hashClaimed(ctx, evt.Hash)
		if checkErr != nil || !claimed {
			return interfaces.InsertResult{}, fmt.Errorf("failed to claim event hash: %w", claimErr)
		}
		wasDup = true
	}

	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.PublicID == uuid.Nil {
		evt.PublicID = uuid.New()
	}
	now := time.Now()
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = now
	}
	evt.UpdatedAt = now
	if wasDup {
		evt.Status = models.EventStatusDuplicate
	} else if evt.Status == "" {
		evt.Status = models.EventStatusPending
	}

	sql := `UPSERT $rid SET
		row_id = $row_id, public_id = $public_id, name = $name, payload = $payload, scheduled_for = $scheduled_for,
		status = $status, attempts = $attempts, error_flag = $error_flag, error_message = $error_message,
		completed_at = $completed_at, trace_id = $trace_id, hash = $hash,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("event", evt.ID),
		"row_id":        evt.ID,
		"public_id":     evt.PublicID.String(),
		"name":          evt.Name,
		"payload":       json.RawMessage(evt.Payload),
		"scheduled_for": evt.ScheduledFor,
		"status":        evt.Status,
		"attempts":      evt.Attempts,
		"error_flag":    evt.ErrorFlag,
		"error_message": evt.ErrorMessage,
		"completed_at":  evt.CompletedAt,
		"trace_id":      evt.TraceID,
		"hash":          evt.Hash,
		"created_at":    evt.CreatedAt,
		"updated_at":    evt.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return interfaces.InsertResult{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return interfaces.InsertResult{Event: evt, WasDup: wasDup}, nil
}

func (s *EventStore) Get(ctx context.Context, publicID uuid.UUID) (*models.Event, error) {
	sql := "SELECT " + eventSelectFields + " FROM event WHERE public_id = $public_id LIMIT 1"
	vars := map[string]any{"public_id": publicID.String()}

	results, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	evt := (*results)[0].Result[0]
	return &evt, nil
}

// MarkRunning transitions Pending->Running and increments attempts,
// returning the up-to-date row so the caller can detect a concurrent
// cancel/duplicate and skip dispatch (spec §4.1).
func (s *EventStore) MarkRunning(ctx context.Context, publicID uuid.UUID) (*models.Event, error) {
	sql := `UPDATE event SET status = $running, attempts = attempts + 1, updated_at = $now
		WHERE public_id = $public_id AND status = $pending`
	vars := map[string]any{
		"public_id": publicID.String(),
		"running":   models.EventStatusRunning,
		"pending":   models.EventStatusPending,
		"now":       time.Now(),
	}
	if _, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to mark event running: %w", err)
	}
	return s.Get(ctx, publicID)
}

func (s *EventStore) MarkCompleted(ctx context.Context, publicID uuid.UUID) error {
	evt, err := s.Get(ctx, publicID)
	if err != nil {
		return err
	}

	sql := `UPDATE event SET status = $status, completed_at = $now, updated_at = $now WHERE public_id = $public_id`
	vars := map[string]any{
		"public_id": publicID.String(),
		"status":    models.EventStatusCompleted,
		"now":       time.Now(),
	}
	if _, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to mark event completed: %w", err)
	}
	if evt != nil {
		s.releaseHashClaim(ctx, evt.Hash)
	}
	return nil
}

func (s *EventStore) MarkFailed(ctx context.Context, publicID uuid.UUID, errMsg string) error {
	evt, err := s.Get(ctx, publicID)
	if err != nil {
		return err
	}

	sql := `UPDATE event SET status = $status, error_flag = true, error_message = $err,
		completed_at = $now, updated_at = $now WHERE public_id = $public_id`
	vars := map[string]any{
		"public_id": publicID.String(),
		"status":    models.EventStatusFailed,
		"err":       errMsg,
		"now":       time.Now(),
	}
	if _, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	if evt != nil {
		s.releaseHashClaim(ctx, evt.Hash)
	}
	return nil
}

// Cancel transitions a Pending row to Cancelled, returning false if the
// row was already terminal (or running).
func (s *EventStore) Cancel(ctx context.Context, publicID uuid.UUID) (bool, error) {
	evt, err := s.Get(ctx, publicID)
	if err != nil {
		return false, err
	}
	if evt == nil || evt.Status != models.EventStatusPending {
		return false, nil
	}

	sql := `UPDATE event SET status = $cancelled, updated_at = $now WHERE public_id = $public_id AND status = $pending`
	vars := map[string]any{
		"public_id": publicID.String(),
		"cancelled": models.EventStatusCancelled,
		"pending":   models.EventStatusPending,
		"now":       time.Now(),
	}
	if _, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars); err != nil {
		return false, fmt.Errorf("failed to cancel event: %w", err)
	}
	s.releaseHashClaim(ctx, evt.Hash)
	return true, nil
}

// hashClaimed reports whether a claim row for hash currently exists,
// used to tell a genuine query failure apart from a real conflict when
// the claiming INSERT in Insert errors.
func (s *EventStore) hashClaimed(ctx context.Context, hash string) (bool, error) {
	sql := "SELECT id FROM event_hash_claim WHERE id = $rid LIMIT 1"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("event_hash_claim", hash)}
	results, err := surrealdb.Query[[]struct {
		ID string `json:"id"`
	}](ctx, s.db, sql, vars)
	if err != nil {
		return false, err
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// releaseHashClaim deletes the claim row for hash once an event reaches
// a terminal state, freeing the hash for a future non-duplicate insert.
// Best-effort: a failure here only delays reuse of the hash, it does not
// corrupt the event row itself, so it is logged rather than propagated.
func (s *EventStore) releaseHashClaim(ctx context.Context, hash string) {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("event_hash_claim", hash)}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to release event hash claim")
	}
}

// ReloadIncomplete returns Pending/Running rows ordered by scheduled_for
// ascending, re-marking Running rows back to Pending as a side effect
// since their original worker is dead (spec §4.1, §5 "recovery on start").
func (s *EventStore) ReloadIncomplete(ctx context.Context) ([]*models.Event, error) {
	resetSQL := `UPDATE event SET status = $pending, updated_at = $now WHERE status = $running`
	if _, err := surrealdb.Query[any](ctx, s.db, resetSQL, map[string]any{
		"pending": models.EventStatusPending,
		"running": models.EventStatusRunning,
		"now":     time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to reset running events: %w", err)
	}

	sql := "SELECT " + eventSelectFields + " FROM event WHERE status = $pending ORDER BY scheduled_for ASC"
	results, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, map[string]any{"pending": models.EventStatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to reload incomplete events: %w", err)
	}
	return toEventPointers(results), nil
}

// History returns active rows ordered by scheduled_for ascending and
// historical rows ordered by updated_at descending, capped at limit each.
func (s *EventStore) History(ctx context.Context, limit int) (active, historical []*models.Event, err error) {
	if limit <= 0 {
		limit = 100
	}

	activeSQL := "SELECT " + eventSelectFields + " FROM event WHERE status IN ['pending', 'running'] ORDER BY scheduled_for ASC LIMIT $limit"
	activeResults, err := surrealdb.Query[[]models.Event](ctx, s.db, activeSQL, map[string]any{"limit": limit})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list active events: %w", err)
	}

	historicalSQL := "SELECT " + eventSelectFields + " FROM event WHERE status IN ['completed', 'failed', 'duplicate', 'cancelled'] ORDER BY updated_at DESC LIMIT $limit"
	historicalResults, err := surrealdb.Query[[]models.Event](ctx, s.db, historicalSQL, map[string]any{"limit": limit})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list historical events: %w", err)
	}

	return toEventPointers(activeResults), toEventPointers(historicalResults), nil
}

func toEventPointers(results *[]surrealdb.QueryResult[[]models.Event]) []*models.Event {
	var out []*models.Event
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out
}

// Compile-time check
var _ interfaces.EventStore = (*EventStore)(nil)
