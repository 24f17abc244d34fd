// Package interfaces defines the storage and service contracts for the
// event engine.
package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/models"
)

// StorageManager coordinates all storage backends.
type StorageManager interface {
	EventStore() EventStore
	JobExecutionStore() JobExecutionStore
	AccountLeaseStore() AccountLeaseStore
	AccountStore() AccountStore
	OfferCatalogStore() OfferCatalogStore
	OfferInstanceStore() OfferInstanceStore
	OfferAuditStore() OfferAuditStore
	CustomerPointsStore() CustomerPointsStore
	RecommendationStore() RecommendationStore

	// Health reports whether the backing database is reachable.
	Health(ctx context.Context) error

	Close() error
}

// InsertResult reports the outcome of an EventStore.Insert dedup check.
type InsertResult struct {
	Event  *models.Event
	WasDup bool
}

// EventStore is the durable persistence layer for Event rows: insert with
// dedup, state transitions, reload-on-start queries, history queries.
type EventStore interface {
	// Insert persists evt with status=Pending if no non-terminal row with
	// the same hash exists; otherwise persists a Duplicate row referencing
	// no work and returns WasDup=true.
	Insert(ctx context.Context, evt *models.Event) (InsertResult, error)

	Get(ctx context.Context, publicID uuid.UUID) (*models.Event, error)

	// MarkRunning transitions Pending->Running and increments attempts.
	// Returns the row's up-to-date status so the caller can detect it was
	// cancelled/duplicate and skip dispatch.
	MarkRunning(ctx context.Context, publicID uuid.UUID) (*models.Event, error)
	MarkCompleted(ctx context.Context, publicID uuid.UUID) error
	MarkFailed(ctx context.Context, publicID uuid.UUID, errMsg string) error

	// Cancel transitions a Pending row to Cancelled. Returns false if the
	// row is already terminal.
	Cancel(ctx context.Context, publicID uuid.UUID) (bool, error)

	// ReloadIncomplete returns rows with status in {Pending, Running},
	// ordered by scheduled_for ascending, re-marking Running rows back to
	// Pending as a side effect (their worker is dead).
	ReloadIncomplete(ctx context.Context) ([]*models.Event, error)

	// History returns active (Pending/Running) rows, earliest
	// scheduled_for first, and historical (Completed/Failed/Duplicate/
	// Cancelled) rows, most recently updated first, capped at limit each.
	History(ctx context.Context, limit int) (active, historical []*models.Event, err error)
}

// JobExecutionStore persists JobExecution rows.
type JobExecutionStore interface {
	Begin(ctx context.Context, jobName string) (*models.JobExecution, error)
	Complete(ctx context.Context, id string, execErr error) error
	SetContext(ctx context.Context, id string, jobCtx models.JobContext) error
	GetContext(ctx context.Context, id string) (models.JobContext, error)
	List(ctx context.Context, limit int) ([]*models.JobExecution, error)
}

// AccountLeaseStore is the durable lease table.
type AccountLeaseStore interface {
	// Acquire inserts a lease row if none live exists. Returns false if a
	// live lease (unlock_at > now) already exists for accountID.
	Acquire(ctx context.Context, accountID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID uuid.UUID) error
	GetAllLocked(ctx context.Context) ([]uuid.UUID, error)
	// Sweep deletes rows whose unlock_at <= now and returns the count.
	Sweep(ctx context.Context) (int, error)
}

// AccountStore manages Account rows.
type AccountStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// NextDueForRefresh selects the active account with the oldest
	// offers_refreshed_at and refresh_failure_count <= threshold,
	// excluding currently-leased accounts.
	NextDueForRefresh(ctx context.Context, failureThreshold int, excludeLeased []uuid.UUID) (*models.Account, error)
	RotateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, refreshedAt time.Time) error
	StampOffersRefreshed(ctx context.Context, id uuid.UUID, at time.Time) error
	IncrementRefreshFailure(ctx context.Context, id uuid.UUID) (int, error)
}

// OfferCatalogStore manages OfferCatalogItem rows.
type OfferCatalogStore interface {
	Upsert(ctx context.Context, item *models.OfferCatalogItem) error
	Get(ctx context.Context, propositionID int64) (*models.OfferCatalogItem, error)
	List(ctx context.Context, propositionIDs []int64) ([]*models.OfferCatalogItem, error)
	All(ctx context.Context) ([]*models.OfferCatalogItem, error)
}

// OfferInstanceStore manages OfferInstance rows.
type OfferInstanceStore interface {
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.OfferInstance, error)
	Insert(ctx context.Context, inst *models.OfferInstance) error
	Delete(ctx context.Context, id uuid.UUID) error
	// KnownPropositions reports which proposition ids currently have an
	// instance in any account, used to detect new offers. Deleted
	// instances no longer count.
	KnownPropositions(ctx context.Context, propositionIDs []int64) (map[int64]bool, error)
}

// OfferAuditStore manages OfferAudit rows.
type OfferAuditStore interface {
	Record(ctx context.Context, audit *models.OfferAudit) error
	ForUser(ctx context.Context, userID uuid.UUID, sinceDays int) ([]*models.OfferAudit, error)
}

// CustomerPointsStore manages CustomerPoints rows.
type CustomerPointsStore interface {
	Upsert(ctx context.Context, points *models.CustomerPoints) error
	Get(ctx context.Context, accountID uuid.UUID) (*models.CustomerPoints, error)
}

// RecommendationStore manages Recommendation rows.
type RecommendationStore interface {
	Upsert(ctx context.Context, rec *models.Recommendation) error
}
