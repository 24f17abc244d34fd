package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
)

// AccountLeaseStore implements interfaces.AccountLeaseStore using
// SurrealDB. The durable row reproduces the TTL-bounded exclusive claim
// the original Rust account_manager held in Redis via SETEX/SCAN/DEL.
type AccountLeaseStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAccountLeaseStore creates a new AccountLeaseStore.
func NewAccountLeaseStore(db *surrealdb.DB, logger *common.Logger) *AccountLeaseStore {
	return &AccountLeaseStore{db: db, logger: logger}
}

// Acquire claims the lease row for accountID without a check-then-act
// window. It first tries to reclaim an expired row with a single
// conditional UPDATE, the same WHERE-gated claim the teacher's
// jobqueue.go Dequeue uses to avoid double-claiming a job. If no row
// exists yet it falls back to a plain INSERT, which SurrealDB rejects
// outright when a record already sits at that id — so two concurrent
// first-time Acquire calls for the same accountID can never both win.
func (s *AccountLeaseStore) Acquire(ctx context.Context, accountID uuid.UUID, ttl time.Duration) (bool, error) {
	now := time.Now()
	unlockAt := now.Add(ttl)
	rid := surrealmodels.NewRecordID("account_lease", accountID.String())
	vars := map[string]any{
		"rid":        rid,
		"account_id": accountID.String(),
		"unlock_at":  unlockAt,
		"now":        now,
	}

	reclaimSQL := `UPDATE $rid SET account_id = $account_id, unlock_at = $unlock_at, created_at = $now WHERE unlock_at <= $now`
	reclaimed, err := surrealdb.Query[[]struct {
		AccountID string `json:"account_id"`
	}](ctx, s.db, reclaimSQL, vars)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim expired lease: %w", err)
	}
	if reclaimed != nil && len(*reclaimed) > 0 && len((*reclaimed)[0].Result) > 0 {
		return true, nil
	}

	insertSQL := `INSERT INTO account_lease (id, account_id, unlock_at, created_at) VALUES ($rid, $account_id, $unlock_at, $now)`
	if _, err := surrealdb.Query[any](ctx, s.db, insertSQL, vars); err != nil {
		live, liveErr := s.hasLiveLease(ctx, accountID, now)
		if liveErr != nil {
			return false, fmt.Errorf("failed to acquire lease: %w", err)
		}
		if live {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return true, nil
}

func (s *AccountLeaseStore) hasLiveLease(ctx context.Context, accountID uuid.UUID, now time.Time) (bool, error) {
	sql := "SELECT account_id FROM account_lease WHERE account_id = $account_id AND unlock_at > $now LIMIT 1"
	existing, err := surrealdb.Query[[]struct {
		AccountID string `json:"account_id"`
	}](ctx, s.db, sql, map[string]any{"account_id": accountID.String(), "now": now})
	if err != nil {
		return false, err
	}
	return existing != nil && len(*existing) > 0 && len((*existing)[0].Result) > 0, nil
}

func (s *AccountLeaseStore) Release(ctx context.Context, accountID uuid.UUID) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("account_lease", accountID.String())}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (s *AccountLeaseStore) GetAllLocked(ctx context.Context) ([]uuid.UUID, error) {
	sql := "SELECT account_id FROM account_lease WHERE unlock_at > $now"
	results, err := surrealdb.Query[[]struct {
		AccountID string `json:"account_id"`
	}](ctx, s.db, sql, map[string]any{"now": time.Now()})
	if err != nil {
		return nil, fmt.Errorf("failed to list locked accounts: %w", err)
	}

	var ids []uuid.UUID
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			id, err := uuid.Parse(row.AccountID)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Sweep deletes rows whose unlock_at <= now; the janitor's periodic pass
// (spec §4.3 "a lease janitor").
func (s *AccountLeaseStore) Sweep(ctx context.Context) (int, error) {
	sql := "SELECT account_id FROM account_lease WHERE unlock_at <= $now"
	expired, err := surrealdb.Query[[]struct {
		AccountID string `json:"account_id"`
	}](ctx, s.db, sql, map[string]any{"now": time.Now()})
	if err != nil {
		return 0, fmt.Errorf("failed to find expired leases: %w", err)
	}
	if expired == nil || len(*expired) == 0 || len((*expired)[0].Result) == 0 {
		return 0, nil
	}

	count := len((*expired)[0].Result)
	deleteSQL := "DELETE FROM account_lease WHERE unlock_at <= $now"
	if _, err := surrealdb.Query[any](ctx, s.db, deleteSQL, map[string]any{"now": time.Now()}); err != nil {
		return 0, fmt.Errorf("failed to sweep expired leases: %w", err)
	}
	return count, nil
}

// Compile-time check
var _ interfaces.AccountLeaseStore = (*AccountLeaseStore)(nil)
