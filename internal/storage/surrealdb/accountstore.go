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
	"github.com/bobmcallan/offerengine/internal/models"
)

// row_id is aliased to id for struct mapping, same workaround as
// eventSelectFields: SurrealDB's native id meta field is a record
// pointer, not a plain uuid.UUID-shaped value.
const accountSelectFields = "row_id as id, username, access_token, refresh_token, refreshed_at, active, refresh_failure_count, offers_refreshed_at, created_at, updated_at"

// AccountStore implements interfaces.AccountStore using SurrealDB.
type AccountStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *surrealdb.DB, logger *common.Logger) *AccountStore {
	return &AccountStore{db: db, logger: logger}
}

func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	sql := "SELECT " + accountSelectFields + " FROM account WHERE row_id = $row_id LIMIT 1"
	results, err := surrealdb.Query[[]models.Account](ctx, s.db, sql, map[string]any{"row_id": id.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	acc := (*results)[0].Result[0]
	return &acc, nil
}

// NextDueForRefresh selects the active, non-leased account with the
// oldest offers_refreshed_at whose refresh_failure_count hasn't tripped
// the cutoff (spec §4.4 account-selection policy).
func (s *AccountStore) NextDueForRefresh(ctx context.Context, failureThreshold int, excludeLeased []uuid.UUID) (*models.Account, error) {
	excluded := make([]string, 0, len(excludeLeased))
	for _, id := range excludeLeased {
		excluded = append(excluded, id.String())
	}

	sql := "SELECT " + accountSelectFields + ` FROM account
		WHERE active = true AND refresh_failure_count <= $threshold AND row_id NOT IN $excluded
		ORDER BY offers_refreshed_at ASC LIMIT 1`
	vars := map[string]any{
		"threshold": failureThreshold,
		"excluded":  excluded,
	}

	results, err := surrealdb.Query[[]models.Account](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to select next account for refresh: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	acc := (*results)[0].Result[0]
	return &acc, nil
}

// RotateTokens stamps fresh credentials with a single UPDATE. It runs as
// its own statement and does not share a transaction with lease
// acquisition.
func (s *AccountStore) RotateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, refreshedAt time.Time) error {
	sql := `UPDATE $rid SET access_token = $access_token, refresh_token = $refresh_token,
		refreshed_at = $refreshed_at, updated_at = $now`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("account", id.String()),
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"refreshed_at":  refreshedAt,
		"now":           time.Now(),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to rotate account tokens: %w", err)
	}
	return nil
}

func (s *AccountStore) StampOffersRefreshed(ctx context.Context, id uuid.UUID, at time.Time) error {
	sql := `UPDATE $rid SET offers_refreshed_at = $at, updated_at = $now`
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("account", id.String()),
		"at":  at,
		"now": time.Now(),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to stamp offers_refreshed_at: %w", err)
	}
	return nil
}

// IncrementRefreshFailure bumps refresh_failure_count and returns the
// new count, so callers can compare it against the scheduler's
// FailureThreshold without a second round trip.
func (s *AccountStore) IncrementRefreshFailure(ctx context.Context, id uuid.UUID) (int, error) {
	sql := `UPDATE $rid SET refresh_failure_count = refresh_failure_count + 1, updated_at = $now`
	vars := map[string]any{"rid": surrealmodels.NewRecordID("account", id.String()), "now": time.Now()}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return 0, fmt.Errorf("failed to increment refresh failure count: %w", err)
	}

	acc, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, fmt.Errorf("account %s not found after failure increment", id)
	}
	return acc.RefreshFailureCount, nil
}

// Compile-time check
var _ interfaces.AccountStore = (*AccountStore)(nil)
