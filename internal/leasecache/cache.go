// Package leasecache implements the exclusive per-account lease (spec
// §4.3 AccountLeaseCache) and the credential-rotation fast path that
// hands callers a live upstream API client.
package leasecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

// ErrBusy is returned by Acquire when a live lease already exists.
var ErrBusy = errors.New("account is already leased")

// Cache coordinates the durable lease table and the access-token
// rotation fast path. Both are backed by the same AccountStore/
// AccountLeaseStore rows, so rotation and lease acquisition observe a
// consistent view of an account without a separate locking layer.
type Cache struct {
	leaseStore    interfaces.AccountLeaseStore
	accountStore  interfaces.AccountStore
	clientFactory interfaces.ThirdPartyClientFactory
	logger        *common.Logger
}

// New creates a Cache.
func New(leaseStore interfaces.AccountLeaseStore, accountStore interfaces.AccountStore, clientFactory interfaces.ThirdPartyClientFactory, logger *common.Logger) *Cache {
	return &Cache{
		leaseStore:    leaseStore,
		accountStore:  accountStore,
		clientFactory: clientFactory,
		logger:        logger,
	}
}

// Acquire obtains exclusive ownership of accountID for up to ttl. It
// returns ErrBusy if a live lease already exists (spec §4.3 acquire).
func (c *Cache) Acquire(ctx context.Context, accountID uuid.UUID, ttl time.Duration) error {
	ok, err := c.leaseStore.Acquire(ctx, accountID, ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire lease for account %s: %w", accountID, err)
	}
	if !ok {
		return ErrBusy
	}
	return nil
}

// Release deletes the lease row for accountID.
func (c *Cache) Release(ctx context.Context, accountID uuid.UUID) error {
	return c.leaseStore.Release(ctx, accountID)
}

// GetAllLocked lists accounts with a live lease, for admission control on
// the refresh and offer-listing paths (spec §4.3 get_all_locked).
func (c *Cache) GetAllLocked(ctx context.Context) ([]uuid.UUID, error) {
	return c.leaseStore.GetAllLocked(ctx)
}

// Sweep removes expired lease rows, the fallback for handlers that
// crashed without releasing (spec §4.3 sweep). Intended to be driven by
// a scheduled job.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	return c.leaseStore.Sweep(ctx)
}

// GetClient resolves a live upstream API client for accountID, rotating
// the access token first if it is due (spec §4.3 credential-rotation
// fast path). Rotation and persistence happen against the same
// AccountStore row the caller already holds a lease on, so two racing
// handlers for the same account cannot both burn the refresh token —
// the lease, not a separate lock, is what makes this safe.
func (c *Cache) GetClient(ctx context.Context, accountID uuid.UUID) (interfaces.ThirdPartyClient, error) {
	acct, err := c.accountStore.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}

	now := time.Now()
	if acct.NeedsRotation(now) {
		if err := c.rotate(ctx, acct, now); err != nil {
			return nil, err
		}
	}

	return c.clientFactory.NewClient(acct.AccessToken), nil
}

func (c *Cache) rotate(ctx context.Context, acct *models.Account, now time.Time) error {
	stale := c.clientFactory.NewClient(acct.AccessToken)
	newAccess, newRefresh, err := stale.RefreshSession(ctx, acct.RefreshToken)
	if err != nil {
		if failures, incErr := c.accountStore.IncrementRefreshFailure(ctx, acct.ID); incErr == nil {
			c.logger.Warn().
				Str("account_id", acct.ID.String()).
				Int("refresh_failure_count", failures).
				Err(err).
				Msg("Credential rotation failed")
		}
		return fmt.Errorf("failed to rotate session for account %s: %w", acct.ID, err)
	}

	if err := c.accountStore.RotateTokens(ctx, acct.ID, newAccess, newRefresh, now); err != nil {
		return fmt.Errorf("failed to persist rotated tokens for account %s: %w", acct.ID, err)
	}

	acct.AccessToken = newAccess
	acct.RefreshToken = newRefresh
	acct.RefreshedAt = now
	return nil
}
