package models

import (
	"time"

	"github.com/google/uuid"
)

// RotationThreshold is the design value (spec §4.3): an access token
// older than this must be rotated before the account is handed to a
// caller.
const RotationThreshold = 14 * time.Minute

// Account is a durable third-party upstream identity the system drives.
// refreshed_at is the instant access_token was issued.
type Account struct {
	ID                  uuid.UUID  `json:"id"`
	Username            string     `json:"username"`
	AccessToken         string     `json:"access_token"`
	RefreshToken        string     `json:"refresh_token"`
	RefreshedAt         time.Time  `json:"refreshed_at"`
	Active              bool       `json:"active"`
	RefreshFailureCount int        `json:"refresh_failure_count"`
	OffersRefreshedAt   time.Time  `json:"offers_refreshed_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NeedsRotation reports whether the account's access token is old enough
// that the credential-rotation fast path (spec §4.3) must fire.
func (a *Account) NeedsRotation(now time.Time) bool {
	return now.Sub(a.RefreshedAt) >= RotationThreshold
}

// AccountLease is a time-bounded exclusive claim on an account identity.
// A lease exists iff the account is currently leased; the janitor job
// deletes rows whose unlock_at <= now.
type AccountLease struct {
	AccountID uuid.UUID `json:"account_id"`
	UnlockAt  time.Time `json:"unlock_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsLive reports whether the lease is still in force at the given instant.
func (l *AccountLease) IsLive(now time.Time) bool {
	return l != nil && l.UnlockAt.After(now)
}
