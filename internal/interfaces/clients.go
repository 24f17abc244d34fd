package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/offerengine/internal/models"
)

// UpstreamOffer is one offer as reported by the third-party vendor feed.
// The vendor HTTP client itself is an explicit Non-goal (spec §1); only
// this contract is named.
type UpstreamOffer struct {
	OfferID       int64
	PropositionID int64
	Name          string
	ShortName     string
	Description   string
	ImageBasename string
	Price         *float64
	ValidFrom     time.Time
	ValidTo       time.Time
}

// UpstreamPoints is the customer points balance as reported upstream.
type UpstreamPoints struct {
	CurrentPoints  int
	LifetimePoints int
}

// ThirdPartyClient is a per-account upstream API client bound to a single
// access token.
type ThirdPartyClient interface {
	ListOffers(ctx context.Context) ([]UpstreamOffer, error)
	GetPoints(ctx context.Context) (UpstreamPoints, error)
	// RefreshSession exchanges a refresh token for a new access/refresh
	// token pair.
	RefreshSession(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)
}

// ThirdPartyClientFactory builds a ThirdPartyClient bound to a specific
// access token, e.g. after the credential-rotation fast path resolves one.
type ThirdPartyClientFactory interface {
	NewClient(accessToken string) ThirdPartyClient
}

// ObjectStore is the image/blob destination SaveImage writes to. Image
// transcoding beyond a thin interface is an explicit Non-goal (spec §1).
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	FetchUpstream(ctx context.Context, basename string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// OfferCache is the key-value cache PopulateOfferDetailsCache writes to.
type OfferCache interface {
	Set(ctx context.Context, item *models.OfferCatalogItem, ttl time.Duration) error
	Get(ctx context.Context, propositionID int64) (*models.OfferCatalogItem, bool, error)
}

// NewOfferConfig is the dynamic-config payload gating NewOfferFound.
type NewOfferConfig struct {
	WebhookURLs []string
}

// FeatureFlagClient is the dynamic-config/feature-flag dependency
// NewOfferFound needs (spec §4.5): skip silently if the flag is off or
// the webhook list is empty.
type FeatureFlagClient interface {
	IsEnabled(ctx context.Context, flagKey string) (bool, error)
	GetNewOfferConfig(ctx context.Context) (NewOfferConfig, error)
}

// NotificationSender delivers a transport-agnostic Notification. Discord
// webhook formatting itself is an explicit Non-goal (spec §1); this is
// the boundary the handler calls into.
type NotificationSender interface {
	Send(ctx context.Context, webhookURL string, n models.Notification) error
}
