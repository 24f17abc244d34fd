package models

import (
	"time"

	"github.com/google/uuid"
)

// OfferCatalogItem is the locally cached metadata for an upstream
// proposition, keyed by proposition_id.
type OfferCatalogItem struct {
	PropositionID int64     `json:"proposition_id"`
	Name          string    `json:"name"`
	ShortName     string    `json:"short_name"`
	Description   string    `json:"description"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	ImageBasename string    `json:"image_basename"`
	Price         *float64  `json:"price,omitempty"`
	Categories    []string  `json:"categories"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OfferInstance is a specific upstream offer bound to a specific account
// at a point in time. Created by RefreshPipeline from upstream data;
// removed when the upstream feed no longer contains it.
type OfferInstance struct {
	ID            uuid.UUID `json:"id"`
	OfferID       int64     `json:"offer_id"`
	PropositionID int64     `json:"proposition_id"`
	AccountID     uuid.UUID `json:"account_id"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	CreationDate  time.Time `json:"creation_date"`
}

// AuditAction is the kind of catalog mutation an OfferAudit row records.
type AuditAction string

const (
	AuditActionAdd    AuditAction = "add"
	AuditActionRemove AuditAction = "remove"
)

// OfferAudit records an OfferInstance add/remove event for a user, feeding
// GenerateRecommendations' scoring (supplemented from
// original_source/entity/src/offer_audit.rs — spec.md references "past
// audit entries" in §4.5 without defining this table).
type OfferAudit struct {
	ID            int64       `json:"id"`
	PropositionID int64       `json:"proposition_id"`
	AccountID     uuid.UUID   `json:"account_id"`
	UserID        uuid.UUID   `json:"user_id"`
	Action        AuditAction `json:"action"`
	CreatedAt     time.Time   `json:"created_at"`
}

// CustomerPoints is the points balance snapshot written by RefreshPoints
// (supplemented from original_source/entity/src/points.rs).
type CustomerPoints struct {
	AccountID      uuid.UUID `json:"account_id"`
	CurrentPoints  int       `json:"current_points"`
	LifetimePoints int       `json:"lifetime_points"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Recommendation is the offline scoring output of GenerateRecommendations,
// one row per user holding the current top-K proposition ids.
type Recommendation struct {
	UserID         uuid.UUID `json:"user_id"`
	PropositionIDs []int64   `json:"proposition_ids"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Notification is the transport-agnostic payload NewOfferFound hands to
// an interfaces.NotificationSender. Discord-specific formatting is an
// explicit Non-goal (spec §1); this is as far as the handler goes.
type Notification struct {
	Title    string
	Fields   map[string]string
	ImageURL string
}
