// Package handlers implements the seven event variants of spec §4.5's
// HandlerRegistry. Each handler is idempotent (upsert or delete-then-
// insert) and degrades gracefully when an optional dependency (OfferCache,
// FeatureFlagClient) was never registered in the shared StateBag.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/eventmanager"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/leasecache"
	"github.com/bobmcallan/offerengine/internal/models"
	"github.com/bobmcallan/offerengine/internal/refresh"
)

// Scoring constants for GenerateRecommendations, carried over verbatim
// from the original implementation's generate_recommendations handler.
const (
	RecencyLastXDaysWeight = 2.5
	LastXDays              = 30
	RecommendationCount    = 5
)

// RefreshPointsRequeueDelay is how far out RefreshPoints re-arms itself,
// giving every account a standing points-refresh cadence without a
// dedicated cron job.
const RefreshPointsRequeueDelay = 15 * time.Minute

// offerCacheTTL bounds how long a cached catalog item may serve stale
// reads before PopulateOfferDetailsCache is expected to run again.
const offerCacheTTL = 24 * time.Hour

// Handlers holds the dependencies the seven event handlers need. Required
// dependencies are plain constructor arguments; OfferCache and
// FeatureFlagClient are optional and looked up per-call via
// interfaces.TryGet, matching the StateBag's own documented contract.
type Handlers struct {
	accountStore        interfaces.AccountStore
	catalogStore        interfaces.OfferCatalogStore
	auditStore          interfaces.OfferAuditStore
	pointsStore         interfaces.CustomerPointsStore
	recommendationStore interfaces.RecommendationStore
	objectStore         interfaces.ObjectStore
	notificationSender  interfaces.NotificationSender
	leaseCache          *leasecache.Cache
	pipeline            *refresh.Pipeline
	logger              *common.Logger
}

// New creates a Handlers.
func New(
	accountStore interfaces.AccountStore,
	catalogStore interfaces.OfferCatalogStore,
	auditStore interfaces.OfferAuditStore,
	pointsStore interfaces.CustomerPointsStore,
	recommendationStore interfaces.RecommendationStore,
	objectStore interfaces.ObjectStore,
	notificationSender interfaces.NotificationSender,
	leaseCache *leasecache.Cache,
	pipeline *refresh.Pipeline,
	logger *common.Logger,
) *Handlers {
	return &Handlers{
		accountStore:        accountStore,
		catalogStore:        catalogStore,
		auditStore:          auditStore,
		pointsStore:         pointsStore,
		recommendationStore: recommendationStore,
		objectStore:         objectStore,
		notificationSender:  notificationSender,
		leaseCache:          leaseCache,
		pipeline:            pipeline,
		logger:              logger,
	}
}

// RegisterAll binds all seven handlers into registry under the variant
// names spec §4.5/§6 use on the wire.
func (h *Handlers) RegisterAll(registry *eventmanager.Registry) {
	registry.Register("Cleanup", h.Cleanup)
	registry.Register("RefreshAccount", h.RefreshAccount)
	registry.Register("RefreshPoints", h.RefreshPoints)
	registry.Register("SaveImage", h.SaveImage)
	registry.Register("NewOfferFound", h.NewOfferFound)
	registry.Register("PopulateOfferDetailsCache", h.PopulateOfferDetailsCache)
	registry.Register("GenerateRecommendations", h.GenerateRecommendations)
}

// CleanupPayload names the offer whose transient state (if any) is
// being torn down. Kept best-effort: there is no durable object this
// handler must remove on the happy path.
type CleanupPayload struct {
	OfferID int64 `json:"offer_id"`
}

// Cleanup is a best-effort housekeeping hook. It never fails the event.
func (h *Handlers) Cleanup(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	var p CleanupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Msg("Cleanup received an unparseable payload, ignoring")
		return nil
	}
	h.logger.Debug().Int64("offer_id", p.OfferID).Msg("Cleanup handled")
	return nil
}

// RefreshAccountPayload names the account to reconcile against the
// upstream feed immediately, outside the scheduled sweep.
type RefreshAccountPayload struct {
	AccountID uuid.UUID `json:"account_id"`
}

// RefreshAccount runs RefreshPipeline's reconciliation core against one
// account on demand, the event-triggered counterpart to the scheduled
// RefreshPipeline job (spec §4.4).
func (h *Handlers) RefreshAccount(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	var p RefreshAccountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to parse RefreshAccount payload: %w", err)
	}
	if err := h.pipeline.RefreshOne(ctx, hc.EventManager, p.AccountID, hc.TraceID); err != nil {
		return fmt.Errorf("failed to refresh account %s: %w", p.AccountID, err)
	}
	return nil
}

// RefreshPointsPayload names the account whose points balance is pulled
// from upstream.
type RefreshPointsPayload struct {
	AccountID uuid.UUID `json:"account_id"`
}

// RefreshPoints pulls the upstream points balance and upserts it, then
// re-arms itself so every account keeps a standing refresh cadence
// (spec §4.5).
func (h *Handlers) RefreshPoints(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	var p RefreshPointsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to parse RefreshPoints payload: %w", err)
	}

	client, err := h.leaseCache.GetClient(ctx, p.AccountID)
	if err != nil {
		return fmt.Errorf("failed to activate an upstream client for account %s: %w", p.AccountID, err)
	}

	points, err := client.GetPoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch points for account %s: %w", p.AccountID, err)
	}

	if err := h.pointsStore.Upsert(ctx, &models.CustomerPoints{
		AccountID:      p.AccountID,
		CurrentPoints:  points.CurrentPoints,
		LifetimePoints: points.LifetimePoints,
		UpdatedAt:      time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to persist points for account %s: %w", p.AccountID, err)
	}

	if _, err := hc.EventManager.CreateEvent(ctx, "RefreshPoints", p, RefreshPointsRequeueDelay, hc.TraceID); err != nil {
		h.logger.Warn().Str("account_id", p.AccountID.String()).Err(err).Msg("Failed to requeue RefreshPoints")
	}
	return nil
}

// SaveImagePayload names the upstream image basename to mirror into
// object storage. Force re-fetches even if the key already exists.
type SaveImagePayload struct {
	Basename string `json:"basename"`
	Force    bool   `json:"force,omitempty"`
}

// SaveImage mirrors one upstream offer image into object storage,
// skipping the fetch if the key is already populated (spec §4.5,
// image transcoding itself an explicit Non-goal).
func (h *Handlers) SaveImage(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	var p SaveImagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to parse SaveImage payload: %w", err)
	}
	if p.Basename == "" {
		return fmt.Errorf("SaveImage payload has no basename")
	}

	if !p.Force {
		exists, err := h.objectStore.Exists(ctx, p.Basename)
		if err != nil {
			return fmt.Errorf("failed to check object store for %s: %w", p.Basename, err)
		}
		if exists {
			h.logger.Debug().Str("basename", p.Basename).Msg("SaveImage skipped, already present")
			return nil
		}
	}

	data, err := h.objectStore.FetchUpstream(ctx, p.Basename)
	if err != nil {
		return fmt.Errorf("failed to fetch upstream image %s: %w", p.Basename, err)
	}

	if err := h.objectStore.Put(ctx, p.Basename, data, "image/jpeg"); err != nil {
		return fmt.Errorf("failed to store image %s: %w", p.Basename, err)
	}
	return nil
}

// NewOfferFoundPayload names the newly-discovered proposition.
type NewOfferFoundPayload struct {
	PropositionID int64 `json:"proposition_id"`
}

// NewOfferFound notifies configured webhooks of a newly-seen proposition.
// Skips silently if no FeatureFlagClient was registered, the flag is off,
// or the configured webhook list is empty (spec §4.5).
func (h *Handlers) NewOfferFound(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	var p NewOfferFoundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to parse NewOfferFound payload: %w", err)
	}

	flags, ok := interfaces.TryGet[interfaces.FeatureFlagClient](hc.StateBag)
	if !ok {
		h.logger.Debug().Msg("NewOfferFound skipped, no feature flag client configured")
		return nil
	}

	enabled, err := flags.IsEnabled(ctx, "new-offer-notifications")
	if err != nil {
		return fmt.Errorf("failed to evaluate new-offer-notifications flag: %w", err)
	}
	if !enabled {
		h.logger.Debug().Msg("NewOfferFound skipped, flag disabled")
		return nil
	}

	cfg, err := flags.GetNewOfferConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load new-offer dynamic config: %w", err)
	}
	if len(cfg.WebhookURLs) == 0 {
		h.logger.Debug().Msg("NewOfferFound skipped, no webhooks configured")
		return nil
	}

	item, err := h.catalogStore.Get(ctx, p.PropositionID)
	if err != nil {
		return fmt.Errorf("failed to load catalog item %d: %w", p.PropositionID, err)
	}
	if item == nil {
		return fmt.Errorf("catalog item %d not found", p.PropositionID)
	}

	notification := models.Notification{
		Title: fmt.Sprintf("New offer: %s", item.Name),
		Fields: map[string]string{
			"proposition_id": fmt.Sprintf("%d", item.PropositionID),
			"description":    item.Description,
		},
		ImageURL: item.ImageBasename,
	}

	for _, url := range cfg.WebhookURLs {
		if err := h.notificationSender.Send(ctx, url, notification); err != nil {
			h.logger.Warn().Str("webhook", url).Err(err).Msg("Failed to deliver new-offer notification")
		}
	}
	return nil
}

// PopulateOfferDetailsCachePayload optionally names a single proposition
// to refresh; an empty/absent PropositionID populates the whole catalog.
type PopulateOfferDetailsCachePayload struct {
	PropositionID *int64 `json:"proposition_id,omitempty"`
}

// PopulateOfferDetailsCache writes catalog rows into the OfferCache,
// either one proposition or the full catalog depending on the payload.
// No-ops if no OfferCache was registered (spec §4.5).
func (h *Handlers) PopulateOfferDetailsCache(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	cache, ok := interfaces.TryGet[interfaces.OfferCache](hc.StateBag)
	if !ok {
		h.logger.Debug().Msg("PopulateOfferDetailsCache skipped, no offer cache configured")
		return nil
	}

	var p PopulateOfferDetailsCachePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to parse PopulateOfferDetailsCache payload: %w", err)
		}
	}

	if p.PropositionID != nil {
		item, err := h.catalogStore.Get(ctx, *p.PropositionID)
		if err != nil {
			return fmt.Errorf("failed to load catalog item %d: %w", *p.PropositionID, err)
		}
		if item == nil {
			return fmt.Errorf("catalog item %d not found", *p.PropositionID)
		}
		if err := cache.Set(ctx, item, offerCacheTTL); err != nil {
			return fmt.Errorf("failed to cache catalog item %d: %w", *p.PropositionID, err)
		}
		return nil
	}

	items, err := h.catalogStore.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list the full catalog: %w", err)
	}
	for _, item := range items {
		if err := cache.Set(ctx, item, offerCacheTTL); err != nil {
			h.logger.Warn().Int64("proposition_id", item.PropositionID).Err(err).Msg("Failed to cache catalog item")
		}
	}
	return nil
}

// GenerateRecommendationsPayload names the user to score recommendations
// for.
type GenerateRecommendationsPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// GenerateRecommendations scores a user's redemption history over the
// last LastXDays days and upserts their top RecommendationCount
// propositions (spec §4.5, scoring verbatim from the original
// generate_recommendations handler).
func (h *Handlers) GenerateRecommendations(ctx context.Context, hc eventmanager.HandlerContext, payload json.RawMessage) error {
	var p GenerateRecommendationsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to parse GenerateRecommendations payload: %w", err)
	}

	audits, err := h.auditStore.ForUser(ctx, p.UserID, LastXDays)
	if err != nil {
		return fmt.Errorf("failed to load offer audits for user %s: %w", p.UserID, err)
	}

	recentCutoff := time.Now().AddDate(0, 0, -LastXDays)
	type tally struct {
		total      int
		recentOnly int
	}
	tallies := make(map[int64]*tally)
	for _, a := range audits {
		if a.Action != models.AuditActionAdd {
			continue
		}
		t, ok := tallies[a.PropositionID]
		if !ok {
			t = &tally{}
			tallies[a.PropositionID] = t
		}
		t.total++
		if a.CreatedAt.After(recentCutoff) {
			t.recentOnly++
		}
	}

	type scored struct {
		propositionID int64
		score         float64
	}
	scoredOffers := make([]scored, 0, len(tallies))
	for propID, t := range tallies {
		score := float64(t.recentOnly)*RecencyLastXDaysWeight + float64(t.total-t.recentOnly)
		scoredOffers = append(scoredOffers, scored{propositionID: propID, score: score})
	}
	sort.Slice(scoredOffers, func(i, j int) bool {
		if scoredOffers[i].score != scoredOffers[j].score {
			return scoredOffers[i].score > scoredOffers[j].score
		}
		return scoredOffers[i].propositionID < scoredOffers[j].propositionID
	})
	if len(scoredOffers) > RecommendationCount {
		scoredOffers = scoredOffers[:RecommendationCount]
	}

	propIDs := make([]int64, len(scoredOffers))
	for i, s := range scoredOffers {
		propIDs[i] = s.propositionID
	}

	if err := h.recommendationStore.Upsert(ctx, &models.Recommendation{
		UserID:         p.UserID,
		PropositionIDs: propIDs,
		UpdatedAt:      time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to persist recommendations for user %s: %w", p.UserID, err)
	}
	return nil
}
