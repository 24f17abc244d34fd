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

// OfferCatalogStore implements interfaces.OfferCatalogStore.
type OfferCatalogStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewOfferCatalogStore(db *surrealdb.DB, logger *common.Logger) *OfferCatalogStore {
	return &OfferCatalogStore{db: db, logger: logger}
}

func (s *OfferCatalogStore) Upsert(ctx context.Context, item *models.OfferCatalogItem) error {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	sql := `UPSERT $rid SET
		proposition_id = $proposition_id, name = $name, short_name = $short_name,
		description = $description, valid_from = $valid_from, valid_to = $valid_to,
		image_basename = $image_basename, price = $price, categories = $categories,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":            surrealmodels.NewRecordID("offer_catalog_item", fmt.Sprintf("%d", item.PropositionID)),
		"proposition_id": item.PropositionID,
		"name":           item.Name,
		"short_name":     item.ShortName,
		"description":    item.Description,
		"valid_from":     item.ValidFrom,
		"valid_to":       item.ValidTo,
		"image_basename": item.ImageBasename,
		"price":          item.Price,
		"categories":     item.Categories,
		"created_at":     item.CreatedAt,
		"updated_at":     item.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert offer catalog item: %w", err)
	}
	return nil
}

func (s *OfferCatalogStore) Get(ctx context.Context, propositionID int64) (*models.OfferCatalogItem, error) {
	sql := "SELECT * FROM offer_catalog_item WHERE proposition_id = $proposition_id LIMIT 1"
	results, err := surrealdb.Query[[]models.OfferCatalogItem](ctx, s.db, sql, map[string]any{"proposition_id": propositionID})
	if err != nil {
		return nil, fmt.Errorf("failed to get offer catalog item: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	item := (*results)[0].Result[0]
	return &item, nil
}

func (s *OfferCatalogStore) List(ctx context.Context, propositionIDs []int64) ([]*models.OfferCatalogItem, error) {
	sql := "SELECT * FROM offer_catalog_item WHERE proposition_id IN $ids"
	results, err := surrealdb.Query[[]models.OfferCatalogItem](ctx, s.db, sql, map[string]any{"ids": propositionIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to list offer catalog items: %w", err)
	}
	return toCatalogPointers(results), nil
}

func (s *OfferCatalogStore) All(ctx context.Context) ([]*models.OfferCatalogItem, error) {
	sql := "SELECT * FROM offer_catalog_item"
	results, err := surrealdb.Query[[]models.OfferCatalogItem](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list all offer catalog items: %w", err)
	}
	return toCatalogPointers(results), nil
}

func toCatalogPointers(results *[]surrealdb.QueryResult[[]models.OfferCatalogItem]) []*models.OfferCatalogItem {
	var out []*models.OfferCatalogItem
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out
}

var _ interfaces.OfferCatalogStore = (*OfferCatalogStore)(nil)

// OfferInstanceStore implements interfaces.OfferInstanceStore.
type OfferInstanceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewOfferInstanceStore(db *surrealdb.DB, logger *common.Logger) *OfferInstanceStore {
	return &OfferInstanceStore{db: db, logger: logger}
}

// offerInstanceSelectFields aliases row_id to id, the same workaround
// used throughout this package for SurrealDB's native record-pointer id.
const offerInstanceSelectFields = "row_id as id, offer_id, proposition_id, account_id, valid_from, valid_to, creation_date"

func (s *OfferInstanceStore) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.OfferInstance, error) {
	sql := "SELECT " + offerInstanceSelectFields + " FROM offer_instance WHERE account_id = $account_id"
	results, err := surrealdb.Query[[]models.OfferInstance](ctx, s.db, sql, map[string]any{"account_id": accountID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to list offer instances: %w", err)
	}

	var out []*models.OfferInstance
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

func (s *OfferInstanceStore) Insert(ctx context.Context, inst *models.OfferInstance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	sql := `UPSERT $rid SET
		row_id = $row_id, offer_id = $offer_id, proposition_id = $proposition_id, account_id = $account_id,
		valid_from = $valid_from, valid_to = $valid_to, creation_date = $creation_date`
	vars := map[string]any{
		"rid":            surrealmodels.NewRecordID("offer_instance", inst.ID.String()),
		"row_id":         inst.ID.String(),
		"offer_id":       inst.OfferID,
		"proposition_id": inst.PropositionID,
		"account_id":     inst.AccountID.String(),
		"valid_from":     inst.ValidFrom,
		"valid_to":       inst.ValidTo,
		"creation_date":  inst.CreationDate,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to insert offer instance: %w", err)
	}
	return nil
}

func (s *OfferInstanceStore) Delete(ctx context.Context, id uuid.UUID) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("offer_instance", id.String())}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to delete offer instance: %w", err)
	}
	return nil
}

// KnownPropositions reports which proposition ids currently have an
// instance in any account, used by RefreshPipeline to decide whether an
// offer is worth a NewOfferFound event (spec §4.4). It reads only live
// offer_instance rows, so deleted instances no longer count.
func (s *OfferInstanceStore) KnownPropositions(ctx context.Context, propositionIDs []int64) (map[int64]bool, error) {
	sql := "SELECT DISTINCT proposition_id FROM offer_instance WHERE proposition_id IN $ids"
	results, err := surrealdb.Query[[]struct {
		PropositionID int64 `json:"proposition_id"`
	}](ctx, s.db, sql, map[string]any{"ids": propositionIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to check known propositions: %w", err)
	}

	known := make(map[int64]bool)
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			known[row.PropositionID] = true
		}
	}
	return known, nil
}

var _ interfaces.OfferInstanceStore = (*OfferInstanceStore)(nil)

// OfferAuditStore implements interfaces.OfferAuditStore.
type OfferAuditStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewOfferAuditStore(db *surrealdb.DB, logger *common.Logger) *OfferAuditStore {
	return &OfferAuditStore{db: db, logger: logger}
}

func (s *OfferAuditStore) Record(ctx context.Context, audit *models.OfferAudit) error {
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}
	sql := `CREATE offer_audit SET
		proposition_id = $proposition_id, account_id = $account_id, user_id = $user_id,
		action = $action, created_at = $created_at`
	vars := map[string]any{
		"proposition_id": audit.PropositionID,
		"account_id":     audit.AccountID.String(),
		"user_id":        audit.UserID.String(),
		"action":         audit.Action,
		"created_at":     audit.CreatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to record offer audit: %w", err)
	}
	return nil
}

// ForUser returns audit rows for userID within the last sinceDays,
// feeding GenerateRecommendations' recency-weighted scoring (spec §4.5).
func (s *OfferAuditStore) ForUser(ctx context.Context, userID uuid.UUID, sinceDays int) ([]*models.OfferAudit, error) {
	cutoff := time.Now().AddDate(0, 0, -sinceDays)
	// id is omitted: offer_audit rows are never looked up by id, and
	// SurrealDB's native record-pointer id doesn't fit the int64 ID field.
	sql := "SELECT proposition_id, account_id, user_id, action, created_at FROM offer_audit WHERE user_id = $user_id AND created_at >= $cutoff ORDER BY created_at DESC"
	results, err := surrealdb.Query[[]models.OfferAudit](ctx, s.db, sql, map[string]any{
		"user_id": userID.String(),
		"cutoff":  cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list offer audits for user: %w", err)
	}

	var out []*models.OfferAudit
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

var _ interfaces.OfferAuditStore = (*OfferAuditStore)(nil)

// CustomerPointsStore implements interfaces.CustomerPointsStore.
type CustomerPointsStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewCustomerPointsStore(db *surrealdb.DB, logger *common.Logger) *CustomerPointsStore {
	return &CustomerPointsStore{db: db, logger: logger}
}

func (s *CustomerPointsStore) Upsert(ctx context.Context, points *models.CustomerPoints) error {
	points.UpdatedAt = time.Now()
	sql := `UPSERT $rid SET
		account_id = $account_id, current_points = $current_points,
		lifetime_points = $lifetime_points, updated_at = $updated_at`
	vars := map[string]any{
		"rid":             surrealmodels.NewRecordID("customer_points", points.AccountID.String()),
		"account_id":      points.AccountID.String(),
		"current_points":  points.CurrentPoints,
		"lifetime_points": points.LifetimePoints,
		"updated_at":      points.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert customer points: %w", err)
	}
	return nil
}

func (s *CustomerPointsStore) Get(ctx context.Context, accountID uuid.UUID) (*models.CustomerPoints, error) {
	sql := "SELECT * FROM customer_points WHERE account_id = $account_id LIMIT 1"
	results, err := surrealdb.Query[[]models.CustomerPoints](ctx, s.db, sql, map[string]any{"account_id": accountID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to get customer points: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	points := (*results)[0].Result[0]
	return &points, nil
}

var _ interfaces.CustomerPointsStore = (*CustomerPointsStore)(nil)

// RecommendationStore implements interfaces.RecommendationStore.
type RecommendationStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewRecommendationStore(db *surrealdb.DB, logger *common.Logger) *RecommendationStore {
	return &RecommendationStore{db: db, logger: logger}
}

func (s *RecommendationStore) Upsert(ctx context.Context, rec *models.Recommendation) error {
	rec.UpdatedAt = time.Now()
	sql := `UPSERT $rid SET
		user_id = $user_id, proposition_ids = $proposition_ids, updated_at = $updated_at`
	vars := map[string]any{
		"rid":             surrealmodels.NewRecordID("recommendation", rec.UserID.String()),
		"user_id":         rec.UserID.String(),
		"proposition_ids": rec.PropositionIDs,
		"updated_at":      rec.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert recommendation: %w", err)
	}
	return nil
}

var _ interfaces.RecommendationStore = (*RecommendationStore)(nil)
