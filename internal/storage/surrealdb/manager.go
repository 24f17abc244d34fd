package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
)

// tables lists every table the event engine owns. SurrealDB v3 errors on
// querying a non-existent table, so each is defined SCHEMALESS at startup
// the way the teacher's manager defines "user"/"market_data"/"signals".
var tables = []string{
	"event",
	"event_hash_claim",
	"job_execution",
	"account_lease",
	"account",
	"offer_catalog_item",
	"offer_instance",
	"offer_audit",
	"customer_points",
	"recommendation",
}

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	eventStore     *EventStore
	jobExecStore   *JobExecutionStore
	leaseStore     *AccountLeaseStore
	accountStore   *AccountStore
	catalogStore   *OfferCatalogStore
	instanceStore  *OfferInstanceStore
	auditStore     *OfferAuditStore
	pointsStore    *CustomerPointsStore
	recommendStore *RecommendationStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}

	m.eventStore = NewEventStore(db, logger)
	m.jobExecStore = NewJobExecutionStore(db, logger)
	m.leaseStore = NewAccountLeaseStore(db, logger)
	m.accountStore = NewAccountStore(db, logger)
	m.catalogStore = NewOfferCatalogStore(db, logger)
	m.instanceStore = NewOfferInstanceStore(db, logger)
	m.auditStore = NewOfferAuditStore(db, logger)
	m.pointsStore = NewCustomerPointsStore(db, logger)
	m.recommendStore = NewRecommendationStore(db, logger)

	logger.Info().
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) EventStore() interfaces.EventStore                   { return m.eventStore }
func (m *Manager) JobExecutionStore() interfaces.JobExecutionStore     { return m.jobExecStore }
func (m *Manager) AccountLeaseStore() interfaces.AccountLeaseStore     { return m.leaseStore }
func (m *Manager) AccountStore() interfaces.AccountStore               { return m.accountStore }
func (m *Manager) OfferCatalogStore() interfaces.OfferCatalogStore     { return m.catalogStore }
func (m *Manager) OfferInstanceStore() interfaces.OfferInstanceStore   { return m.instanceStore }
func (m *Manager) OfferAuditStore() interfaces.OfferAuditStore         { return m.auditStore }
func (m *Manager) CustomerPointsStore() interfaces.CustomerPointsStore { return m.pointsStore }
func (m *Manager) RecommendationStore() interfaces.RecommendationStore { return m.recommendStore }

// Health pings SurrealDB with a trivial query.
func (m *Manager) Health(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, m.db, "RETURN 1", nil)
	if err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
