// Package refresh implements RefreshPipeline (spec §4.4): a JobScheduler
// job that reconciles one account's upstream offers against the local
// catalog and buffers the consequence events it discovers into the job
// execution's context, so they dispatch only after the catalog mutations
// commit (spec §4.4's transactional-boundary requirement).
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/leasecache"
	"github.com/bobmcallan/offerengine/internal/models"
)

// eventDispatchDelay is how far in the future RefreshPipeline schedules
// the consequence events it buffers, matching the upstream handler's
// own 30-second delay on dispatch.
const eventDispatchDelay = 30 * time.Second

// Pipeline implements interfaces.Job and interfaces.PostExecuteJob.
type Pipeline struct {
	accountStore     interfaces.AccountStore
	catalogStore     interfaces.OfferCatalogStore
	instanceStore    interfaces.OfferInstanceStore
	execStore        interfaces.JobExecutionStore
	leaseCache       *leasecache.Cache
	failureThreshold int
	leaseTTL         time.Duration
	logger           *common.Logger
}

// New creates a Pipeline. failureThreshold excludes accounts whose
// refresh_failure_count exceeds it from selection (spec §4.4 step 1).
func New(accountStore interfaces.AccountStore, catalogStore interfaces.OfferCatalogStore, instanceStore interfaces.OfferInstanceStore, execStore interfaces.JobExecutionStore, leaseCache *leasecache.Cache, failureThreshold int, leaseTTL time.Duration, logger *common.Logger) *Pipeline {
	return &Pipeline{
		accountStore:     accountStore,
		catalogStore:     catalogStore,
		instanceStore:    instanceStore,
		execStore:        execStore,
		leaseCache:       leaseCache,
		failureThreshold: failureThreshold,
		leaseTTL:         leaseTTL,
		logger:           logger,
	}
}

// Execute runs spec §4.4 steps 1-9: it selects the next-due account,
// reconciles its offers, and buffers the consequence events into the job
// execution's context for PostExecute to dispatch.
func (p *Pipeline) Execute(ctx context.Context, jec interfaces.JobExecContext) error {
	locked, err := p.leaseCache.GetAllLocked(ctx)
	if err != nil {
		return fmt.Errorf("failed to list locked accounts: %w", err)
	}

	account, err := p.accountStore.NextDueForRefresh(ctx, p.failureThreshold, locked)
	if err != nil {
		return fmt.Errorf("failed to select the next account due for refresh: %w", err)
	}
	if account == nil {
		p.logger.Debug().Msg("No account is due for an offer refresh")
		return nil
	}

	events, err := p.refreshLeasedAccount(ctx, account)
	if err != nil {
		if errors.Is(err, leasecache.ErrBusy) {
			p.logger.Debug().Str("account_id", account.ID.String()).Msg("Account became leased between selection and acquire")
			return nil
		}
		return err
	}

	if err := p.execStore.SetContext(ctx, jec.ExecutionID, models.JobContext{"events": events}); err != nil {
		return fmt.Errorf("failed to buffer consequence events: %w", err)
	}
	return nil
}

// RefreshOne runs the same reconciliation core as Execute but against a
// caller-supplied account rather than the next-due selection, and
// dispatches the resulting consequence events itself rather than
// buffering them into a JobExecution context. This is the entry point
// the RefreshAccount event handler uses, so a scheduled sweep and a
// one-off event-triggered refresh share one reconciliation
// implementation (original_source's refresh_account.rs and the offer
// refresh batch job both call into one shared::refresh_account).
func (p *Pipeline) RefreshOne(ctx context.Context, em interfaces.EventManager, accountID uuid.UUID, traceID string) error {
	account, err := p.accountStore.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	if account == nil {
		return fmt.Errorf("account %s not found", accountID)
	}

	events, err := p.refreshLeasedAccount(ctx, account)
	if err != nil {
		return err
	}

	for _, evt := range events {
		view := toBufferedEventView(evt)
		if _, err := em.CreateEvent(ctx, view.Name, view.Payload, eventDispatchDelay, traceID); err != nil {
			p.logger.Warn().Str("event_name", view.Name).Err(err).Msg("Failed to dispatch buffered consequence event")
		}
	}
	return nil
}

// refreshLeasedAccount acquires the lease, reconciles account's catalog
// against the upstream feed, and stamps offers_refreshed_at, returning
// the consequence events discovered along the way (spec §4.4 steps 2-9).
func (p *Pipeline) refreshLeasedAccount(ctx context.Context, account *models.Account) ([]map[string]any, error) {
	if err := p.leaseCache.Acquire(ctx, account.ID, p.leaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.leaseCache.Release(ctx, account.ID); err != nil {
			p.logger.Warn().Str("account_id", account.ID.String()).Err(err).Msg("Failed to release account lease")
		}
	}()

	client, err := p.leaseCache.GetClient(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to activate an upstream client for account %s: %w", account.ID, err)
	}

	upstream, err := client.ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upstream offers for account %s: %w", account.ID, err)
	}

	local, err := p.instanceStore.ListForAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local offer instances for account %s: %w", account.ID, err)
	}

	newOffers, removedInstances := diff(upstream, local)

	events, err := p.reconcile(ctx, account, newOffers, removedInstances)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := p.accountStore.StampOffersRefreshed(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("failed to stamp offers_refreshed_at for account %s: %w", account.ID, err)
	}

	p.logger.Info().
		Str("account_id", account.ID.String()).
		Int("new_offers", len(newOffers)).
		Int("removed_instances", len(removedInstances)).
		Int("buffered_events", len(events)).
		Msg("Offer refresh complete")
	return events, nil
}

// diff partitions upstream vs local into newly-seen offers (for this
// account) and local instances no longer present upstream (spec §4.4
// step 4).
func diff(upstream []interfaces.UpstreamOffer, local []*models.OfferInstance) ([]interfaces.UpstreamOffer, []*models.OfferInstance) {
	upstreamByProp := make(map[int64]interfaces.UpstreamOffer, len(upstream))
	for _, o := range upstream {
		upstreamByProp[o.PropositionID] = o
	}
	localByProp := make(map[int64]*models.OfferInstance, len(local))
	for _, inst := range local {
		localByProp[inst.PropositionID] = inst
	}

	var newOffers []interfaces.UpstreamOffer
	for propID, o := range upstreamByProp {
		if _, ok := localByProp[propID]; !ok {
			newOffers = append(newOffers, o)
		}
	}

	var removed []*models.OfferInstance
	for propID, inst := range localByProp {
		if _, ok := upstreamByProp[propID]; !ok {
			removed = append(removed, inst)
		}
	}
	return newOffers, removed
}

// reconcile applies the diff (spec §4.4 steps 5-6) and computes the
// consequence events (step 8), each rendered as a {"name","payload"}
// pair so it round-trips through the JobContext JSON bag unambiguously.
func (p *Pipeline) reconcile(ctx context.Context, account *models.Account, newOffers []interfaces.UpstreamOffer, removed []*models.OfferInstance) ([]map[string]any, error) {
	var events []map[string]any

	propIDs := make([]int64, 0, len(newOffers))
	for _, o := range newOffers {
		propIDs = append(propIDs, o.PropositionID)
	}
	knownProps, err := p.instanceStore.KnownPropositions(ctx, propIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check known propositions: %w", err)
	}

	for _, o := range newOffers {
		if !knownProps[o.PropositionID] {
			item := &models.OfferCatalogItem{
				PropositionID: o.PropositionID,
				Name:          o.Name,
				ShortName:     o.ShortName,
				Description:   o.Description,
				ValidFrom:     o.ValidFrom,
				ValidTo:       o.ValidTo,
				ImageBasename: o.ImageBasename,
				Price:         o.Price,
			}
			if err := p.catalogStore.Upsert(ctx, item); err != nil {
				return nil, fmt.Errorf("failed to upsert catalog item %d: %w", o.PropositionID, err)
			}
		}

		if err := p.instanceStore.Insert(ctx, &models.OfferInstance{
			OfferID:       o.OfferID,
			PropositionID: o.PropositionID,
			AccountID:     account.ID,
			ValidFrom:     o.ValidFrom,
			ValidTo:       o.ValidTo,
			CreationDate:  time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("failed to insert offer instance for proposition %d: %w", o.PropositionID, err)
		}

		if !knownProps[o.PropositionID] {
			events = append(events,
				bufferedEvent("NewOfferFound", map[string]any{"proposition_id": o.PropositionID}),
				bufferedEvent("PopulateOfferDetailsCache", map[string]any{"proposition_id": o.PropositionID}),
			)
		}
		if o.ImageBasename != "" {
			events = append(events, bufferedEvent("SaveImage", map[string]any{"basename": o.ImageBasename}))
		}
	}

	for _, inst := range removed {
		if err := p.instanceStore.Delete(ctx, inst.ID); err != nil {
			return nil, fmt.Errorf("failed to delete stale offer instance %s: %w", inst.ID, err)
		}
	}

	return events, nil
}

func bufferedEvent(name string, payload map[string]any) map[string]any {
	return map[string]any{"name": name, "payload": payload}
}

// PostExecute dispatches the events buffered in Execute, after the
// scheduler has persisted the execution row — and, in a real deployment,
// after the catalog mutations have committed (spec §4.4 step 10).
func (p *Pipeline) PostExecute(ctx context.Context, jec interfaces.JobExecContext) error {
	jobCtx, err := p.execStore.GetContext(ctx, jec.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load buffered events: %w", err)
	}

	events, err := normalizeBufferedEvents(jobCtx["events"])
	if err != nil {
		return fmt.Errorf("failed to parse buffered events: %w", err)
	}

	for _, evt := range events {
		if _, err := jec.EventManager.CreateEvent(ctx, evt.Name, evt.Payload, eventDispatchDelay, jec.ExecutionID); err != nil {
			p.logger.Warn().Str("event_name", evt.Name).Err(err).Msg("Failed to dispatch buffered consequence event")
		}
	}
	return nil
}

type bufferedEventView struct {
	Name    string
	Payload map[string]any
}

// normalizeBufferedEvents accepts both the shape Execute writes directly
// ([]map[string]any, same process) and the shape a round-trip through a
// JSON-backed store produces ([]any of map[string]any), since
// JobExecutionStore persists JobContext as opaque JSON.
func normalizeBufferedEvents(raw any) ([]bufferedEventView, error) {
	if raw == nil {
		return nil, nil
	}

	switch list := raw.(type) {
	case []map[string]any:
		out := make([]bufferedEventView, 0, len(list))
		for _, m := range list {
			out = append(out, toBufferedEventView(m))
		}
		return out, nil
	case []any:
		out := make([]bufferedEventView, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("unexpected buffered event shape %T", item)
			}
			out = append(out, toBufferedEventView(m))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected events context shape %T", raw)
	}
}

func toBufferedEventView(m map[string]any) bufferedEventView {
	name, _ := m["name"].(string)
	payload, _ := m["payload"].(map[string]any)
	return bufferedEventView{Name: name, Payload: payload}
}

// Compile-time checks
var _ interfaces.Job = (*Pipeline)(nil)
var _ interfaces.PostExecuteJob = (*Pipeline)(nil)
