// Package jobs holds the small JobScheduler jobs that sit outside
// RefreshPipeline: a lease-table janitor and a couple of jobs whose
// entire job is to emit an event, mirroring original_source's
// scheduler crate (scheduler/src/main.rs's create_trigger_fn! jobs,
// each a cron tick that does nothing but push one event).
package jobs

import (
	"context"
	"fmt"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/leasecache"
)

// AccountLeaseSweep removes expired AccountLease rows (spec §4.3
// sweep()), the fallback for handlers that crashed without releasing
// their lease. Grounded on original_source's UnlockAllAccounts cron
// trigger, reconciled here as a direct call rather than a round-trip
// through an event since the lease cache is in-process.
type AccountLeaseSweep struct {
	cache  *leasecache.Cache
	logger *common.Logger
}

// NewAccountLeaseSweep creates an AccountLeaseSweep job.
func NewAccountLeaseSweep(cache *leasecache.Cache, logger *common.Logger) *AccountLeaseSweep {
	return &AccountLeaseSweep{cache: cache, logger: logger}
}

func (j *AccountLeaseSweep) Execute(ctx context.Context, jec interfaces.JobExecContext) error {
	n, err := j.cache.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep expired account leases: %w", err)
	}
	j.logger.Info().Int("swept", n).Msg("Account lease sweep completed")
	return nil
}

var _ interfaces.Job = (*AccountLeaseSweep)(nil)

// EventTrigger is a Job whose entire body is creating one event whose
// payload carries only its variant name, for periodic housekeeping
// handlers that take no arguments (e.g. PopulateOfferDetailsCache's whole-catalog path).
// Grounded on original_source's create_trigger_fn! macro, which wires a
// cron schedule directly to a CreateEvent call with no other logic.
type EventTrigger struct {
	eventName string
	logger    *common.Logger
}

// NewEventTrigger creates an EventTrigger that fires eventName on every
// tick.
func NewEventTrigger(eventName string, logger *common.Logger) *EventTrigger {
	return &EventTrigger{eventName: eventName, logger: logger}
}

func (j *EventTrigger) Execute(ctx context.Context, jec interfaces.JobExecContext) error {
	id, err := jec.EventManager.CreateEvent(ctx, j.eventName, map[string]any{"variant": j.eventName}, 0, "")
	if err != nil {
		return fmt.Errorf("failed to trigger %s: %w", j.eventName, err)
	}
	j.logger.Debug().Str("event", j.eventName).Str("event_id", id.String()).Msg("Job triggered event")
	return nil
}

var _ interfaces.Job = (*EventTrigger)(nil)
