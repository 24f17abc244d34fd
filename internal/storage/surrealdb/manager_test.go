package surrealdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/offerengine/internal/models"
)

func TestEventStore_InsertThenGet(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db, testLogger())
	ctx := context.Background()

	evt := &models.Event{
		Name:         "RefreshAccount",
		Payload:      []byte(`{"variant":"RefreshAccount","account_id":"` + uuid.New().String() + `"}`),
		ScheduledFor: time.Now(),
		Hash:         "hash-1",
	}

	result, err := store.Insert(ctx, evt)
	require.NoError(t, err)
	require.False(t, result.WasDup)
	require.Equal(t, models.EventStatusPending, result.Event.Status)

	got, err := store.Get(ctx, result.Event.PublicID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "RefreshAccount", got.Name)
}

func TestEventStore_InsertDedupesByHash(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db, testLogger())
	ctx := context.Background()

	first := &models.Event{Name: "Cleanup", Payload: []byte(`{}`), ScheduledFor: time.Now(), Hash: "dup-hash"}
	_, err := store.Insert(ctx, first)
	require.NoError(t, err)

	second := &models.Event{Name: "Cleanup", Payload: []byte(`{}`), ScheduledFor: time.Now(), Hash: "dup-hash"}
	result, err := store.Insert(ctx, second)
	require.NoError(t, err)
	require.True(t, result.WasDup)
	require.Equal(t, models.EventStatusDuplicate, result.Event.Status)
}

func TestEventStore_InsertDedupesByHashConcurrently(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db, testLogger())
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	dups := make([]bool, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			evt := &models.Event{Name: "Cleanup", Payload: []byte(`{}`), ScheduledFor: time.Now(), Hash: "concurrent-hash"}
			result, err := store.Insert(ctx, evt)
			dups[i] = result.WasDup
			errs[i] = err
		}(i)
	}
	wg.Wait()

	nonDup := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if !dups[i] {
			nonDup++
		}
	}
	require.Equal(t, 1, nonDup, "exactly one concurrent insert with the same hash must win the claim")
}

func TestEventStore_MarkRunningThenCompleted(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db, testLogger())
	ctx := context.Background()

	evt := &models.Event{Name: "RefreshPoints", Payload: []byte(`{}`), ScheduledFor: time.Now(), Hash: "hash-running"}
	result, err := store.Insert(ctx, evt)
	require.NoError(t, err)

	running, err := store.MarkRunning(ctx, result.Event.PublicID)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusRunning, running.Status)
	require.Equal(t, 1, running.Attempts)

	require.NoError(t, store.MarkCompleted(ctx, result.Event.PublicID))

	got, err := store.Get(ctx, result.Event.PublicID)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestEventStore_CancelOnlyAffectsPending(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db, testLogger())
	ctx := context.Background()

	evt := &models.Event{Name: "SaveImage", Payload: []byte(`{}`), ScheduledFor: time.Now(), Hash: "hash-cancel"}
	result, err := store.Insert(ctx, evt)
	require.NoError(t, err)

	ok, err := store.Cancel(ctx, result.Event.PublicID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Cancel(ctx, result.Event.PublicID)
	require.NoError(t, err)
	require.False(t, ok, "cancelling an already-cancelled event must report false")
}

func TestEventStore_ReloadIncompleteResetsRunningToPending(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db, testLogger())
	ctx := context.Background()

	evt := &models.Event{Name: "RefreshAccount", Payload: []byte(`{}`), ScheduledFor: time.Now(), Hash: "hash-reload"}
	result, err := store.Insert(ctx, evt)
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, result.Event.PublicID)
	require.NoError(t, err)

	rows, err := store.ReloadIncomplete(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.EventStatusPending, rows[0].Status)
}

func TestAccountLeaseStore_AcquireIsExclusive(t *testing.T) {
	db := testDB(t)
	store := NewAccountLeaseStore(db, testLogger())
	ctx := context.Background()
	accountID := uuid.New()

	ok, err := store.Acquire(ctx, accountID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Acquire(ctx, accountID, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "a live lease must reject a second Acquire")

	require.NoError(t, store.Release(ctx, accountID))

	ok, err = store.Acquire(ctx, accountID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "Acquire must succeed again after Release")
}

func TestAccountLeaseStore_AcquireIsExclusiveConcurrently(t *testing.T) {
	db := testDB(t)
	store := NewAccountLeaseStore(db, testLogger())
	ctx := context.Background()
	accountID := uuid.New()

	const callers = 8
	var wg sync.WaitGroup
	oks := make([]bool, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			oks[i], errs[i] = store.Acquire(ctx, accountID, time.Minute)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if oks[i] {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded, "exactly one concurrent Acquire for the same account must succeed")
}

func TestAccountLeaseStore_SweepDeletesExpired(t *testing.T) {
	db := testDB(t)
	store := NewAccountLeaseStore(db, testLogger())
	ctx := context.Background()
	accountID := uuid.New()

	ok, err := store.Acquire(ctx, accountID, -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	count, err := store.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	locked, err := store.GetAllLocked(ctx)
	require.NoError(t, err)
	require.Empty(t, locked)
}

func TestAccountStore_RotateTokensAndIncrementFailure(t *testing.T) {
	db := testDB(t)
	store := NewAccountStore(db, testLogger())
	ctx := context.Background()
	id := uuid.New()
	seedAccount(ctx, t, db, id)

	require.NoError(t, store.RotateTokens(ctx, id, "access-tok", "refresh-tok", time.Now()))

	acc, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "access-tok", acc.AccessToken)

	count, err := store.IncrementRefreshFailure(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAccountStore_NextDueForRefreshExcludesLeased(t *testing.T) {
	db := testDB(t)
	store := NewAccountStore(db, testLogger())
	ctx := context.Background()

	older := uuid.New()
	newer := uuid.New()
	seedAccountRefreshedAt(ctx, t, db, older, time.Now().Add(-time.Hour))
	seedAccountRefreshedAt(ctx, t, db, newer, time.Now())

	due, err := store.NextDueForRefresh(ctx, 5, []uuid.UUID{older})
	require.NoError(t, err)
	require.NotNil(t, due)
	require.Equal(t, newer, due.ID, "the leased (excluded) account must be skipped even though it's older")
}

func TestManager_HealthReportsReachable(t *testing.T) {
	db := testDB(t)
	m := &Manager{db: db, logger: testLogger()}
	m.eventStore = NewEventStore(db, testLogger())

	require.NoError(t, m.Health(context.Background()))
}
