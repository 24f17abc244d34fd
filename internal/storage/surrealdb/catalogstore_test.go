package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/offerengine/internal/models"
)

func TestOfferCatalogStore_UpsertThenGet(t *testing.T) {
	db := testDB(t)
	store := NewOfferCatalogStore(db, testLogger())
	ctx := context.Background()

	item := &models.OfferCatalogItem{
		PropositionID: 42,
		Name:          "Free Medium Fries",
		ShortName:     "Fries",
		ValidFrom:     time.Now(),
		ValidTo:       time.Now().Add(24 * time.Hour),
		Categories:    []string{"food"},
	}
	require.NoError(t, store.Upsert(ctx, item))

	got, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Free Medium Fries", got.Name)
}

func TestOfferCatalogStore_AllReturnsEverything(t *testing.T) {
	db := testDB(t)
	store := NewOfferCatalogStore(db, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &models.OfferCatalogItem{PropositionID: 1, Name: "A"}))
	require.NoError(t, store.Upsert(ctx, &models.OfferCatalogItem{PropositionID: 2, Name: "B"}))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestOfferInstanceStore_InsertListDelete(t *testing.T) {
	db := testDB(t)
	store := NewOfferInstanceStore(db, testLogger())
	ctx := context.Background()
	accountID := uuid.New()

	inst := &models.OfferInstance{
		OfferID:       100,
		PropositionID: 42,
		AccountID:     accountID,
		ValidFrom:     time.Now(),
		ValidTo:       time.Now().Add(24 * time.Hour),
		CreationDate:  time.Now(),
	}
	require.NoError(t, store.Insert(ctx, inst))
	require.NotEqual(t, uuid.Nil, inst.ID)

	list, err := store.ListForAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, inst.ID, list[0].ID)

	require.NoError(t, store.Delete(ctx, inst.ID))

	list, err = store.ListForAccount(ctx, accountID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestOfferInstanceStore_KnownPropositions(t *testing.T) {
	db := testDB(t)
	store := NewOfferInstanceStore(db, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &models.OfferInstance{
		OfferID: 1, PropositionID: 7, AccountID: uuid.New(),
		ValidFrom: time.Now(), ValidTo: time.Now().Add(time.Hour), CreationDate: time.Now(),
	}))

	known, err := store.KnownPropositions(ctx, []int64{7, 8})
	require.NoError(t, err)
	require.True(t, known[7])
	require.False(t, known[8])
}

func TestOfferAuditStore_RecordAndForUser(t *testing.T) {
	db := testDB(t)
	store := NewOfferAuditStore(db, testLogger())
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, store.Record(ctx, &models.OfferAudit{
		PropositionID: 42, AccountID: uuid.New(), UserID: userID, Action: models.AuditActionAdd,
	}))

	rows, err := store.ForUser(ctx, userID, 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.AuditActionAdd, rows[0].Action)
}

func TestCustomerPointsStore_UpsertThenGet(t *testing.T) {
	db := testDB(t)
	store := NewCustomerPointsStore(db, testLogger())
	ctx := context.Background()
	accountID := uuid.New()

	require.NoError(t, store.Upsert(ctx, &models.CustomerPoints{
		AccountID: accountID, CurrentPoints: 500, LifetimePoints: 5000,
	}))

	got, err := store.Get(ctx, accountID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 500, got.CurrentPoints)
}

func TestRecommendationStore_Upsert(t *testing.T) {
	db := testDB(t)
	store := NewRecommendationStore(db, testLogger())
	ctx := context.Background()

	err := store.Upsert(ctx, &models.Recommendation{
		UserID:         uuid.New(),
		PropositionIDs: []int64{1, 2, 3},
	})
	require.NoError(t, err)
}
