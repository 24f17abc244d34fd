package leasecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

type fakeLeaseStore struct {
	mu    sync.Mutex
	locks map[uuid.UUID]time.Time
}

func newFakeLeaseStore() *fakeLeaseStore {
	return &fakeLeaseStore{locks: make(map[uuid.UUID]time.Time)}
}

func (f *fakeLeaseStore) Acquire(ctx context.Context, accountID uuid.UUID, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if unlockAt, ok := f.locks[accountID]; ok && unlockAt.After(time.Now()) {
		return false, nil
	}
	f.locks[accountID] = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeLeaseStore) Release(ctx context.Context, accountID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, accountID)
	return nil
}

func (f *fakeLeaseStore) GetAllLocked(ctx context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []uuid.UUID
	for id, unlockAt := range f.locks {
		if unlockAt.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeLeaseStore) Sweep(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	n := 0
	for id, unlockAt := range f.locks {
		if !unlockAt.After(now) {
			delete(f.locks, id)
			n++
		}
	}
	return n, nil
}

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[uuid.UUID]*models.Account)}
}

func (f *fakeAccountStore) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeAccountStore) NextDueForRefresh(ctx context.Context, failureThreshold int, excludeLeased []uuid.UUID) (*models.Account, error) {
	return nil, nil
}

func (f *fakeAccountStore) RotateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, refreshedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := f.accounts[id]
	acct.AccessToken = accessToken
	acct.RefreshToken = refreshToken
	acct.RefreshedAt = refreshedAt
	return nil
}

func (f *fakeAccountStore) StampOffersRefreshed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeAccountStore) IncrementRefreshFailure(ctx context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := f.accounts[id]
	acct.RefreshFailureCount++
	return acct.RefreshFailureCount, nil
}

// stubClient and fakeClientFactory let tests observe which access token
// GetClient resolved to, and simulate a rotation outcome.
type stubClient struct {
	token     string
	factory   *fakeClientFactory
}

func (c *stubClient) ListOffers(ctx context.Context) ([]interfaces.UpstreamOffer, error) {
	return nil, nil
}

func (c *stubClient) GetPoints(ctx context.Context) (interfaces.UpstreamPoints, error) {
	return interfaces.UpstreamPoints{}, nil
}

func (c *stubClient) RefreshSession(ctx context.Context, refreshToken string) (string, string, error) {
	if c.factory.rotateErr != nil {
		return "", "", c.factory.rotateErr
	}
	return c.factory.rotateTo, c.factory.rotateRefreshTo, nil
}

type fakeClientFactory struct {
	rotateTo        string
	rotateRefreshTo string
	rotateErr       error
}

func (f *fakeClientFactory) NewClient(accessToken string) interfaces.ThirdPartyClient {
	return &stubClient{token: accessToken, factory: f}
}

func TestCache_AcquireIsExclusive(t *testing.T) {
	leaseStore := newFakeLeaseStore()
	cache := New(leaseStore, newFakeAccountStore(), nil, common.NewLogger("error"))
	id := uuid.New()

	if err := cache.Acquire(context.Background(), id, time.Minute); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := cache.Acquire(context.Background(), id, time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire = %v, want ErrBusy", err)
	}

	if err := cache.Release(context.Background(), id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := cache.Acquire(context.Background(), id, time.Minute); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestCache_GetClientReusesFreshToken(t *testing.T) {
	accountStore := newFakeAccountStore()
	id := uuid.New()
	accountStore.accounts[id] = &models.Account{ID: id, AccessToken: "fresh-token", RefreshedAt: time.Now()}

	factory := &fakeClientFactory{}
	cache := New(newFakeLeaseStore(), accountStore, factory, common.NewLogger("error"))

	client, err := cache.GetClient(context.Background(), id)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	bound, ok := client.(*stubClient)
	if !ok {
		t.Fatalf("unexpected client type %T", client)
	}
	if bound.token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token (no rotation expected)", bound.token)
	}
}

func TestCache_GetClientRotatesStaleToken(t *testing.T) {
	accountStore := newFakeAccountStore()
	id := uuid.New()
	accountStore.accounts[id] = &models.Account{
		ID:           id,
		AccessToken:  "old-token",
		RefreshToken: "old-refresh",
		RefreshedAt:  time.Now().Add(-20 * time.Minute),
	}

	factory := &fakeClientFactory{rotateTo: "new-token", rotateRefreshTo: "new-refresh"}
	cache := New(newFakeLeaseStore(), accountStore, factory, common.NewLogger("error"))

	client, err := cache.GetClient(context.Background(), id)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	bound := client.(*stubClient)
	if bound.token != "new-token" {
		t.Errorf("token = %q, want new-token", bound.token)
	}

	acct, _ := accountStore.Get(context.Background(), id)
	if acct.AccessToken != "new-token" || acct.RefreshToken != "new-refresh" {
		t.Errorf("account row not updated: %+v", acct)
	}
}

func TestCache_GetClientIncrementsFailureOnRotateError(t *testing.T) {
	accountStore := newFakeAccountStore()
	id := uuid.New()
	accountStore.accounts[id] = &models.Account{
		ID:          id,
		AccessToken: "old-token",
		RefreshedAt: time.Now().Add(-time.Hour),
	}

	factory := &fakeClientFactory{rotateErr: errors.New("upstream rejected refresh")}
	cache := New(newFakeLeaseStore(), accountStore, factory, common.NewLogger("error"))

	if _, err := cache.GetClient(context.Background(), id); err == nil {
		t.Fatal("expected GetClient to surface the rotation error")
	}

	acct, _ := accountStore.Get(context.Background(), id)
	if acct.RefreshFailureCount != 1 {
		t.Errorf("refresh_failure_count = %d, want 1", acct.RefreshFailureCount)
	}
}
