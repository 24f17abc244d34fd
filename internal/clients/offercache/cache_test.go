package offercache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/offerengine/internal/models"
)

type fakeRedisClient struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{store: make(map[string]string)}
}

func (f *fakeRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.store[key] = string(v)
	case string:
		f.store[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestCache_SetThenGetRoundTrips(t *testing.T) {
	client := newFakeRedisClient()
	cache := New(client)

	item := &models.OfferCatalogItem{PropositionID: 100, Name: "Free Fries"}
	if err := cache.Set(context.Background(), item, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := cache.Get(context.Background(), 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.Name != "Free Fries" {
		t.Errorf("Name = %q, want Free Fries", got.Name)
	}
}

func TestCache_GetMissReturnsFalse(t *testing.T) {
	cache := New(newFakeRedisClient())
	_, ok, err := cache.Get(context.Background(), 999)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected a cache miss")
	}
}
