// Package offercache implements interfaces.OfferCache against Redis.
// Grounded on original_source/caching/src/lib.rs's OfferDetailsCache
// (key prefix, set/get shape); values are JSON-encoded here rather than
// protobuf since no .proto schema is part of this module's scope.
package offercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

const keyPrefix = "offer_details:"

// RedisClient is the subset of *redis.Client this package drives.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Cache implements interfaces.OfferCache.
type Cache struct {
	redis RedisClient
}

// New creates a Cache.
func New(client RedisClient) *Cache {
	return &Cache{redis: client}
}

func cacheKey(propositionID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, propositionID)
}

// Set implements interfaces.OfferCache.
func (c *Cache) Set(ctx context.Context, item *models.OfferCatalogItem, ttl time.Duration) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode catalog item %d: %w", item.PropositionID, err)
	}
	if err := c.redis.Set(ctx, cacheKey(item.PropositionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache catalog item %d: %w", item.PropositionID, err)
	}
	return nil
}

// Get implements interfaces.OfferCache.
func (c *Cache) Get(ctx context.Context, propositionID int64) (*models.OfferCatalogItem, bool, error) {
	data, err := c.redis.Get(ctx, cacheKey(propositionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached catalog item %d: %w", propositionID, err)
	}

	var item models.OfferCatalogItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached catalog item %d: %w", propositionID, err)
	}
	return &item, true, nil
}

// Compile-time check
var _ interfaces.OfferCache = (*Cache)(nil)
