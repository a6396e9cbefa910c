package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-live-service/internal/domain"
)

// CatalogLoader fetches a game's question catalog from the backing store.
type CatalogLoader interface {
	ListQuestions(ctx context.Context, gameID string) ([]domain.Question, error)
}

// CatalogCache caches the full ordered catalog of a game as JSON in Redis and
// falls back to a loader on cache miss. Catalogs are immutable once a game is
// active, so a TTL'd snapshot is safe.
// Stored as: SET game:{gameID}:catalog {json} EX ttl
type CatalogCache struct {
	client *redis.Client
	loader CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalogCache(client *redis.Client, loader CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) ListQuestions(ctx context.Context, gameID string) ([]domain.Question, error) {
	key := c.key(gameID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return decodeCatalog(raw)
	}

	result, err, _ := c.sf.Do(gameID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return decodeCatalogAny(raw)
		}

		catalog, err := c.loader.ListQuestions(ctx, gameID)
		if err != nil {
			return nil, err
		}

		if encoded, err := json.Marshal(catalog); err == nil {
			_ = c.client.Set(ctx, key, encoded, c.ttlWithJitter()).Err()
		}
		return catalog, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *CatalogCache) key(gameID string) string {
	return "game:" + gameID + ":catalog"
}

func decodeCatalog(raw []byte) ([]domain.Question, error) {
	var catalog []domain.Question
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("decode cached catalog: %w", err)
	}
	return catalog, nil
}

func decodeCatalogAny(raw []byte) (interface{}, error) {
	catalog, err := decodeCatalog(raw)
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
