package verify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const cacheKeyPrefix = "colligo:verify:"

// Cache is a Redis-backed verdict cache keyed by lowercased email. A hit
// inside the TTL short-circuits the provider call; any cache failure falls
// through to the provider, so Redis going away degrades, never breaks,
// verification.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger arbor.ILogger
}

type cachedVerdict struct {
	Status models.VerificationStatus `json:"status"`
	Raw    string                    `json:"raw,omitempty"`
}

// NewCache connects the verification cache. Returns (nil, nil) when the
// cache is disabled in config.
func NewCache(config *common.CacheConfig, logger arbor.ILogger) (*Cache, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	ttl := common.DurationOr(config.TTL, 720*time.Hour)
	logger.Info().
		Str("addr", config.Addr).
		Dur("ttl", ttl).
		Msg("Verification cache connected")

	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Get returns a cached verdict and whether one was found.
func (c *Cache) Get(ctx context.Context, email string) (*interfaces.VerifyResult, bool) {
	val, err := c.client.Get(ctx, cacheKey(email)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Verification cache read failed")
		return nil, false
	}

	var verdict cachedVerdict
	if err := json.Unmarshal([]byte(val), &verdict); err != nil {
		c.logger.Warn().Err(err).Msg("Verification cache entry is corrupt")
		return nil, false
	}
	return &interfaces.VerifyResult{Status: verdict.Status, Raw: verdict.Raw}, true
}

// Set stores a verdict for the cache TTL. Unknown verdicts are not cached;
// they carry no information worth reusing.
func (c *Cache) Set(ctx context.Context, email string, result *interfaces.VerifyResult) {
	if result == nil || result.Status == models.VerificationUnknown {
		return
	}

	payload, err := json.Marshal(cachedVerdict{Status: result.Status, Raw: result.Raw})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(email), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Verification cache write failed")
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

func cacheKey(email string) string {
	return cacheKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}
