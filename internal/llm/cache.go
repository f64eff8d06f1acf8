package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
	"github.com/manifold-ai/manifold/internal/metrics"
)

const cacheKeyPrefix = "manifold:response:"

// ResponseCache wraps an Invoker with a Redis-backed cache of successful
// responses, keyed by a digest of (role, model, messages). Redis being down
// degrades to pass-through; the cache never fails a call.
type ResponseCache struct {
	next   Invoker
	rdb    *redis.Client
	ttl    time.Duration
	model  func(config.Role) string
	logger *zap.Logger
}

// NewResponseCache builds the cache layer from config.
func NewResponseCache(next Invoker, cfg *config.Config, logger *zap.Logger) *ResponseCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Cache.Addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &ResponseCache{
		next: next,
		rdb:  rdb,
		ttl:  cfg.Cache.TTL,
		model: func(role config.Role) string {
			m, err := cfg.Model(role)
			if err != nil {
				return string(role)
			}
			return m.Model
		},
		logger: logger,
	}
}

// newResponseCacheWithClient is the injectable constructor used by tests.
func newResponseCacheWithClient(next Invoker, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	return &ResponseCache{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		model:  func(role config.Role) string { return string(role) },
		logger: logger,
	}
}

// Invoke serves from cache when possible, otherwise delegates and stores the
// result.
func (c *ResponseCache) Invoke(ctx context.Context, role config.Role, messages []Message, cacheHint bool) (string, error) {
	key, keyErr := c.key(role, messages)
	if keyErr == nil {
		if text, err := c.rdb.Get(ctx, key).Result(); err == nil {
			metrics.CacheHits.Inc()
			c.logger.Debug("Response cache hit", zap.String("role", string(role)))
			return text, nil
		} else if err != redis.Nil {
			c.logger.Debug("Response cache unavailable", zap.Error(err))
		} else {
			metrics.CacheMisses.Inc()
		}
	}

	text, err := c.next.Invoke(ctx, role, messages, cacheHint)
	if err != nil {
		return "", err
	}

	if keyErr == nil {
		if err := c.rdb.Set(ctx, key, text, c.ttl).Err(); err != nil {
			c.logger.Debug("Response cache store failed", zap.Error(err))
		}
	}
	return text, nil
}

func (c *ResponseCache) key(role config.Role, messages []Message) (string, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(string(role)))
	h.Write([]byte{0})
	h.Write([]byte(c.model(role)))
	h.Write([]byte{0})
	h.Write(payload)
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

var _ Invoker = (*ResponseCache)(nil)
