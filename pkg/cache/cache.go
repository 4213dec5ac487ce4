// Package cache implements the two-tier namespaced cache (C5): an
// in-process pkg/lru tier backed by an optional Redis tier, with the
// remote tier gated by a pkg/breaker circuit breaker. This consolidates
// the teacher's two near-duplicate Redis cache layers
// (pkg/common/cache/redis_cache.go and pkg/cache/redis_cache.go, both
// now replaced in place) into one tiered cache, and follows the
// original Python RedisCacheLayer's cache_mode semantics: cache_mode
// alone decides whether the remote tier participates at all, regardless
// of whether remote credentials are configured (see DESIGN.md, Open
// Question decisions #2).
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/developer-mesh/ptolemies/pkg/breaker"
	"github.com/developer-mesh/ptolemies/pkg/lru"
	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/perrors"
	"github.com/developer-mesh/ptolemies/pkg/serialize"
)

// Mode controls which tiers participate. It is the sole authority over
// remote-tier participation (see DESIGN.md Open Question decisions #2).
type Mode string

const (
	// ModeLocalOnly never touches the remote tier, even if one is wired.
	ModeLocalOnly Mode = "local_only"
	// ModeHybrid reads/writes both tiers, promoting remote hits into the
	// local tier.
	ModeHybrid Mode = "hybrid"
	// ModeRemoteOnly bypasses the local tier entirely.
	ModeRemoteOnly Mode = "remote_only"
)

// Config configures a Cache.
type Config struct {
	Mode           Mode
	Namespace      string
	DefaultTTL     time.Duration
	LocalMaxEntries int
	LocalMaxBytes   int64
	Serializer     serialize.Serializer
	BreakerConfig  breaker.Config
	Logger         observability.Logger
	Metrics        observability.MetricsClient
}

// Cache is a namespaced, two-tier cache.
type Cache struct {
	mode      Mode
	namespace string
	ttl       time.Duration
	local     *lru.Cache
	remote    *redis.Client
	ser       serialize.Serializer
	br        *breaker.Breaker
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// New constructs a Cache. remote may be nil, in which case the cache
// behaves as local-only regardless of the configured Mode.
func New(cfg Config, remote *redis.Client) *Cache {
	if cfg.Serializer == nil {
		cfg.Serializer = serialize.New(serialize.FormatJSON)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoOpMetricsClient()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if remote == nil {
		mode = ModeLocalOnly
	}

	return &Cache{
		mode:      mode,
		namespace: cfg.Namespace,
		ttl:       cfg.DefaultTTL,
		local: lru.New(lru.Config{
			MaxEntries: cfg.LocalMaxEntries,
			MaxBytes:   cfg.LocalMaxBytes,
			DefaultTTL: cfg.DefaultTTL,
			Logger:     cfg.Logger,
			Metrics:    cfg.Metrics,
		}),
		remote:  remote,
		ser:     cfg.Serializer,
		br:      breaker.New("cache."+cfg.Namespace, cfg.BreakerConfig, cfg.Logger, cfg.Metrics),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

func (c *Cache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.namespace, key)
}

func (c *Cache) usesRemote() bool {
	return c.remote != nil && c.mode != ModeLocalOnly
}

func (c *Cache) usesLocal() bool {
	return c.mode != ModeRemoteOnly
}

// Get retrieves a value, checking the local tier first (unless
// remote-only), then the remote tier (unless local-only), promoting
// remote hits into the local tier when both are active.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	fullKey := c.key(key)

	if c.usesLocal() {
		if raw, ok := c.local.Get(fullKey); ok {
			c.metrics.IncrementCounterWithLabels("cache_hits_total", 1, map[string]string{"tier": "local", "namespace": c.namespace})
			data := raw.([]byte)
			if err := c.ser.Unmarshal(data, dest); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	if !c.usesRemote() {
		c.metrics.IncrementCounterWithLabels("cache_misses_total", 1, map[string]string{"namespace": c.namespace})
		return false, nil
	}

	result, err := c.br.Execute(ctx, func() (interface{}, error) {
		return c.remote.Get(ctx, fullKey).Bytes()
	})
	if err != nil {
		if err == redis.Nil {
			c.metrics.IncrementCounterWithLabels("cache_misses_total", 1, map[string]string{"namespace": c.namespace})
			return false, nil
		}
		c.metrics.IncrementCounterWithLabels("cache_misses_total", 1, map[string]string{"namespace": c.namespace, "reason": "remote_unavailable"})
		return false, nil //nolint:nilerr // remote failure degrades to a cache miss, not an error
	}

	data, ok := result.([]byte)
	if !ok {
		return false, perrors.New(perrors.KindDecodeError, "cache.get", "unexpected redis result type")
	}
	if err := c.ser.Unmarshal(data, dest); err != nil {
		return false, err
	}

	c.metrics.IncrementCounterWithLabels("cache_hits_total", 1, map[string]string{"tier": "remote", "namespace": c.namespace})
	if c.usesLocal() {
		c.local.Set(fullKey, data, int64(len(data)), c.ttl)
	}
	return true, nil
}

// Set writes a value to whichever tiers are active with the given TTL
// (zero uses the cache default).
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	fullKey := c.key(key)
	data, err := c.ser.Marshal(value)
	if err != nil {
		return err
	}
	effectiveTTL := ttl
	if effectiveTTL == 0 {
		effectiveTTL = c.ttl
	}

	if c.usesLocal() {
		c.local.Set(fullKey, data, int64(len(data)), effectiveTTL)
	}

	if c.usesRemote() {
		_, err := c.br.Execute(ctx, func() (interface{}, error) {
			return nil, c.remote.Set(ctx, fullKey, data, effectiveTTL).Err()
		})
		if err != nil {
			c.logger.Warn("remote cache set failed, local tier still updated", map[string]interface{}{
				"namespace": c.namespace, "error": err.Error(),
			})
		}
	}
	return nil
}

// Delete removes a key from every active tier.
func (c *Cache) Delete(ctx context.Context, key string) {
	fullKey := c.key(key)
	if c.usesLocal() {
		c.local.Delete(fullKey)
	}
	if c.usesRemote() {
		_, _ = c.br.Execute(ctx, func() (interface{}, error) {
			return nil, c.remote.Del(ctx, fullKey).Err()
		})
	}
}

// BreakerState exposes the remote-tier breaker state for health checks.
func (c *Cache) BreakerState() breaker.State {
	return c.br.State()
}

// LocalStats exposes local-tier counters for health/metrics reporting.
func (c *Cache) LocalStats() lru.Stats {
	return c.local.Stats()
}
