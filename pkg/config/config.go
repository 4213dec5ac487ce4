// Package config loads Ptolemies' runtime configuration: cache sizing,
// connection pooling, query concurrency/timeout targets, circuit
// breaker thresholds, and session lifetime (spec.md §6's namespaced
// configuration keys). It follows the teacher's viper idiom
// (pkg/common/config.Load: SetDefault, SetEnvPrefix/AutomaticEnv,
// optional YAML file, Unmarshal into a typed struct) but carries none
// of the teacher's AWS/Postgres/webhook-specific fields, which have no
// Ptolemies counterpart (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OptimizationLevel is the rung C6's adaptive tuning steps through as
// it trades latency for cache-hit rate.
type OptimizationLevel string

const (
	OptimizationMinimal    OptimizationLevel = "minimal"
	OptimizationBalanced   OptimizationLevel = "balanced"
	OptimizationAggressive OptimizationLevel = "aggressive"
	OptimizationExtreme    OptimizationLevel = "extreme"
)

// CacheConfig sizes and TTLs the four named caches behind C5/C6.
type CacheConfig struct {
	QueryCacheSize     int           `mapstructure:"query_cache_size"`
	ResultCacheSize    int           `mapstructure:"result_cache_size"`
	EmbeddingCacheSize int           `mapstructure:"embedding_cache_size"`
	ConceptCacheSize   int           `mapstructure:"concept_cache_size"`
	TTL                time.Duration `mapstructure:"cache_ttl_seconds"`
}

// PoolConfig governs C4's bounded connection pool.
type PoolConfig struct {
	Size           int           `mapstructure:"connection_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connection_timeout_ms"`
}

// QueryConfig governs C6's monitored execution and adaptive tuning.
type QueryConfig struct {
	MaxConcurrentQueries int               `mapstructure:"max_concurrent_queries"`
	Timeout              time.Duration     `mapstructure:"query_timeout_ms"`
	TargetResponseTime   time.Duration     `mapstructure:"target_response_time_ms"`
	TargetCacheHitRate   float64           `mapstructure:"target_cache_hit_rate"`
	OptimizationLevel    OptimizationLevel `mapstructure:"optimization_level"`
}

// BreakerConfig governs C2's circuit breakers.
type BreakerConfig struct {
	Threshold int           `mapstructure:"circuit_breaker_threshold"`
	Timeout   time.Duration `mapstructure:"circuit_breaker_timeout_seconds"`
}

// SessionConfig governs C9's per-conversation session lifetime.
type SessionConfig struct {
	Timeout time.Duration `mapstructure:"session_timeout_minutes"`
}

// StoreConfig names the optional concrete backing stores (pkg/store).
// A blank PostgresDSN or Neo4jURI means that adapter is not wired; the
// hybrid engine then runs with a nil store on that side.
type StoreConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	RedisAddress  string `mapstructure:"redis_address"`
}

// EmbeddingConfig names the optional HTTP embeddings endpoint backing
// pkg/embedclient. Endpoint left blank means pgstore is not wired; the
// hybrid engine runs with a nil semantic store.
type EmbeddingConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// Config is the complete Ptolemies runtime configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Pool        PoolConfig      `mapstructure:"pool"`
	Query       QueryConfig     `mapstructure:"query"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	Session     SessionConfig   `mapstructure:"session"`
	Store       StoreConfig     `mapstructure:"store"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
}

// Load reads configuration from (in ascending priority) built-in
// defaults, an optional YAML file (PTOLEMIES_CONFIG_FILE, default
// configs/config.yaml), and PTOLEMIES_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("PTOLEMIES_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("PTOLEMIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("cache.query_cache_size", 1000)
	v.SetDefault("cache.result_cache_size", 5000)
	v.SetDefault("cache.embedding_cache_size", 2000)
	v.SetDefault("cache.concept_cache_size", 500)
	v.SetDefault("cache.cache_ttl_seconds", 3600*time.Second)

	v.SetDefault("pool.connection_pool_size", 20)
	v.SetDefault("pool.connection_timeout_ms", 5000*time.Millisecond)

	v.SetDefault("query.max_concurrent_queries", 100)
	v.SetDefault("query.query_timeout_ms", 90*time.Millisecond)
	v.SetDefault("query.target_response_time_ms", 100*time.Millisecond)
	v.SetDefault("query.target_cache_hit_rate", 0.7)
	v.SetDefault("query.optimization_level", string(OptimizationBalanced))

	v.SetDefault("breaker.circuit_breaker_threshold", 5)
	v.SetDefault("breaker.circuit_breaker_timeout_seconds", 60*time.Second)

	v.SetDefault("session.session_timeout_minutes", 30*time.Minute)

	v.SetDefault("store.redis_address", "localhost:6379")

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}
