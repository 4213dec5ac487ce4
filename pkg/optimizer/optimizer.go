// Package optimizer implements the performance optimizer (C6): a
// cached_operation facade, parameter optimization by OptimizationLevel,
// monitored execution with rolling metrics and a bottleneck histogram,
// and an adaptive tuning loop. Grounded directly on
// original_source/src/performance_optimizer.py (PerformanceOptimizer,
// QueryOptimizer, ConnectionPool), translated from its asyncio/dataclass
// shape into composed pkg/lru caches, a pkg/pool connection pool, and a
// pkg/breaker-free monitored-execution path (the Python original has no
// circuit breaker here; one is layered in by pkg/hybrid instead, where
// the teacher's own service.go composes breaker+retry+semaphore together).
package optimizer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/developer-mesh/ptolemies/pkg/lru"
	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/perrors"
	"github.com/developer-mesh/ptolemies/pkg/pool"
	"github.com/developer-mesh/ptolemies/pkg/resilience"
)

// Level mirrors the Python original's OptimizationLevel enum.
type Level string

const (
	LevelMinimal    Level = "minimal"
	LevelBalanced   Level = "balanced"
	LevelAggressive Level = "aggressive"
	LevelExtreme    Level = "extreme"
)

// Config mirrors PerformanceConfig.
type Config struct {
	QueryCacheSize       int
	ResultCacheSize      int
	EmbeddingCacheSize   int
	ConceptCacheSize     int
	CacheTTL             time.Duration
	MaxConcurrentQueries int64
	ConnectionPoolSize   int64
	SemanticBatchSize    int
	GraphBatchSize       int
	QueryTimeout         time.Duration
	OptimizationLevel    Level
	TargetResponseTime   time.Duration
	TargetCacheHitRate   float64
}

// DefaultConfig mirrors PerformanceConfig's field defaults.
func DefaultConfig() Config {
	return Config{
		QueryCacheSize:       1000,
		ResultCacheSize:      5000,
		EmbeddingCacheSize:   2000,
		ConceptCacheSize:     500,
		CacheTTL:             time.Hour,
		MaxConcurrentQueries: 100,
		ConnectionPoolSize:   20,
		SemanticBatchSize:    50,
		GraphBatchSize:       25,
		QueryTimeout:         90 * time.Millisecond,
		OptimizationLevel:    LevelBalanced,
		TargetResponseTime:   100 * time.Millisecond,
		TargetCacheHitRate:   0.7,
	}
}

// CacheType selects which named cache a cached operation uses.
type CacheType string

const (
	CacheQuery     CacheType = "query"
	CacheResult    CacheType = "result"
	CacheEmbedding CacheType = "embedding"
	CacheConcept   CacheType = "concept"
)

// Metrics mirrors PerformanceMetrics.
type Metrics struct {
	QueryCount          int64
	TotalQueryTimeMs    float64
	AvgQueryTimeMs      float64
	CacheHits           int64
	CacheMisses         int64
	ConcurrentQueries   int64
	OptimizationApplied []string
	BottlenecksDetected []string
}

// PerformanceInfo is returned by ExecuteWithMonitoring alongside the result.
type PerformanceInfo struct {
	ExecutionTime    time.Duration
	WithinTarget     bool
	ActiveQueries    int64
	Operation        string
}

// SearchParams is both the input and output of OptimizeSearchParameters.
type SearchParams struct {
	Query               string
	QueryType           string
	Limit               int
	SearchType          string
	MaxDepth            int
	AppliedOptimizations []string
}

// Optimizer is the main performance optimization coordinator.
type Optimizer struct {
	mu     sync.Mutex
	config Config

	queryCache     *lru.Cache
	resultCache    *lru.Cache
	embeddingCache *lru.Cache
	conceptCache   *lru.Cache

	connPool      *pool.Pool
	governor      *resilience.Bulkhead
	activeQueries int64

	metrics          Metrics
	bottleneckCounts map[string]int64

	logger        observability.Logger
	metricsClient observability.MetricsClient
}

// New creates an Optimizer.
func New(cfg Config, logger observability.Logger, metrics observability.MetricsClient) *Optimizer {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Optimizer{
		config:           cfg,
		queryCache:       lru.New(lru.Config{MaxEntries: cfg.QueryCacheSize, DefaultTTL: cfg.CacheTTL, Logger: logger, Metrics: metrics}),
		resultCache:      lru.New(lru.Config{MaxEntries: cfg.ResultCacheSize, DefaultTTL: cfg.CacheTTL, Logger: logger, Metrics: metrics}),
		embeddingCache:   lru.New(lru.Config{MaxEntries: cfg.EmbeddingCacheSize, DefaultTTL: cfg.CacheTTL * 2, Logger: logger, Metrics: metrics}),
		conceptCache:     lru.New(lru.Config{MaxEntries: cfg.ConceptCacheSize, DefaultTTL: cfg.CacheTTL, Logger: logger, Metrics: metrics}),
		connPool:         pool.New(cfg.ConnectionPoolSize),
		governor: resilience.NewBulkhead("global_query_governor", resilience.BulkheadConfig{
			MaxConcurrentCalls: int(cfg.MaxConcurrentQueries),
			MaxQueueDepth:      int(cfg.MaxConcurrentQueries) * 10,
			QueueTimeout:       24 * time.Hour,
			EnableBackpressure: false,
		}, logger, metrics),
		bottleneckCounts: make(map[string]int64),
		logger:           logger,
		metricsClient:    metrics,
	}
}

func (o *Optimizer) cacheFor(t CacheType) *lru.Cache {
	switch t {
	case CacheResult:
		return o.resultCache
	case CacheEmbedding:
		return o.embeddingCache
	case CacheConcept:
		return o.conceptCache
	default:
		return o.queryCache
	}
}

// cacheKey mirrors _generate_cache_key: sorted kwargs, md5 of the joined
// operation name and JSON-encoded sorted params.
func cacheKey(operation string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sorted := make([][2]interface{}, 0, len(keys))
	for _, k := range keys {
		sorted = append(sorted, [2]interface{}{k, params[k]})
	}
	paramsJSON, _ := json.Marshal(sorted)
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s", operation, paramsJSON)))
	return hex.EncodeToString(sum[:])
}

// CachedOperation executes fn under the named cache, returning the
// result and whether it was served from cache.
func (o *Optimizer) CachedOperation(
	ctx context.Context,
	cacheType CacheType,
	operation string,
	params map[string]interface{},
	fn func(ctx context.Context) (interface{}, error),
) (interface{}, bool, error) {
	cache := o.cacheFor(cacheType)
	key := cacheKey(operation, params)

	if v, ok := cache.Get(key); ok {
		o.metricsClient.IncrementCounterWithLabels("optimizer_cache_hits_total", 1, map[string]string{"cache": string(cacheType), "operation": operation})
		return v, true, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}
	cache.Set(key, result, 0, 0)
	o.metricsClient.IncrementCounterWithLabels("optimizer_cache_misses_total", 1, map[string]string{"cache": string(cacheType), "operation": operation})
	return result, false, nil
}

// OptimizeSearchParameters mirrors optimize_search_parameters: applies
// level-based limit/depth caps, then query-type-specific optimizations.
func (o *Optimizer) OptimizeSearchParameters(p SearchParams) SearchParams {
	out := p
	out.AppliedOptimizations = nil

	switch o.config.OptimizationLevel {
	case LevelAggressive:
		if out.Limit > 50 {
			out.Limit = 50
			out.AppliedOptimizations = append(out.AppliedOptimizations, "aggressive_limit_reduction")
		}
		if out.MaxDepth > 2 {
			out.MaxDepth = 2
			out.AppliedOptimizations = append(out.AppliedOptimizations, "aggressive_depth_reduction")
		}
	case LevelExtreme:
		if out.Limit > 25 {
			out.Limit = 25
			out.AppliedOptimizations = append(out.AppliedOptimizations, "extreme_limit_reduction")
		}
		if out.MaxDepth > 1 {
			out.MaxDepth = 1
			out.AppliedOptimizations = append(out.AppliedOptimizations, "extreme_depth_reduction")
		}
	}

	qtLower := strings.ToLower(out.QueryType)
	if strings.Contains(qtLower, "semantic") {
		limit := out.Limit
		if limit == 0 {
			limit = o.config.SemanticBatchSize
		}
		q, l, applied := optimizeSemanticQuery(out.Query, limit, o.config.SemanticBatchSize)
		out.Query = q
		out.Limit = l
		out.AppliedOptimizations = append(out.AppliedOptimizations, applied...)
	}

	if strings.Contains(qtLower, "graph") && out.SearchType != "" && out.MaxDepth != 0 {
		q, st, depth, applied := optimizeGraphQuery(out.Query, out.SearchType, out.MaxDepth)
		out.Query = q
		out.SearchType = st
		out.MaxDepth = depth
		out.AppliedOptimizations = append(out.AppliedOptimizations, applied...)
	}

	return out
}

func optimizeSemanticQuery(query string, limit, batchSize int) (string, int, []string) {
	var applied []string
	q := strings.TrimSpace(query)

	if len(query) > 200 {
		q = query[:200] + "..."
		applied = append(applied, "query_truncation")
	}

	optimizedLimit := limit
	if limit > batchSize {
		optimizedLimit = batchSize
		applied = append(applied, "limit_reduction")
	}

	words := strings.Fields(q)
	if len(words) > 20 {
		important := append(append([]string{}, words[:10]...), words[len(words)-5:]...)
		q = strings.Join(important, " ")
		applied = append(applied, "word_reduction")
	}

	return q, optimizedLimit, applied
}

func optimizeGraphQuery(query, searchType string, maxDepth int) (string, string, int, []string) {
	var applied []string
	q := strings.TrimSpace(query)
	depth := maxDepth
	st := searchType

	wordCount := len(strings.Fields(query))
	switch {
	case maxDepth > 3 && wordCount < 3:
		depth = 2
		applied = append(applied, "depth_reduction_simple")
	case maxDepth > 4:
		depth = 3
		applied = append(applied, "depth_capping")
	}

	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "concept") && searchType == "document":
		st = "concept"
		applied = append(applied, "search_type_concept")
	case strings.Contains(lower, "document") && searchType == "concept":
		st = "document"
		applied = append(applied, "search_type_document")
	}

	return q, st, depth, applied
}

// ExecuteWithMonitoring runs fn under a global concurrency slot (the
// resilience.Bulkhead governor) and a connection pool permit, with a query
// timeout, recording rolling metrics and bottleneck counts. The governor
// models spec.md §4.6's "global bounded concurrency governor" distinct from
// the per-store C4 permit acquired from connPool.
func (o *Optimizer) ExecuteWithMonitoring(
	ctx context.Context,
	operation string,
	fn func(ctx context.Context) (interface{}, error),
) (interface{}, PerformanceInfo, error) {
	var info PerformanceInfo
	result, err := o.governor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		o.mu.Lock()
		o.activeQueries++
		active := o.activeQueries
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			o.activeQueries--
			o.mu.Unlock()
		}()

		if err := o.connPool.Acquire(ctx); err != nil {
			o.recordBottleneck("error_" + operation)
			return nil, perrors.Wrap(err, perrors.KindUpstreamUnavailable, operation)
		}
		defer o.connPool.Release()

		timeoutCtx, cancel := context.WithTimeout(ctx, o.config.QueryTimeout)
		defer cancel()

		start := time.Now()
		type outcome struct {
			value interface{}
			err   error
		}
		resultCh := make(chan outcome, 1)
		go func() {
			v, err := fn(timeoutCtx)
			resultCh <- outcome{v, err}
		}()

		select {
		case <-timeoutCtx.Done():
			o.recordBottleneck("timeout_" + operation)
			return nil, perrors.New(perrors.KindTimeout, operation, "operation exceeded query timeout")
		case res := <-resultCh:
			elapsed := time.Since(start)
			if res.err != nil {
				o.recordBottleneck("error_" + operation)
				return nil, res.err
			}

			o.mu.Lock()
			o.metrics.QueryCount++
			o.metrics.TotalQueryTimeMs += float64(elapsed.Milliseconds())
			o.metrics.AvgQueryTimeMs = o.metrics.TotalQueryTimeMs / float64(o.metrics.QueryCount)
			o.mu.Unlock()

			withinTarget := elapsed <= o.config.TargetResponseTime
			if !withinTarget {
				o.recordBottleneck("slow_" + operation)
			}

			o.metricsClient.RecordLatency(operation, elapsed)

			info = PerformanceInfo{
				ExecutionTime: elapsed,
				WithinTarget:  withinTarget,
				ActiveQueries: active,
				Operation:     operation,
			}
			return res.value, nil
		}
	})
	if err != nil {
		return nil, PerformanceInfo{}, err
	}
	return result, info, nil
}

// Close stops the governor's queue processor goroutine. Safe to call once
// at process shutdown.
func (o *Optimizer) Close() error {
	return o.governor.Close()
}

func (o *Optimizer) recordBottleneck(key string) {
	o.mu.Lock()
	o.bottleneckCounts[key]++
	o.metrics.BottlenecksDetected = append(o.metrics.BottlenecksDetected, key)
	o.mu.Unlock()
	o.metricsClient.IncrementCounterWithLabels("optimizer_bottlenecks_total", 1, map[string]string{"bottleneck": key})
}

// AdaptiveOptimization mirrors adaptive_optimization: once at least 10
// bottleneck samples exist, it tightens the query timeout on a >10%
// timeout rate, escalates OptimizationLevel on a >20% slow-operation
// rate, and raises TTL on caches with a low hit rate that still have
// headroom.
func (o *Optimizer) AdaptiveOptimization() {
	o.mu.Lock()
	defer o.mu.Unlock()

	var total int64
	for _, c := range o.bottleneckCounts {
		total += c
	}
	if total < 10 {
		return
	}

	var timeoutCount, slowCount int64
	for key, c := range o.bottleneckCounts {
		if strings.Contains(key, "timeout") {
			timeoutCount += c
		}
		if strings.Contains(key, "slow") {
			slowCount += c
		}
	}

	var applied []string

	if float64(timeoutCount)/float64(total) > 0.1 {
		old := o.config.QueryTimeout
		newTimeout := time.Duration(float64(old) * 0.8)
		if newTimeout < 50*time.Millisecond {
			newTimeout = 50 * time.Millisecond
		}
		o.config.QueryTimeout = newTimeout
		applied = append(applied, fmt.Sprintf("timeout_reduction:%s->%s", old, newTimeout))
	}

	if float64(slowCount)/float64(total) > 0.2 {
		switch o.config.OptimizationLevel {
		case LevelMinimal:
			o.config.OptimizationLevel = LevelBalanced
			applied = append(applied, "optimization_level:minimal->balanced")
		case LevelBalanced:
			o.config.OptimizationLevel = LevelAggressive
			applied = append(applied, "optimization_level:balanced->aggressive")
		}
	}

	const maxCacheTTL = 2 * time.Hour
	for _, name := range []string{"query", "result", "embedding", "concept"} {
		c := o.cacheFor(CacheType(name))
		stats := c.Stats()
		total := stats.Hits + stats.Misses
		if total == 0 {
			continue
		}
		hitRate := float64(stats.Hits) / float64(total)
		capacity := c.MaxEntries()
		underCapacity := capacity <= 0 || float64(stats.Entries) < 0.8*float64(capacity)
		if hitRate < 0.5 && underCapacity {
			newTTL := time.Duration(float64(c.TTL()) * 1.2)
			if newTTL > maxCacheTTL {
				newTTL = maxCacheTTL
			}
			c.SetTTL(newTTL)
			applied = append(applied, fmt.Sprintf("%s_cache_ttl_increase:%s", name, newTTL))
		}
	}

	if len(applied) > 0 {
		o.metrics.OptimizationApplied = append(o.metrics.OptimizationApplied, applied...)
		o.logger.Info("adaptive optimizations applied", map[string]interface{}{
			"optimizations": applied, "bottleneck_kinds": len(o.bottleneckCounts),
		})
	}
}

// Bottleneck is one entry of the report's top-five bottleneck ranking.
type Bottleneck struct {
	Key   string
	Count int64
}

// Report mirrors get_performance_report's top-level shape: per-cache
// stats, pool stats, rolling metrics, the top five bottlenecks,
// queries-per-second, and whether the configured performance target is met.
type Report struct {
	Metrics           Metrics
	CacheStats        map[string]lru.Stats
	ConnectionPool    pool.Stats
	Governor          resilience.BulkheadStats
	BottleneckCounts  map[string]int64
	TopBottlenecks    []Bottleneck
	OptimizationLevel Level
	UptimeSeconds     float64
	QueriesPerSecond  float64
	TargetMet         bool
}

// GetPerformanceReport returns a snapshot for observability/tooling.
func (o *Optimizer) GetPerformanceReport(uptime time.Duration) Report {
	o.mu.Lock()
	counts := make(map[string]int64, len(o.bottleneckCounts))
	for k, v := range o.bottleneckCounts {
		counts[k] = v
	}
	metrics := o.metrics
	level := o.config.OptimizationLevel
	targetResponseTime := o.config.TargetResponseTime
	targetHitRate := o.config.TargetCacheHitRate
	o.mu.Unlock()

	top := topBottlenecks(counts, 5)

	cacheStats := map[string]lru.Stats{
		"query":     o.queryCache.Stats(),
		"result":    o.resultCache.Stats(),
		"embedding": o.embeddingCache.Stats(),
		"concept":   o.conceptCache.Stats(),
	}

	var totalHits, totalOps int64
	for _, s := range cacheStats {
		totalHits += s.Hits
		totalOps += s.Hits + s.Misses
	}
	var overallHitRate float64
	if totalOps > 0 {
		overallHitRate = float64(totalHits) / float64(totalOps)
	}

	var qps float64
	if uptime > 0 {
		qps = float64(metrics.QueryCount) / uptime.Seconds()
	}
	if targetHitRate == 0 {
		targetHitRate = 0.7
	}

	return Report{
		Metrics:           metrics,
		CacheStats:        cacheStats,
		ConnectionPool:    o.connPool.Stats(),
		Governor:          o.governor.GetStats(),
		BottleneckCounts:  counts,
		TopBottlenecks:    top,
		OptimizationLevel: level,
		UptimeSeconds:     uptime.Seconds(),
		QueriesPerSecond:  qps,
		TargetMet:         metrics.AvgQueryTimeMs <= float64(targetResponseTime.Milliseconds()) && overallHitRate >= targetHitRate,
	}
}

// topBottlenecks returns the n highest-count bottleneck keys, ties broken
// alphabetically for deterministic output.
func topBottlenecks(counts map[string]int64, n int) []Bottleneck {
	out := make([]Bottleneck, 0, len(counts))
	for k, v := range counts {
		out = append(out, Bottleneck{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
