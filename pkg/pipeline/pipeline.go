// Package pipeline implements the query pipeline orchestrator (C9):
// session/context management with a periodic sweep of stale sessions,
// cache-key derivation for whole-request caching, intent-specific
// post-processing of search results, and the overall request flow tying
// pkg/analyzer, pkg/hybrid, pkg/cache and pkg/optimizer together. Grounded
// directly on original_source/src/query_processing_pipeline.py's
// QueryPipelineOrchestrator class: process_query_request's cache-check/
// search/intent-processing/context-update/cache-store sequence,
// _generate_cache_key's md5-of-joined-fields scheme (kept as crypto/md5
// since the key format is an external cache compatibility concern, not an
// internal algorithm choice), _clean_old_sessions' timeout sweep, and
// _apply_intent_processing's summarize/compare/tutorial/troubleshoot/
// example branches.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/developer-mesh/ptolemies/pkg/analyzer"
	"github.com/developer-mesh/ptolemies/pkg/cache"
	"github.com/developer-mesh/ptolemies/pkg/hybrid"
	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/optimizer"
	"github.com/developer-mesh/ptolemies/pkg/ptypes"
	"github.com/google/uuid"
)

// Config controls orchestration behavior.
type Config struct {
	EnableCaching          bool
	CacheTTL               time.Duration
	ParallelProcessing     bool
	MaxConcurrentOperations int
	ContextWindowSize      int
	SessionTimeout         time.Duration
	SweepInterval          time.Duration
}

// DefaultConfig mirrors QueryPipelineConfig's orchestrator-relevant defaults.
func DefaultConfig() Config {
	return Config{
		EnableCaching:           true,
		CacheTTL:                time.Hour,
		ParallelProcessing:      true,
		MaxConcurrentOperations: 5,
		ContextWindowSize:       5,
		SessionTimeout:          30 * time.Minute,
		SweepInterval:           5 * time.Minute,
	}
}

// Request describes a single query request.
type Request struct {
	Query       string
	SessionID   string
	UserID      string
	Preferences map[string]interface{}
}

// Response is the orchestrator's output for one request.
type Response struct {
	Query          string
	ProcessedQuery ptypes.ProcessedQuery
	Results        []ResultItem
	SessionID      string
	ProcessingTime time.Duration
	CacheKey       string
	FromCache      bool
}

// ResultItem is a single ranked/formatted search hit returned to the caller.
type ResultItem struct {
	ID      string
	Title   string
	Content string
	Source  string
	URL     string
	Score   float64
}

// Orchestrator coordinates analysis, search, caching, and session state.
type Orchestrator struct {
	config    Config
	analyzer  *analyzer.Analyzer
	engine    *hybrid.Engine
	cache     *cache.Cache
	optimizer *optimizer.Optimizer
	logger    observability.Logger

	mu       sync.RWMutex
	sessions map[string]*ptypes.QueryContext

	stopSweep chan struct{}
}

// New constructs an Orchestrator and starts its background session sweep.
// engine, cacheLayer, or opt may be nil to disable hybrid search, caching,
// or the performance optimizer (C6) respectively.
func New(cfg Config, a *analyzer.Analyzer, engine *hybrid.Engine, cacheLayer *cache.Cache, opt *optimizer.Optimizer, logger observability.Logger) *Orchestrator {
	if cfg.ContextWindowSize == 0 {
		cfg.ContextWindowSize = 5
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	o := &Orchestrator{
		config:    cfg,
		analyzer:  a,
		engine:    engine,
		cache:     cacheLayer,
		optimizer: opt,
		logger:    logger,
		sessions:  make(map[string]*ptypes.QueryContext),
		stopSweep: make(chan struct{}),
	}
	go o.sweepLoop()
	return o
}

// Close stops the background session sweep.
func (o *Orchestrator) Close() {
	close(o.stopSweep)
}

func (o *Orchestrator) sweepLoop() {
	ticker := time.NewTicker(o.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.cleanOldSessions()
		case <-o.stopSweep:
			return
		}
	}
}

func (o *Orchestrator) cleanOldSessions() {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	var expired int
	for id, ctx := range o.sessions {
		if now.Sub(ctx.LastAccess) > o.config.SessionTimeout {
			delete(o.sessions, id)
			expired++
		}
	}
	if expired > 0 {
		o.logger.Info("cleaned expired sessions", map[string]interface{}{"count": expired})
	}
}

// Process runs the full pipeline for a request: session lookup/creation,
// cache check, analysis, search, intent processing, context update, and
// cache store.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	qctx := o.getOrCreateContext(req.SessionID, req.UserID, req.Preferences)

	cacheKey := o.generateCacheKey(req.Query, qctx)
	if o.config.EnableCaching && o.cache != nil {
		var cached Response
		found, err := o.cache.Get(ctx, cacheKey, &cached)
		if err == nil && found {
			cached.FromCache = true
			return cached, nil
		}
	}

	processed := o.analyzer.Process(ctx, req.Query, qctx)

	var results []ResultItem
	if o.engine != nil {
		if o.config.ParallelProcessing && len(processed.ExpandedQueries) > 0 {
			results = o.parallelSearch(ctx, processed)
		} else {
			results = o.executeSearch(ctx, processed)
		}
	}

	final := applyIntentProcessing(processed, results)
	o.updateContext(qctx, req.Query, processed)

	resp := Response{
		Query:          req.Query,
		ProcessedQuery: processed,
		Results:        final,
		SessionID:      qctx.SessionID,
		ProcessingTime: time.Since(start),
		CacheKey:       cacheKey,
	}

	if o.config.EnableCaching && o.cache != nil {
		ttl := o.config.CacheTTL
		_ = o.cache.Set(ctx, cacheKey, resp, ttl)
	}

	return resp, nil
}

func (o *Orchestrator) getOrCreateContext(sessionID, userID string, preferences map[string]interface{}) *ptypes.QueryContext {
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	qctx, ok := o.sessions[sessionID]
	if ok {
		if userID != "" {
			qctx.UserID = userID
		}
		for k, v := range preferences {
			if qctx.Preferences == nil {
				qctx.Preferences = make(map[string]interface{})
			}
			qctx.Preferences[k] = v
		}
	} else {
		qctx = &ptypes.QueryContext{
			SessionID:   sessionID,
			UserID:      userID,
			Preferences: preferences,
			CreatedAt:   time.Now(),
		}
		o.sessions[sessionID] = qctx
	}
	qctx.LastAccess = time.Now()
	return qctx
}

func (o *Orchestrator) updateContext(qctx *ptypes.QueryContext, query string, processed ptypes.ProcessedQuery) {
	o.mu.Lock()
	defer o.mu.Unlock()

	qctx.PreviousQueries = append(qctx.PreviousQueries, query)
	qctx.ConversationHistory = append(qctx.ConversationHistory, ptypes.ConversationTurn{
		Query:     query,
		Intent:    processed.Intent,
		Timestamp: time.Now(),
	})

	maxLen := o.config.ContextWindowSize * 2
	if len(qctx.PreviousQueries) > maxLen {
		qctx.PreviousQueries = qctx.PreviousQueries[len(qctx.PreviousQueries)-o.config.ContextWindowSize:]
	}
	if len(qctx.ConversationHistory) > maxLen {
		qctx.ConversationHistory = qctx.ConversationHistory[len(qctx.ConversationHistory)-o.config.ContextWindowSize:]
	}
}

// executeSearch routes a single query through the performance optimizer
// (C6) before reaching the hybrid engine: OptimizeSearchParameters caps
// limit/depth and may truncate the query, ExecuteWithMonitoring wraps the
// call with the governor/pool/timeout, and CachedOperation is the caching
// facade for the search result itself. With no optimizer configured the
// query runs directly against the engine.
func (o *Orchestrator) executeSearch(ctx context.Context, processed ptypes.ProcessedQuery) []ResultItem {
	query := processed.NormalizedQuery
	limit := 50
	opts := hybrid.SearchOptions{
		SemanticWeight:  processed.SemanticWeight,
		GraphWeight:     processed.GraphWeight,
		GraphSearchType: "concept",
		GraphMaxDepth:   2,
	}

	if o.optimizer != nil {
		optimized := o.optimizer.OptimizeSearchParameters(optimizer.SearchParams{
			Query:      query,
			QueryType:  string(processed.SearchStrategy),
			Limit:      limit,
			SearchType: opts.GraphSearchType,
			MaxDepth:   opts.GraphMaxDepth,
		})
		query, limit = optimized.Query, optimized.Limit
		opts.GraphSearchType, opts.GraphMaxDepth = optimized.SearchType, optimized.MaxDepth
	}

	run := func(ctx context.Context) (interface{}, error) {
		results, _, err := o.engine.Search(ctx, query, processed.SearchStrategy, limit, opts)
		return results, err
	}

	var value interface{}
	var err error
	if o.optimizer != nil {
		value, _, err = o.optimizer.ExecuteWithMonitoring(ctx, "hybrid_search", func(ctx context.Context) (interface{}, error) {
			v, _, cacheErr := o.optimizer.CachedOperation(ctx, optimizer.CacheResult, "hybrid_search", map[string]interface{}{
				"query":      query,
				"query_type": string(processed.SearchStrategy),
				"limit":      limit,
			}, run)
			return v, cacheErr
		})
	} else {
		value, err = run(ctx)
	}
	if err != nil {
		o.logger.Warn("search execution failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	results, _ := value.([]ptypes.HybridResult)
	return toResultItems(results)
}

// parallelSearch mirrors _parallel_search: fan out across the normalized
// query plus every expanded query, bounded by MaxConcurrentOperations,
// then merge/dedupe by ID and sort by score.
func (o *Orchestrator) parallelSearch(ctx context.Context, processed ptypes.ProcessedQuery) []ResultItem {
	queries := append([]string{processed.NormalizedQuery}, processed.ExpandedQueries...)

	type outcome struct {
		items []ResultItem
	}
	resultsCh := make(chan outcome, len(queries))
	sem := make(chan struct{}, o.config.MaxConcurrentOperations)

	var wg sync.WaitGroup
	for _, q := range queries {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			variant := processed
			variant.NormalizedQuery = q
			resultsCh <- outcome{items: o.executeSearch(ctx, variant)}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	seen := make(map[string]bool)
	var merged []ResultItem
	for out := range resultsCh {
		for _, item := range out.items {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			merged = append(merged, item)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}

func toResultItems(results []ptypes.HybridResult) []ResultItem {
	items := make([]ResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, ResultItem{
			ID:      r.ID,
			Title:   r.Title,
			Content: r.Content,
			Source:  r.SourceName,
			URL:     r.SourceURL,
			Score:   r.CombinedScore,
		})
	}
	return items
}

// applyIntentProcessing mirrors _apply_intent_processing's intent-specific
// result reshaping.
func applyIntentProcessing(processed ptypes.ProcessedQuery, results []ResultItem) []ResultItem {
	if len(results) == 0 {
		return results
	}

	switch processed.Intent {
	case ptypes.IntentSummarize:
		return topN(results, 3)

	case ptypes.IntentCompare:
		return groupByEntity(results, processed.Entities, 2, 10)

	case ptypes.IntentTutorial:
		return splitByKeywordPriority(results, []string{"step", "guide", "tutorial", "example"}, 5, 5)

	case ptypes.IntentTroubleshoot:
		return splitByKeywordPriority(results, []string{"fix", "solution", "resolve", "solved"}, 7, 3)

	case ptypes.IntentExample:
		return splitByKeywordPriority(results, []string{"```", "code", "example", "sample"}, 8, 2)

	default:
		return topN(results, 10)
	}
}

// groupByEntity partitions results by which extracted entity value appears
// in their content, keeping up to perGroup per entity and at most total
// overall, per spec.md §4.9 step 5 (compare intent) and §8 scenario 4.
func groupByEntity(results []ResultItem, entities []ptypes.Entity, perGroup, total int) []ResultItem {
	if len(entities) == 0 {
		return topN(results, total)
	}

	used := make(map[string]bool)
	var grouped []ResultItem
	for _, e := range entities {
		if len(grouped) >= total {
			break
		}
		value := strings.ToLower(e.Value)
		count := 0
		for _, r := range results {
			if count >= perGroup || len(grouped) >= total {
				break
			}
			if used[r.ID] {
				continue
			}
			if strings.Contains(strings.ToLower(r.Content), value) {
				grouped = append(grouped, r)
				used[r.ID] = true
				count++
			}
		}
	}
	return grouped
}

func topN(results []ResultItem, n int) []ResultItem {
	if len(results) <= n {
		return results
	}
	return results[:n]
}

func splitByKeywordPriority(results []ResultItem, keywords []string, priorityN, otherN int) []ResultItem {
	var priority, other []ResultItem
	for _, r := range results {
		lower := strings.ToLower(r.Content)
		matched := false
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if matched {
			priority = append(priority, r)
		} else {
			other = append(other, r)
		}
	}
	return append(topN(priority, priorityN), topN(other, otherN)...)
}

// generateCacheKey mirrors _generate_cache_key exactly: md5 of
// lower(query)|user_id|len(previous_queries)|result_limit joined by "|".
// Kept as crypto/md5 (not a stronger hash) because the key format is an
// external cache compatibility concern, not an internal algorithm choice.
func (o *Orchestrator) generateCacheKey(query string, qctx *ptypes.QueryContext) string {
	userID := qctx.UserID
	if userID == "" {
		userID = "anonymous"
	}
	resultLimit := 10
	if qctx.Preferences != nil {
		if v, ok := qctx.Preferences["result_limit"].(int); ok {
			resultLimit = v
		}
	}

	keyParts := []string{
		strings.ToLower(query),
		userID,
		strconv.Itoa(len(qctx.PreviousQueries)),
		strconv.Itoa(resultLimit),
	}
	sum := md5.Sum([]byte(strings.Join(keyParts, "|")))
	return hex.EncodeToString(sum[:])
}

func generateSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// SessionInfo is a diagnostic snapshot of a session returned by
// GetSessionInfo.
type SessionInfo struct {
	SessionID       string
	UserID          string
	QueryCount      int
	LastQuery       string
	SessionDuration time.Duration
	Preferences     map[string]interface{}
}

// GetSessionInfo returns a snapshot of a live session, or false if unknown.
func (o *Orchestrator) GetSessionInfo(sessionID string) (SessionInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	qctx, ok := o.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}

	var lastQuery string
	if len(qctx.PreviousQueries) > 0 {
		lastQuery = qctx.PreviousQueries[len(qctx.PreviousQueries)-1]
	}

	return SessionInfo{
		SessionID:       sessionID,
		UserID:          qctx.UserID,
		QueryCount:      len(qctx.PreviousQueries),
		LastQuery:       lastQuery,
		SessionDuration: time.Since(qctx.CreatedAt),
		Preferences:     qctx.Preferences,
	}, true
}

// ClearSession removes a session, returning whether it existed.
func (o *Orchestrator) ClearSession(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sessions[sessionID]; ok {
		delete(o.sessions, sessionID)
		return true
	}
	return false
}
