// Package hybrid implements the hybrid query engine (C8): six QueryType
// execution strategies over a semantic store and a graph store, and five
// fusion/ranking strategies for combining their results. Grounded on
// original_source/tests/test_hybrid_query_engine.py (HybridQueryEngine's
// observed config defaults and _fuse_results behavior, since
// hybrid_query_engine.py itself was not retained in original_source) and on
// the teacher's pkg/embedding/hybrid/service.go, whose HybridSearchService
// composes a semaphore, a circuit breaker, and a retry policy inside one
// service struct — the same composition this engine uses, substituting
// pkg/pool for the semaphore and pkg/breaker/pkg/retry for the teacher's
// resilience/retry packages.
package hybrid

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/developer-mesh/ptolemies/pkg/breaker"
	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/pool"
	"github.com/developer-mesh/ptolemies/pkg/ptypes"
	"github.com/developer-mesh/ptolemies/pkg/retry"
)

// Config mirrors HybridQueryConfig's defaults from the original test suite.
type Config struct {
	VectorWeight              float64
	GraphWeight               float64
	ConceptExpansionThreshold float64
	MaxResults                int
	SemanticLimit             int
	GraphLimit                int
	SimilarityThreshold       float64
	GraphDepth                int
	EnableConceptExpansion    bool
	EnableResultFusion        bool
	RankingStrategy           ptypes.FusionStrategy
	MaxConcurrency            int64
	BreakerConfig             breaker.Config
	RetryConfig               retry.Config
}

// DefaultConfig mirrors HybridQueryConfig()'s observed defaults.
func DefaultConfig() Config {
	return Config{
		VectorWeight:              0.6,
		GraphWeight:               0.4,
		ConceptExpansionThreshold: 0.8,
		MaxResults:                50,
		SemanticLimit:             100,
		GraphLimit:                100,
		SimilarityThreshold:       0.5,
		GraphDepth:                2,
		EnableConceptExpansion:    true,
		EnableResultFusion:        true,
		RankingStrategy:           ptypes.FusionWeightedAverage,
		MaxConcurrency:            8,
	}
}

// Engine executes queries against a semantic and a graph store, fusing
// results according to the configured QueryType and FusionStrategy.
type Engine struct {
	config   Config
	semantic ptypes.SemanticStore
	graph    ptypes.GraphStore

	sem    *pool.Pool
	br     *breaker.Breaker
	retry  retry.Policy
	logger observability.Logger
	metrics observability.MetricsClient
}

// New constructs an Engine. Either store may be nil; strategies skip a nil
// store, which then contributes no results, and Search still returns no
// error.
func New(cfg Config, semantic ptypes.SemanticStore, graph ptypes.GraphStore, logger observability.Logger, metrics observability.MetricsClient) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Engine{
		config:   cfg,
		semantic: semantic,
		graph:    graph,
		sem:      pool.New(cfg.MaxConcurrency),
		br:       breaker.New("hybrid.engine", cfg.BreakerConfig, logger, metrics),
		retry:    retry.NewExponentialBackoff(cfg.RetryConfig),
		logger:   logger,
		metrics:  metrics,
	}
}

// SearchOptions carries the caller-supplied parameters that Search threads
// down to the underlying stores and into fusion weighting: source_filter
// and quality_threshold for the semantic store (spec.md §6 semantic_search),
// search_type and max_depth for the graph store (§6 graph_search), and an
// optional analyzer-supplied semantic/graph weight split (§3, §4.7) that
// overrides the strategy-derived default in weightsFor. A zero SearchOptions
// means "defaults for every field".
type SearchOptions struct {
	SourceFilter     []string
	QualityThreshold float64
	GraphSearchType  string
	GraphMaxDepth    int
	SemanticWeight   float64
	GraphWeight      float64
}

// Metrics records per-query execution stats, mirroring HybridQueryMetrics.
type Metrics struct {
	TotalTime     time.Duration
	SemanticTime  time.Duration
	GraphTime     time.Duration
	FusionTime    time.Duration
	TotalResults  int
	SemanticHits  int
	GraphHits     int
	UniqueResults int
	OverlapCount  int
	QueryType     string
}

// Search executes the chosen QueryType strategy and returns fused,
// ranked results plus execution metrics.
func (e *Engine) Search(ctx context.Context, query string, qt ptypes.QueryType, limit int, opts SearchOptions) ([]ptypes.HybridResult, Metrics, error) {
	if query == "" {
		return []ptypes.HybridResult{}, Metrics{}, nil
	}
	if limit == 0 {
		return []ptypes.HybridResult{}, Metrics{}, nil
	}
	if limit < 0 || limit > e.config.MaxResults {
		limit = e.config.MaxResults
	}
	start := time.Now()
	var metrics Metrics

	searchType, maxDepth := e.graphParams(opts)

	var semanticResults, graphResults []ptypes.SearchResult
	var semFailed, graphFailed, semAttempted, graphAttempted bool

	switch qt {
	case ptypes.QueryTypeSemanticOnly:
		semAttempted = e.semantic != nil
		semanticResults, metrics.SemanticTime, semFailed = e.searchSemantic(ctx, query, limit, opts.SourceFilter, opts.QualityThreshold)
	case ptypes.QueryTypeGraphOnly:
		graphAttempted = e.graph != nil
		graphResults, metrics.GraphTime, graphFailed = e.searchGraph(ctx, query, limit, searchType, maxDepth)
	case ptypes.QueryTypeHybridBalanced:
		semAttempted, graphAttempted = e.semantic != nil, e.graph != nil
		semanticResults, graphResults, metrics.SemanticTime, metrics.GraphTime, semFailed, graphFailed = e.searchParallel(ctx, query, limit, opts, searchType, maxDepth)
	case ptypes.QueryTypeSemanticThenGraph:
		semAttempted, graphAttempted = e.semantic != nil, e.graph != nil
		semanticResults, metrics.SemanticTime, semFailed = e.searchSemantic(ctx, query, limit, opts.SourceFilter, opts.QualityThreshold)
		graphResults, metrics.GraphTime, graphFailed = e.searchGraphRelatedTo(ctx, semanticResults, limit)
	case ptypes.QueryTypeGraphThenSemantic:
		semAttempted, graphAttempted = e.semantic != nil, e.graph != nil
		graphResults, metrics.GraphTime, graphFailed = e.searchGraph(ctx, query, limit, searchType, maxDepth)
		semanticResults, metrics.SemanticTime, semFailed = e.searchSemanticSeededBy(ctx, query, graphResults, limit, opts)
	case ptypes.QueryTypeConceptExpansion:
		semAttempted, graphAttempted = e.semantic != nil, e.graph != nil
		semanticResults, graphResults, metrics.SemanticTime, metrics.GraphTime, semFailed, graphFailed = e.searchWithConceptExpansion(ctx, query, limit, opts, searchType, maxDepth)
	default:
		semAttempted = e.semantic != nil
		semanticResults, metrics.SemanticTime, semFailed = e.searchSemantic(ctx, query, limit, opts.SourceFilter, opts.QualityThreshold)
	}

	metrics.SemanticHits = len(semanticResults)
	metrics.GraphHits = len(graphResults)

	fusionStart := time.Now()
	fused := e.fuse(semanticResults, graphResults, qt, opts)
	metrics.FusionTime = time.Since(fusionStart)

	if len(fused) > limit {
		fused = fused[:limit]
	}

	if qt == ptypes.QueryTypeConceptExpansion {
		for i := range fused {
			fused[i].FoundVia = appendUnique(fused[i].FoundVia, "concept_expansion")
		}
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}

	metrics.TotalResults = len(fused)
	metrics.TotalTime = time.Since(start)

	// Every subsystem that was attempted failed: report the empty result as
	// an error condition per spec.md §4.8 failure semantics, not a
	// legitimate zero-match response.
	attempted, failed := 0, 0
	if semAttempted {
		attempted++
		if semFailed {
			failed++
		}
	}
	if graphAttempted {
		attempted++
		if graphFailed {
			failed++
		}
	}
	if attempted > 0 && attempted == failed {
		metrics.QueryType = "error"
	} else {
		metrics.QueryType = string(qt)
	}
	return fused, metrics, nil
}

// commonQueryTerms is a static fallback suggestion list, merged with live
// graph-concept lookups in Suggest. Grounded on
// original_source/tests/test_hybrid_query_engine.py's
// test_get_query_suggestions (graph nodes + "common terms").
var commonQueryTerms = []string{
	"authentication", "authorization", "caching", "database", "api design",
	"error handling", "performance tuning", "security best practices",
	"testing strategies", "deployment",
}

// Suggest returns up to limit query completions for a partial query string,
// combining a graph-concept lookup with the static common-term list,
// deduplicated case-insensitively. Errors from the graph store are
// swallowed: suggestions degrade to the static list rather than failing.
func (e *Engine) Suggest(ctx context.Context, partial string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}
	lower := strings.ToLower(partial)

	var candidates []string
	if e.graph != nil && partial != "" {
		if nodes, err := e.graph.Search(ctx, partial, "concept", limit, e.config.GraphDepth); err == nil {
			for _, n := range nodes {
				candidates = append(candidates, n.Title)
			}
		}
	}
	for _, term := range commonQueryTerms {
		if partial == "" || strings.Contains(term, lower) {
			candidates = append(candidates, term)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func appendUnique(xs []string, v string) []string {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}

// graphParams resolves the effective graph search_type/max_depth for a
// query, defaulting to "concept" (spec.md §4.8 graph_only's analyzer
// default) and the engine's configured GraphDepth.
func (e *Engine) graphParams(opts SearchOptions) (string, int) {
	searchType := opts.GraphSearchType
	if searchType == "" {
		searchType = "concept"
	}
	maxDepth := opts.GraphMaxDepth
	if maxDepth <= 0 {
		maxDepth = e.config.GraphDepth
	}
	return searchType, maxDepth
}

// searchSemantic queries the semantic store. The returned bool reports
// whether a configured store was attempted and failed (vs. simply absent),
// so Search can tell "both subsystems errored" apart from "nothing matched".
func (e *Engine) searchSemantic(ctx context.Context, query string, limit int, sourceFilter []string, qualityThreshold float64) ([]ptypes.SearchResult, time.Duration, bool) {
	if e.semantic == nil {
		return nil, 0, false
	}
	start := time.Now()
	var results []ptypes.SearchResult
	failed := false
	_ = e.sem.Do(ctx, func(ctx context.Context) error {
		return e.retry.Execute(ctx, func(ctx context.Context) error {
			v, err := e.br.Execute(ctx, func() (interface{}, error) {
				return e.semantic.Search(ctx, query, limit, sourceFilter, qualityThreshold)
			})
			if err != nil {
				failed = true
				return err
			}
			failed = false
			results, _ = v.([]ptypes.SearchResult)
			return nil
		})
	})
	return results, time.Since(start), failed
}

func (e *Engine) searchGraph(ctx context.Context, query string, limit int, searchType string, maxDepth int) ([]ptypes.SearchResult, time.Duration, bool) {
	if e.graph == nil {
		return nil, 0, false
	}
	start := time.Now()
	var results []ptypes.SearchResult
	failed := false
	_ = e.sem.Do(ctx, func(ctx context.Context) error {
		return e.retry.Execute(ctx, func(ctx context.Context) error {
			v, err := e.br.Execute(ctx, func() (interface{}, error) {
				return e.graph.Search(ctx, query, searchType, limit, maxDepth)
			})
			if err != nil {
				failed = true
				return err
			}
			failed = false
			results, _ = v.([]ptypes.SearchResult)
			return nil
		})
	})
	return results, time.Since(start), failed
}

func (e *Engine) searchParallel(ctx context.Context, query string, limit int, opts SearchOptions, searchType string, maxDepth int) ([]ptypes.SearchResult, []ptypes.SearchResult, time.Duration, time.Duration, bool, bool) {
	var semantic, graph []ptypes.SearchResult
	var semTime, graphTime time.Duration
	var semFailed, graphFailed bool

	_ = e.sem.Group(ctx,
		func(ctx context.Context) error {
			semantic, semTime, semFailed = e.searchSemantic(ctx, query, limit, opts.SourceFilter, opts.QualityThreshold)
			return nil
		},
		func(ctx context.Context) error {
			graph, graphTime, graphFailed = e.searchGraph(ctx, query, limit, searchType, maxDepth)
			return nil
		},
	)
	return semantic, graph, semTime, graphTime, semFailed, graphFailed
}

// searchGraphRelatedTo expands the top semantic hits via graph relations,
// mirroring semantic_then_graph's use of top results to seed graph search.
func (e *Engine) searchGraphRelatedTo(ctx context.Context, seeds []ptypes.SearchResult, limit int) ([]ptypes.SearchResult, time.Duration, bool) {
	if e.graph == nil {
		return nil, 0, false
	}
	if len(seeds) == 0 {
		return nil, 0, false
	}
	start := time.Now()
	var out []ptypes.SearchResult
	failed := false
	seedLimit := len(seeds)
	if seedLimit > 3 {
		seedLimit = 3
	}
	for _, seed := range seeds[:seedLimit] {
		v, err := e.br.Execute(ctx, func() (interface{}, error) {
			return e.graph.Related(ctx, seed.ID, limit)
		})
		if err == nil {
			if related, ok := v.([]ptypes.SearchResult); ok {
				out = append(out, related...)
			}
		} else {
			failed = true
		}
	}
	return out, time.Since(start), failed
}

// searchSemanticSeededBy runs a semantic search using the original query,
// used by graph_then_semantic after graph results are gathered.
func (e *Engine) searchSemanticSeededBy(ctx context.Context, query string, graphResults []ptypes.SearchResult, limit int, opts SearchOptions) ([]ptypes.SearchResult, time.Duration, bool) {
	return e.searchSemantic(ctx, query, limit, opts.SourceFilter, opts.QualityThreshold)
}

func (e *Engine) searchWithConceptExpansion(ctx context.Context, query string, limit int, opts SearchOptions, searchType string, maxDepth int) ([]ptypes.SearchResult, []ptypes.SearchResult, time.Duration, time.Duration, bool, bool) {
	semantic, semTime, semFailed := e.searchSemantic(ctx, query, limit, opts.SourceFilter, opts.QualityThreshold)
	if !e.config.EnableConceptExpansion {
		return semantic, nil, semTime, 0, semFailed, false
	}
	graph, graphTime, graphFailed := e.searchGraph(ctx, query, limit, searchType, maxDepth)
	return semantic, graph, semTime, graphTime, semFailed, graphFailed
}

// fuse combines semantic and graph results according to the configured
// FusionStrategy, deduplicating by ID.
func (e *Engine) fuse(semantic, graph []ptypes.SearchResult, qt ptypes.QueryType, opts SearchOptions) []ptypes.HybridResult {
	byID := make(map[string]*ptypes.HybridResult)
	order := make([]string, 0, len(semantic)+len(graph))

	addOrUpdate := func(r ptypes.SearchResult, source string, rank int) {
		existing, ok := byID[r.ID]
		if !ok {
			existing = &ptypes.HybridResult{SearchResult: r, RankByStrategy: map[string]int{}}
			byID[r.ID] = existing
			order = append(order, r.ID)
		}
		if source == "semantic" {
			existing.SemanticScore = r.Score
		} else {
			existing.GraphScore = r.Score
		}
		existing.FoundVia = append(existing.FoundVia, source)
		existing.RankByStrategy[source] = rank
	}

	for i, r := range semantic {
		addOrUpdate(r, "semantic", i+1)
	}
	for i, r := range graph {
		addOrUpdate(r, "graph", i+1)
	}

	semWeight, graphWeight := e.weightsFor(qt, opts)

	if !e.config.EnableResultFusion {
		return e.score(byID, order, ptypes.FusionWeightedAverage, semWeight, graphWeight)
	}

	return e.score(byID, order, e.config.RankingStrategy, semWeight, graphWeight)
}

// weightsFor resolves the semantic/graph weight split for the weighted-
// average fusion strategy. A caller-supplied split in opts (typically from
// the analyzer, ptypes.ProcessedQuery.SemanticWeight/GraphWeight) wins;
// otherwise the split is derived from qt: semantic_only and graph_only
// zero out the other side so combined_score equals the single contributing
// score exactly (spec.md §8 scenario 1), semantic_then_graph/
// graph_then_semantic bias the configured default by 0.1 toward the
// strategy's primary store (§4.8), and every other strategy uses the
// engine's configured VectorWeight/GraphWeight.
func (e *Engine) weightsFor(qt ptypes.QueryType, opts SearchOptions) (float64, float64) {
	if opts.SemanticWeight > 0 || opts.GraphWeight > 0 {
		return opts.SemanticWeight, opts.GraphWeight
	}
	switch qt {
	case ptypes.QueryTypeSemanticOnly:
		return 1, 0
	case ptypes.QueryTypeGraphOnly:
		return 0, 1
	case ptypes.QueryTypeSemanticThenGraph:
		s := e.config.VectorWeight + 0.1
		if s > 1 {
			s = 1
		}
		return s, 1 - s
	case ptypes.QueryTypeGraphThenSemantic:
		g := e.config.GraphWeight + 0.1
		if g > 1 {
			g = 1
		}
		return 1 - g, g
	default:
		return e.config.VectorWeight, e.config.GraphWeight
	}
}

func (e *Engine) score(byID map[string]*ptypes.HybridResult, order []string, strategy ptypes.FusionStrategy, semWeight, graphWeight float64) []ptypes.HybridResult {
	out := make([]ptypes.HybridResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		s, g := r.SemanticScore, r.GraphScore

		switch strategy {
		case ptypes.FusionMaxScore:
			r.CombinedScore = math.Max(s, g)
		case ptypes.FusionHarmonicMean:
			r.CombinedScore = harmonicMean(s, g)
		case ptypes.FusionBordaCount:
			r.CombinedScore = bordaScore(r.RankByStrategy, len(order))
		case ptypes.FusionReciprocalRank:
			r.CombinedScore = reciprocalRankScore(r.RankByStrategy, 60)
		default:
			r.CombinedScore = semWeight*s + graphWeight*g
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	return out
}

// harmonicMean mirrors the Python original's HARMONIC_MEAN ranking
// strategy: the harmonic mean of both scores when both are present,
// otherwise whichever score is present.
func harmonicMean(a, b float64) float64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	return 2 * a * b / (a + b)
}

// bordaScore awards points inversely proportional to rank position across
// whichever strategies contributed to this result.
func bordaScore(ranks map[string]int, total int) float64 {
	var sum float64
	for _, rank := range ranks {
		sum += float64(total - rank + 1)
	}
	if total == 0 {
		return 0
	}
	return sum / float64(total*len(ranks))
}

// reciprocalRankScore implements reciprocal rank fusion: sum of 1/(k+rank)
// across contributing strategies.
func reciprocalRankScore(ranks map[string]int, k int) float64 {
	var sum float64
	for _, rank := range ranks {
		sum += 1.0 / float64(k+rank)
	}
	return sum
}
