package toolreg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/developer-mesh/ptolemies/pkg/cache"
	"github.com/developer-mesh/ptolemies/pkg/hybrid"
	"github.com/developer-mesh/ptolemies/pkg/optimizer"
	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

// Deps are the subsystems the six built-in tools delegate to. Any field
// may be nil; a nil engine makes the search tools report an error
// result rather than panic.
type Deps struct {
	Engine    *hybrid.Engine
	Optimizer *optimizer.Optimizer
	Cache     *cache.Cache
}

// RegisterBuiltins registers the six tools named in spec.md §6's
// built-in tools table, grounded on
// original_source/src/ptolemies_mcp_server.py's _register_builtin_tools
// and its six _handle_* methods.
func RegisterBuiltins(r *Registry, deps Deps) {
	r.Register("semantic_search", HandlerFunc(deps.semanticSearch), ToolSpec{
		Description: "Search indexed documentation using dense vector similarity only.",
		Category:    "search",
		InputSchema: mustSchema[semanticSearchArgs](),
	}, Metadata{RateLimitPerMinute: 120, Timeout: 5 * time.Second})

	r.Register("graph_search", HandlerFunc(deps.graphSearch), ToolSpec{
		Description: "Search the knowledge graph by concept, document, or relationship traversal.",
		Category:    "search",
		InputSchema: mustSchema[graphSearchArgs](),
	}, Metadata{RateLimitPerMinute: 120, Timeout: 5 * time.Second})

	r.Register("hybrid_search", HandlerFunc(deps.hybridSearch), ToolSpec{
		Description: "Search using the hybrid query engine under a caller-chosen execution strategy.",
		Category:    "search",
		InputSchema: mustSchema[hybridSearchArgs](),
	}, Metadata{RateLimitPerMinute: 120, Timeout: 8 * time.Second})

	r.Register("index_document", HandlerFunc(deps.indexDocument), ToolSpec{
		Description: "Submit a document for ingestion into the knowledge base.",
		Category:    "ingestion",
		InputSchema: mustSchema[indexDocumentArgs](),
	}, Metadata{RateLimitPerMinute: 30})

	r.Register("get_knowledge_stats", HandlerFunc(deps.knowledgeStats), ToolSpec{
		Description: "Aggregate cache and performance-optimizer reports.",
		Category:    "observability",
		InputSchema: mustSchema[knowledgeStatsArgs](),
	}, Metadata{RateLimitPerMinute: 60})

	r.Register("get_query_suggestions", HandlerFunc(deps.querySuggestions), ToolSpec{
		Description: "Suggest query completions from the knowledge graph and common terms.",
		Category:    "search",
		InputSchema: mustSchema[querySuggestionsArgs](),
	}, Metadata{RateLimitPerMinute: 120, Timeout: 3 * time.Second})
}

func mustSchema[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T]()
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return s
}

type semanticSearchArgs struct {
	Query            string   `json:"query" jsonschema:"the search query"`
	Limit            int      `json:"limit,omitempty" jsonschema:"maximum results, default 50"`
	SourceFilter     []string `json:"source_filter,omitempty"`
	QualityThreshold float64  `json:"quality_threshold,omitempty"`
}

func (d Deps) semanticSearch(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return "", fmt.Errorf("semantic_search requires a non-empty query argument")
	}
	limit := intArgOr(args, "limit", 50)
	opts := hybrid.SearchOptions{
		SourceFilter:     stringSliceArg(args, "source_filter"),
		QualityThreshold: floatArgOr(args, "quality_threshold", 0),
	}
	return d.runSearch(ctx, query, ptypes.QueryTypeSemanticOnly, limit, opts)
}

type graphSearchArgs struct {
	Query      string `json:"query" jsonschema:"the search query"`
	SearchType string `json:"search_type,omitempty" jsonschema:"concept, document, or relationship"`
	MaxDepth   int    `json:"max_depth,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (d Deps) graphSearch(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return "", fmt.Errorf("graph_search requires a non-empty query argument")
	}
	limit := intArgOr(args, "limit", 50)
	opts := hybrid.SearchOptions{
		GraphSearchType: stringArgOr(args, "search_type", "concept"),
		GraphMaxDepth:   intArgOr(args, "max_depth", 0),
	}
	return d.runSearch(ctx, query, ptypes.QueryTypeGraphOnly, limit, opts)
}

type hybridSearchArgs struct {
	Query        string   `json:"query" jsonschema:"the search query"`
	QueryType    string   `json:"query_type,omitempty" jsonschema:"the hybrid engine execution strategy, default hybrid_balanced"`
	Limit        int      `json:"limit,omitempty"`
	SourceFilter []string `json:"source_filter,omitempty"`
}

func (d Deps) hybridSearch(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return "", fmt.Errorf("hybrid_search requires a non-empty query argument")
	}
	qt := ptypes.QueryType(stringArgOr(args, "query_type", string(ptypes.QueryTypeHybridBalanced)))
	limit := intArgOr(args, "limit", 50)
	opts := hybrid.SearchOptions{SourceFilter: stringSliceArg(args, "source_filter")}
	return d.runSearch(ctx, query, qt, limit, opts)
}

func (d Deps) runSearch(ctx context.Context, query string, qt ptypes.QueryType, limit int, opts hybrid.SearchOptions) (string, error) {
	if d.Engine == nil {
		return "", fmt.Errorf("hybrid engine is not configured")
	}
	results, metrics, err := d.Engine.Search(ctx, query, qt, limit, opts)
	if err != nil {
		return "", err
	}
	payload := map[string]interface{}{
		"results": results,
		"metrics": metrics,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type indexDocumentArgs struct {
	URL        string   `json:"url,omitempty"`
	Content    string   `json:"content,omitempty"`
	Title      string   `json:"title,omitempty"`
	SourceName string   `json:"source_name,omitempty"`
	Topics     []string `json:"topics,omitempty"`
}

// indexDocument acknowledges a submission without performing ingestion:
// embedding/chunking/storage is out of this system's scope (spec.md
// §6, "Delegates to ingestion (out of scope)").
func (d Deps) indexDocument(ctx context.Context, args map[string]interface{}) (string, error) {
	title, _ := stringArg(args, "title")
	source, _ := stringArg(args, "source_name")
	payload := map[string]interface{}{
		"accepted":    true,
		"title":       title,
		"source_name": source,
		"note":        "ingestion is delegated to an out-of-scope pipeline; this call only validated and acknowledged the submission",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type knowledgeStatsArgs struct {
	IncludePerformance bool `json:"include_performance,omitempty"`
	IncludeCache       bool `json:"include_cache,omitempty"`
}

func (d Deps) knowledgeStats(ctx context.Context, args map[string]interface{}) (string, error) {
	includePerf := boolArgOr(args, "include_performance", true)
	includeCache := boolArgOr(args, "include_cache", true)

	out := map[string]interface{}{}
	if includePerf && d.Optimizer != nil {
		out["performance"] = d.Optimizer.GetPerformanceReport(0)
	}
	if includeCache && d.Cache != nil {
		out["cache"] = map[string]interface{}{
			"local":          d.Cache.LocalStats(),
			"breaker_state":  d.Cache.BreakerState(),
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type querySuggestionsArgs struct {
	PartialQuery string `json:"partial_query" jsonschema:"the partial query to complete"`
	Limit        int    `json:"limit,omitempty"`
}

func (d Deps) querySuggestions(ctx context.Context, args map[string]interface{}) (string, error) {
	partial, ok := stringArg(args, "partial_query")
	if !ok {
		return "", fmt.Errorf("get_query_suggestions requires a partial_query argument")
	}
	if d.Engine == nil {
		return "", fmt.Errorf("hybrid engine is not configured")
	}
	limit := intArgOr(args, "limit", 10)
	suggestions := d.Engine.Suggest(ctx, partial, limit)
	b, err := json.Marshal(map[string]interface{}{"suggestions": suggestions})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringArgOr(args map[string]interface{}, key, def string) string {
	if s, ok := stringArg(args, key); ok && s != "" {
		return s
	}
	return def
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func floatArgOr(args map[string]interface{}, key string, def float64) float64 {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return def
	}
}

func intArgOr(args map[string]interface{}, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func boolArgOr(args map[string]interface{}, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
