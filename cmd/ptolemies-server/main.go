// Command ptolemies-server wires the query-time hybrid retrieval engine
// (pkg/analyzer, pkg/hybrid, pkg/pipeline, pkg/respond) and the supporting
// cache/optimizer/breaker infrastructure into a single process, registers
// the built-in tools on pkg/toolreg, and serves tool calls over stdio —
// one JSON request object per line in, one JSON {id, result, error}
// response object per line out. This mirrors the teacher's cmd/server/main.go wiring style
// (explicit constructor calls in main, no DI framework) and the Python
// original's ptolemies_mcp_server.py stdio server loop, without binding to
// any concrete MCP transport SDK (see DESIGN.md).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/redis/go-redis/v9"

	"github.com/developer-mesh/ptolemies/pkg/analyzer"
	"github.com/developer-mesh/ptolemies/pkg/breaker"
	"github.com/developer-mesh/ptolemies/pkg/cache"
	"github.com/developer-mesh/ptolemies/pkg/config"
	"github.com/developer-mesh/ptolemies/pkg/embedclient"
	"github.com/developer-mesh/ptolemies/pkg/hybrid"
	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/optimizer"
	"github.com/developer-mesh/ptolemies/pkg/pipeline"
	"github.com/developer-mesh/ptolemies/pkg/ptypes"
	"github.com/developer-mesh/ptolemies/pkg/respond"
	"github.com/developer-mesh/ptolemies/pkg/serialize"
	"github.com/developer-mesh/ptolemies/pkg/store/neostore"
	"github.com/developer-mesh/ptolemies/pkg/store/pgstore"
	"github.com/developer-mesh/ptolemies/pkg/toolreg"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := observability.NewLogger("ptolemies-server")
	metrics := observability.NewMetricsClient()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	semanticStore, graphStore := wireStores(ctx, cfg, logger)

	cacheLayer := cache.New(cache.Config{
		Mode:            cacheMode(cfg),
		Namespace:       "ptolemies",
		DefaultTTL:      cfg.Cache.TTL,
		LocalMaxEntries: cfg.Cache.ResultCacheSize,
		Serializer:      serialize.New(serialize.FormatCompressedJSON),
		BreakerConfig: breaker.Config{
			FailureThreshold: cfg.Breaker.Threshold,
			ResetTimeout:     cfg.Breaker.Timeout,
		},
		Logger:  logger,
		Metrics: metrics,
	}, redisClient(cfg))

	opt := optimizer.New(optimizer.Config{
		QueryCacheSize:       cfg.Cache.QueryCacheSize,
		ResultCacheSize:      cfg.Cache.ResultCacheSize,
		EmbeddingCacheSize:   cfg.Cache.EmbeddingCacheSize,
		ConceptCacheSize:     cfg.Cache.ConceptCacheSize,
		CacheTTL:             cfg.Cache.TTL,
		MaxConcurrentQueries: int64(cfg.Query.MaxConcurrentQueries),
		ConnectionPoolSize:   int64(cfg.Pool.Size),
		SemanticBatchSize:    optimizer.DefaultConfig().SemanticBatchSize,
		GraphBatchSize:       optimizer.DefaultConfig().GraphBatchSize,
		QueryTimeout:         cfg.Query.Timeout,
		OptimizationLevel:    optimizer.Level(cfg.Query.OptimizationLevel),
		TargetResponseTime:   cfg.Query.TargetResponseTime,
		TargetCacheHitRate:   cfg.Query.TargetCacheHitRate,
	}, logger, metrics)
	defer opt.Close()

	engine := hybrid.New(hybrid.DefaultConfig(), semanticStore, graphStore, logger, metrics)

	az := analyzer.New(analyzer.DefaultConfig())

	orch := pipeline.New(pipeline.Config{
		EnableCaching:           true,
		CacheTTL:                cfg.Cache.TTL,
		ParallelProcessing:      true,
		MaxConcurrentOperations: pipeline.DefaultConfig().MaxConcurrentOperations,
		ContextWindowSize:       pipeline.DefaultConfig().ContextWindowSize,
		SessionTimeout:          cfg.Session.Timeout,
		SweepInterval:           pipeline.DefaultConfig().SweepInterval,
	}, az, engine, cacheLayer, opt, logger)
	defer orch.Close()

	formatter := respond.New(respond.DefaultConfig())

	registry := toolreg.New(logger, metrics)
	toolreg.RegisterBuiltins(registry, toolreg.Deps{Engine: engine, Optimizer: opt, Cache: cacheLayer})
	registerProcessRequest(registry, orch, formatter)

	if path := os.Getenv("PTOLEMIES_TOOL_CONFIG"); path != "" {
		if err := registry.LoadConfiguration(path); err != nil {
			logger.Warn("failed to load tool configuration", map[string]interface{}{"path": path, "error": err.Error()})
		}
	}

	logger.Info("ptolemies-server ready", map[string]interface{}{"tools": len(registry.ListTools())})

	if err := serveStdio(ctx, registry, logger); err != nil && err != io.EOF {
		logger.Fatalf("stdio server exited with error: %v", err)
	}
}

// registerProcessRequest exposes the full query-pipeline orchestrator
// (session management, whole-request caching, intent-specific
// post-processing) and response formatter as a single tool, distinct
// from the narrower semantic_search/graph_search/hybrid_search builtins
// which call straight into pkg/hybrid.
func registerProcessRequest(r *toolreg.Registry, orch *pipeline.Orchestrator, formatter *respond.Formatter) {
	r.Register("process_request", toolreg.HandlerFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
		query, _ := args["query"].(string)
		sessionID, _ := args["session_id"].(string)
		userID, _ := args["user_id"].(string)
		outputFormat := respond.FormatStructured
		if f, ok := args["output_format"].(string); ok && f != "" {
			outputFormat = respond.OutputFormat(f)
		}

		resp, err := orch.Process(ctx, pipeline.Request{Query: query, SessionID: sessionID, UserID: userID})
		if err != nil {
			return "", err
		}

		hits := make([]ptypes.HybridResult, 0, len(resp.Results))
		for i, item := range resp.Results {
			hits = append(hits, ptypes.HybridResult{
				SearchResult: ptypes.SearchResult{
					ID:         item.ID,
					Title:      item.Title,
					Content:    item.Content,
					SourceName: item.Source,
					SourceURL:  item.URL,
					Score:      item.Score,
				},
				CombinedScore: item.Score,
				Rank:          i + 1,
			})
		}

		formatted := formatter.Format(resp.Query, resp.ProcessedQuery, hits, outputFormat, resp.ProcessingTime)

		envelope := map[string]interface{}{
			"query":           resp.Query,
			"session_id":      resp.SessionID,
			"processing_time_ms": resp.ProcessingTime.Milliseconds(),
			"from_cache":      resp.FromCache,
			"cache_key_prefix": resp.CacheKey,
			"processed_query": map[string]interface{}{
				"intent":     resp.ProcessedQuery.Intent,
				"complexity": resp.ProcessedQuery.Complexity,
				"strategy":   resp.ProcessedQuery.SearchStrategy,
				"entities":   resp.ProcessedQuery.Entities,
				"concepts":   resp.ProcessedQuery.Concepts,
			},
			"response": formatted,
		}
		b, err := json.Marshal(envelope)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}), toolreg.ToolSpec{
		Description: "Run the full query pipeline (session context, caching, search, intent-specific post-processing, formatting).",
		Category:    "search",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, toolreg.Metadata{RateLimitPerMinute: 60, Timeout: 10 * time.Second})
}

// wireStores constructs the optional concrete pgvector/Neo4j adapters
// named in config. Either return value may be nil, in which case the
// hybrid engine degrades to whichever side remains (see pkg/hybrid's
// failure semantics).
func wireStores(ctx context.Context, cfg *config.Config, logger observability.Logger) (ptypes.SemanticStore, ptypes.GraphStore) {
	var semanticStore ptypes.SemanticStore
	var graphStore ptypes.GraphStore

	if cfg.Store.PostgresDSN != "" && cfg.Embedding.Endpoint != "" {
		embedder := embedclient.New(cfg.Embedding.Endpoint, cfg.Embedding.APIKey, cfg.Embedding.Model)
		store, err := pgstore.New(ctx, cfg.Store.PostgresDSN, embedder, cfg.Embedding.Dimensions)
		if err != nil {
			logger.Error("failed to connect pgstore, semantic search disabled", map[string]interface{}{"error": err.Error()})
		} else {
			semanticStore = store
		}
	}

	if cfg.Store.Neo4jURI != "" {
		store, err := neostore.New(ctx, cfg.Store.Neo4jURI, cfg.Store.Neo4jUser, cfg.Store.Neo4jPassword)
		if err != nil {
			logger.Error("failed to connect neostore, graph search disabled", map[string]interface{}{"error": err.Error()})
		} else {
			graphStore = store
		}
	}

	return semanticStore, graphStore
}

func cacheMode(cfg *config.Config) cache.Mode {
	if cfg.Store.RedisAddress == "" {
		return cache.ModeLocalOnly
	}
	return cache.ModeHybrid
}

func redisClient(cfg *config.Config) *redis.Client {
	if cfg.Store.RedisAddress == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddress})
}

// stdioRequest is one line of stdin: a tool call by name.
type stdioRequest struct {
	ID   string                 `json:"id,omitempty"`
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

type stdioResponse struct {
	ID     string                  `json:"id,omitempty"`
	Result toolreg.CallToolResult  `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// serveStdio reads newline-delimited JSON tool-call requests from stdin
// and writes newline-delimited JSON results to stdout until ctx is
// cancelled or stdin is closed.
func serveStdio(ctx context.Context, registry *toolreg.Registry, logger observability.Logger) error {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return io.EOF
			}
			if line == "" {
				continue
			}
			handleLine(ctx, registry, logger, out, line)
		}
	}
}

func handleLine(ctx context.Context, registry *toolreg.Registry, logger observability.Logger, out *bufio.Writer, line string) {
	var req stdioRequest
	resp := stdioResponse{}
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		resp.Error = fmt.Sprintf("invalid request: %v", err)
		writeResponse(out, resp)
		return
	}
	resp.ID = req.ID

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := registry.CallTool(callCtx, req.Tool, req.Args)
	if err != nil {
		logger.Warn("tool call failed", map[string]interface{}{"tool": req.Tool, "error": err.Error()})
		resp.Error = err.Error()
		writeResponse(out, resp)
		return
	}
	resp.Result = result
	writeResponse(out, resp)
}

func writeResponse(out *bufio.Writer, resp stdioResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	out.Write(b)
	out.WriteByte('\n')
	out.Flush()
}
