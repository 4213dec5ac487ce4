// Package ptypes holds the data model shared across the query engine:
// documents, query context, processed queries, and search results. It also
// defines the storage interfaces the hybrid engine consumes, so that no
// core package needs to import a concrete vector or graph database driver.
package ptypes

import (
	"context"
	"time"
)

// Document is a single piece of indexed documentation content.
type Document struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Content    string                 `json:"content"`
	SourceName string                 `json:"source_name"`
	SourceURL  string                 `json:"source_url"`
	QualityScore float64              `json:"quality_score,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// SearchResult is a single scored hit returned by a semantic or graph store.
type SearchResult struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Content    string                 `json:"content"`
	SourceName string                 `json:"source"`
	SourceURL  string                 `json:"url"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// HybridResult is a SearchResult after fusion across one or more strategies.
type HybridResult struct {
	SearchResult
	CombinedScore      float64         `json:"combined_score"`
	SemanticScore      float64         `json:"semantic_score,omitempty"`
	GraphScore         float64         `json:"graph_score,omitempty"`
	Rank               int             `json:"rank"`
	FoundVia           []string        `json:"found_via,omitempty"`
	RelatedConcepts    []string        `json:"related_concepts,omitempty"`
	RelationshipPaths  [][]string      `json:"relationship_paths,omitempty"`
	RankByStrategy     map[string]int  `json:"rank_by_strategy,omitempty"`
}

// QueryIntent classifies what the caller is trying to accomplish.
type QueryIntent string

const (
	IntentSearch       QueryIntent = "search"
	IntentSummarize    QueryIntent = "summarize"
	IntentCompare      QueryIntent = "compare"
	IntentTutorial     QueryIntent = "tutorial"
	IntentTroubleshoot QueryIntent = "troubleshoot"
	IntentExample      QueryIntent = "example"
	IntentExplain      QueryIntent = "explain"
	IntentAnalyze      QueryIntent = "analyze"
	IntentDefinition   QueryIntent = "definition"
	IntentUnknown      QueryIntent = "unknown"
)

// AllIntents lists every recognized intent in fixed alphabetical order.
// Intent-detection scoring ties break on this order (see DESIGN.md, Open
// Question decisions #3).
var AllIntents = []QueryIntent{
	IntentAnalyze,
	IntentCompare,
	IntentDefinition,
	IntentExample,
	IntentExplain,
	IntentSearch,
	IntentSummarize,
	IntentTroubleshoot,
	IntentTutorial,
	IntentUnknown,
}

// QueryComplexity buckets how much work a query is expected to need.
type QueryComplexity string

const (
	ComplexitySimple   QueryComplexity = "simple"
	ComplexityModerate QueryComplexity = "moderate"
	ComplexityComplex  QueryComplexity = "complex"
	ComplexityCompound QueryComplexity = "compound"
)

// QueryType selects the hybrid engine execution strategy.
type QueryType string

const (
	QueryTypeSemanticOnly     QueryType = "semantic_only"
	QueryTypeGraphOnly        QueryType = "graph_only"
	QueryTypeHybridBalanced   QueryType = "hybrid_balanced"
	QueryTypeSemanticThenGraph QueryType = "semantic_then_graph"
	QueryTypeGraphThenSemantic QueryType = "graph_then_semantic"
	QueryTypeConceptExpansion  QueryType = "concept_expansion"
)

// FusionStrategy selects how per-strategy scores are combined.
type FusionStrategy string

const (
	FusionWeightedAverage FusionStrategy = "weighted_average"
	FusionMaxScore        FusionStrategy = "max_score"
	FusionHarmonicMean    FusionStrategy = "harmonic_mean"
	FusionBordaCount      FusionStrategy = "borda_count"
	FusionReciprocalRank  FusionStrategy = "reciprocal_rank"
)

// Entity is a named thing extracted from a query (a library, API, or term).
type Entity struct {
	Value      string  `json:"value"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// QueryContext tracks per-session state across a conversation.
type QueryContext struct {
	SessionID           string                 `json:"session_id"`
	UserID              string                 `json:"user_id,omitempty"`
	Preferences         map[string]interface{} `json:"preferences,omitempty"`
	PreviousQueries     []string               `json:"previous_queries,omitempty"`
	ConversationHistory []ConversationTurn     `json:"conversation_history,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	LastAccess          time.Time              `json:"last_access"`
}

// ConversationTurn records one prior exchange in a session.
type ConversationTurn struct {
	Query     string      `json:"query"`
	Intent    QueryIntent `json:"intent"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProcessedQuery is the output of the query analyzer (C7).
type ProcessedQuery struct {
	OriginalQuery    string          `json:"original_query"`
	NormalizedQuery  string          `json:"normalized_query"`
	SpellCorrected   bool            `json:"spell_corrected"`
	Intent           QueryIntent     `json:"intent"`
	Complexity       QueryComplexity `json:"complexity"`
	Entities         []Entity        `json:"entities,omitempty"`
	RawEntities      []string        `json:"raw_entities,omitempty"`
	Keywords         []string        `json:"keywords,omitempty"`
	Concepts         []string        `json:"concepts,omitempty"`
	SearchStrategy   QueryType       `json:"search_strategy"`
	SemanticWeight   float64         `json:"semantic_weight"`
	GraphWeight      float64         `json:"graph_weight"`
	ConfidenceScore  float64         `json:"confidence_score"`
	ExpandedQueries  []string        `json:"expanded_queries,omitempty"`
}

// SemanticStore is the consumed interface over a vector similarity store.
// Concrete adapters (pkg/store/pgstore) implement this without the core
// engine importing any database driver directly. sourceFilter restricts
// matches to the named sources (empty means unrestricted); qualityThreshold
// excludes documents scored below it (zero means unrestricted).
type SemanticStore interface {
	Search(ctx context.Context, query string, limit int, sourceFilter []string, qualityThreshold float64) ([]SearchResult, error)
}

// GraphStore is the consumed interface over a knowledge-graph store.
// searchType selects the traversal shape ("concept", "document", or
// "relationship"); maxDepth bounds the relationship path length.
type GraphStore interface {
	Search(ctx context.Context, query, searchType string, limit, maxDepth int) ([]SearchResult, error)
	Related(ctx context.Context, id string, limit int) ([]SearchResult, error)
}

// Embedder produces vector embeddings for text, used by semantic stores.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
