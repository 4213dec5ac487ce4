package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

type fakeSemantic struct {
	results []ptypes.SearchResult
	calls   int

	lastSourceFilter     []string
	lastQualityThreshold float64
}

func (f *fakeSemantic) Search(ctx context.Context, query string, limit int, sourceFilter []string, qualityThreshold float64) ([]ptypes.SearchResult, error) {
	f.calls++
	f.lastSourceFilter = sourceFilter
	f.lastQualityThreshold = qualityThreshold
	return f.results, nil
}

type fakeGraph struct {
	results []ptypes.SearchResult
	related []ptypes.SearchResult
	calls   int

	lastSearchType string
	lastMaxDepth   int
}

func (f *fakeGraph) Search(ctx context.Context, query, searchType string, limit, maxDepth int) ([]ptypes.SearchResult, error) {
	f.calls++
	f.lastSearchType = searchType
	f.lastMaxDepth = maxDepth
	return f.results, nil
}

func (f *fakeGraph) Related(ctx context.Context, id string, limit int) ([]ptypes.SearchResult, error) {
	return f.related, nil
}

func TestSearchSemanticOnlyDoesNotTouchGraph(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "a", Score: 0.9}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "b", Score: 0.5}}}
	e := New(DefaultConfig(), sem, g, nil, nil)

	results, metrics, err := e.Search(context.Background(), "q", ptypes.QueryTypeSemanticOnly, 10, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 0, g.calls)
	assert.Equal(t, 1, metrics.SemanticHits)
	assert.Equal(t, 0, metrics.GraphHits)
}

func TestSearchHybridBalancedQueriesBothStores(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "a", Score: 0.9}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "b", Score: 0.6}}}
	e := New(DefaultConfig(), sem, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeHybridBalanced, 10, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, sem.calls)
	assert.Equal(t, 1, g.calls)
}

func TestFuseDeduplicatesByIDAndCombinesScores(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "shared", Score: 0.8}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "shared", Score: 0.4}}}
	cfg := DefaultConfig()
	e := New(cfg, sem, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeHybridBalanced, 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ElementsMatch(t, []string{"semantic", "graph"}, results[0].FoundVia)
	expected := cfg.VectorWeight*0.8 + cfg.GraphWeight*0.4
	assert.InDelta(t, expected, results[0].CombinedScore, 1e-9)
}

func TestFuseMaxScoreStrategy(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "a", Score: 0.3}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "a", Score: 0.9}}}
	cfg := DefaultConfig()
	cfg.RankingStrategy = ptypes.FusionMaxScore
	e := New(cfg, sem, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeHybridBalanced, 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.9, results[0].CombinedScore, 1e-9)
}

func TestFuseHarmonicMeanStrategy(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "a", Score: 0.5}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "a", Score: 0.5}}}
	cfg := DefaultConfig()
	cfg.RankingStrategy = ptypes.FusionHarmonicMean
	e := New(cfg, sem, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeHybridBalanced, 10, SearchOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, results[0].CombinedScore, 1e-9)
}

func TestSearchResultsSortedDescendingByCombinedScore(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{
		{ID: "low", Score: 0.1},
		{ID: "high", Score: 0.9},
	}}
	e := New(DefaultConfig(), sem, nil, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeSemanticOnly, 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].ID)
	assert.Equal(t, "low", results[1].ID)
}

func TestSearchGraphOnlyWithNilSemanticStoreDoesNotPanic(t *testing.T) {
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "a", Score: 0.7}}}
	e := New(DefaultConfig(), nil, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeGraphOnly, 10, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchSemanticOnlyCombinedScoreEqualsSemanticScore(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "a", Score: 0.73}}}
	e := New(DefaultConfig(), sem, nil, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeSemanticOnly, 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.73, results[0].CombinedScore, 1e-9)
}

func TestSearchGraphOnlyCombinedScoreEqualsGraphScore(t *testing.T) {
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "a", Score: 0.42}}}
	e := New(DefaultConfig(), nil, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeGraphOnly, 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.42, results[0].CombinedScore, 1e-9)
}

func TestSearchSemanticThenGraphBiasesTowardSemantic(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "shared", Score: 1.0}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "shared", Score: 0}}, related: []ptypes.SearchResult{{ID: "shared", Score: 0}}}
	cfg := DefaultConfig()
	e := New(cfg, sem, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeSemanticThenGraph, 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, cfg.VectorWeight+0.1, results[0].CombinedScore, 1e-9)
}

func TestSearchHonorsAnalyzerSuppliedWeights(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "shared", Score: 1.0}}}
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "shared", Score: 1.0}}}
	e := New(DefaultConfig(), sem, g, nil, nil)

	results, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeHybridBalanced, 10, SearchOptions{SemanticWeight: 0.2, GraphWeight: 0.8})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].CombinedScore, 1e-9)
}

func TestSearchSemanticOnlyThreadsSourceFilterAndQualityThreshold(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{{ID: "a", Score: 0.5}}}
	e := New(DefaultConfig(), sem, nil, nil, nil)

	_, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeSemanticOnly, 10, SearchOptions{
		SourceFilter:     []string{"FastAPI"},
		QualityThreshold: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"FastAPI"}, sem.lastSourceFilter)
	assert.InDelta(t, 0.5, sem.lastQualityThreshold, 1e-9)
}

func TestSearchGraphOnlyThreadsSearchTypeAndMaxDepth(t *testing.T) {
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "a", Score: 0.5}}}
	e := New(DefaultConfig(), nil, g, nil, nil)

	_, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeGraphOnly, 10, SearchOptions{
		GraphSearchType: "relationship",
		GraphMaxDepth:   4,
	})
	require.NoError(t, err)
	assert.Equal(t, "relationship", g.lastSearchType)
	assert.Equal(t, 4, g.lastMaxDepth)
}

func TestSearchGraphOnlyDefaultsSearchTypeAndDepth(t *testing.T) {
	g := &fakeGraph{results: []ptypes.SearchResult{{ID: "a", Score: 0.5}}}
	cfg := DefaultConfig()
	e := New(cfg, nil, g, nil, nil)

	_, _, err := e.Search(context.Background(), "q", ptypes.QueryTypeGraphOnly, 10, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "concept", g.lastSearchType)
	assert.Equal(t, cfg.GraphDepth, g.lastMaxDepth)
}

func TestSearchRespectsMaxResultsLimit(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{
		{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.7},
	}}
	cfg := DefaultConfig()
	cfg.MaxResults = 2
	e := New(cfg, sem, nil, nil, nil)

	results, metrics, err := e.Search(context.Background(), "q", ptypes.QueryTypeSemanticOnly, 10, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, metrics.TotalResults)
}
