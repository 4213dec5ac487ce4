package toolreg

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/ptolemies/pkg/hybrid"
	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

type fakeSemanticStore struct {
	lastSourceFilter     []string
	lastQualityThreshold float64
}

func (f *fakeSemanticStore) Search(ctx context.Context, query string, limit int, sourceFilter []string, qualityThreshold float64) ([]ptypes.SearchResult, error) {
	f.lastSourceFilter = sourceFilter
	f.lastQualityThreshold = qualityThreshold
	return []ptypes.SearchResult{{ID: "doc-1", Title: "FastAPI", Score: 0.9}}, nil
}

type fakeGraphStore struct {
	lastSearchType string
	lastMaxDepth   int
}

func (f *fakeGraphStore) Search(ctx context.Context, query, searchType string, limit, maxDepth int) ([]ptypes.SearchResult, error) {
	f.lastSearchType = searchType
	f.lastMaxDepth = maxDepth
	return []ptypes.SearchResult{{ID: "node-1", Title: "Routing", Score: 0.8}}, nil
}

func (f *fakeGraphStore) Related(ctx context.Context, id string, limit int) ([]ptypes.SearchResult, error) {
	return nil, nil
}

func testEngine() *hybrid.Engine {
	return hybrid.New(hybrid.DefaultConfig(), &fakeSemanticStore{}, &fakeGraphStore{}, nil, nil)
}

func TestRegisterBuiltinsExposesAllSix(t *testing.T) {
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{Engine: testEngine()})

	names := map[string]bool{}
	for _, info := range r.List("", "") {
		names[info.Spec.Name] = true
	}
	for _, want := range []string{"semantic_search", "graph_search", "hybrid_search", "index_document", "get_knowledge_stats", "get_query_suggestions"} {
		assert.True(t, names[want], "missing built-in tool %q", want)
	}
}

func TestSemanticSearchBuiltinReturnsResults(t *testing.T) {
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{Engine: testEngine()})

	result, err := r.Execute(context.Background(), "semantic_search", map[string]interface{}{"query": "fastapi routing"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	assert.Contains(t, payload, "results")
}

func TestSemanticSearchBuiltinRejectsEmptyQuery(t *testing.T) {
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{Engine: testEngine()})

	result, err := r.Execute(context.Background(), "semantic_search", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQuerySuggestionsBuiltinUsesEngineSuggest(t *testing.T) {
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{Engine: testEngine()})

	result, err := r.Execute(context.Background(), "get_query_suggestions", map[string]interface{}{"partial_query": "auth"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "suggestions")
}

func TestIndexDocumentBuiltinAcknowledgesWithoutIngesting(t *testing.T) {
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{})

	result, err := r.Execute(context.Background(), "index_document", map[string]interface{}{"title": "New Doc"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "accepted")
}

func TestSemanticSearchBuiltinThreadsSourceFilterAndQualityThreshold(t *testing.T) {
	sem := &fakeSemanticStore{}
	engine := hybrid.New(hybrid.DefaultConfig(), sem, &fakeGraphStore{}, nil, nil)
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{Engine: engine})

	result, err := r.Execute(context.Background(), "semantic_search", map[string]interface{}{
		"query":             "find authentication examples",
		"source_filter":     []interface{}{"FastAPI"},
		"quality_threshold": 0.5,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, []string{"FastAPI"}, sem.lastSourceFilter)
	assert.InDelta(t, 0.5, sem.lastQualityThreshold, 1e-9)
}

func TestGraphSearchBuiltinThreadsSearchTypeAndMaxDepth(t *testing.T) {
	g := &fakeGraphStore{}
	engine := hybrid.New(hybrid.DefaultConfig(), &fakeSemanticStore{}, g, nil, nil)
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{Engine: engine})

	result, err := r.Execute(context.Background(), "graph_search", map[string]interface{}{
		"query":       "authentication",
		"search_type": "relationship",
		"max_depth":   float64(3),
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "relationship", g.lastSearchType)
	assert.Equal(t, 3, g.lastMaxDepth)
}

func TestHybridSearchBuiltinMissingEngineFails(t *testing.T) {
	r := New(nil, nil)
	RegisterBuiltins(r, Deps{})

	result, err := r.Execute(context.Background(), "hybrid_search", map[string]interface{}{"query": "q"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
