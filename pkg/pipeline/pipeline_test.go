package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/ptolemies/pkg/analyzer"
	"github.com/developer-mesh/ptolemies/pkg/hybrid"
	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

type fakeSemantic struct{ results []ptypes.SearchResult }

func (f *fakeSemantic) Search(ctx context.Context, query string, limit int, sourceFilter []string, qualityThreshold float64) ([]ptypes.SearchResult, error) {
	return f.results, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour
	return cfg
}

func TestProcessCreatesNewSessionWhenNoneProvided(t *testing.T) {
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	resp, err := o.Process(context.Background(), Request{Query: "find python docs"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
}

func TestProcessReusesProvidedSessionID(t *testing.T) {
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	resp, err := o.Process(context.Background(), Request{Query: "find docs", SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", resp.SessionID)
}

func TestProcessExecutesSearchWhenEngineWired(t *testing.T) {
	sem := &fakeSemantic{results: []ptypes.SearchResult{
		{ID: "a", Title: "Doc A", Content: "step by step example", Score: 0.9},
	}}
	engine := hybrid.New(hybrid.DefaultConfig(), sem, nil, nil, nil)
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), engine, nil, nil, nil)
	defer o.Close()

	resp, err := o.Process(context.Background(), Request{Query: "find python docs", SessionID: "s"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestGetSessionInfoReturnsFalseForUnknownSession(t *testing.T) {
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	_, ok := o.GetSessionInfo("missing")
	assert.False(t, ok)
}

func TestGetSessionInfoReflectsQueryCount(t *testing.T) {
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	_, err := o.Process(context.Background(), Request{Query: "find docs", SessionID: "s1"})
	require.NoError(t, err)
	_, err = o.Process(context.Background(), Request{Query: "find more docs", SessionID: "s1"})
	require.NoError(t, err)

	info, ok := o.GetSessionInfo("s1")
	require.True(t, ok)
	assert.Equal(t, 2, info.QueryCount)
	assert.Equal(t, "find more docs", info.LastQuery)
}

func TestClearSessionRemovesSession(t *testing.T) {
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	_, err := o.Process(context.Background(), Request{Query: "find docs", SessionID: "s1"})
	require.NoError(t, err)

	assert.True(t, o.ClearSession("s1"))
	assert.False(t, o.ClearSession("s1"))
}

func TestCleanOldSessionsRemovesExpiredSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = time.Millisecond
	o := New(cfg, analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	_, err := o.Process(context.Background(), Request{Query: "find docs", SessionID: "s1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	o.cleanOldSessions()

	_, ok := o.GetSessionInfo("s1")
	assert.False(t, ok)
}

func TestApplyIntentProcessingSummarizeReturnsTopThree(t *testing.T) {
	results := make([]ResultItem, 5)
	for i := range results {
		results[i] = ResultItem{ID: string(rune('a' + i))}
	}
	out := applyIntentProcessing(ptypes.ProcessedQuery{Intent: ptypes.IntentSummarize}, results)
	assert.Len(t, out, 3)
}

func TestApplyIntentProcessingTutorialPrioritizesStepByStepContent(t *testing.T) {
	results := []ResultItem{
		{ID: "1", Content: "a step by step guide to auth"},
		{ID: "2", Content: "unrelated content"},
	}
	out := applyIntentProcessing(ptypes.ProcessedQuery{Intent: ptypes.IntentTutorial}, results)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
}

func TestApplyIntentProcessingCompareGroupsByEntityWithCaps(t *testing.T) {
	results := []ResultItem{
		{ID: "p1", Content: "python is great"},
		{ID: "p2", Content: "python tips"},
		{ID: "p3", Content: "python advanced"},
		{ID: "j1", Content: "javascript basics"},
		{ID: "j2", Content: "javascript async"},
		{ID: "j3", Content: "javascript dom"},
	}
	processed := ptypes.ProcessedQuery{
		Intent: ptypes.IntentCompare,
		Entities: []ptypes.Entity{
			{Type: "technology", Value: "python"},
			{Type: "technology", Value: "javascript"},
		},
	}
	out := applyIntentProcessing(processed, results)
	assert.LessOrEqual(t, len(out), 10)

	counts := map[string]int{}
	for _, r := range out {
		if r.ID[0] == 'p' {
			counts["python"]++
		} else {
			counts["javascript"]++
		}
	}
	assert.LessOrEqual(t, counts["python"], 2)
	assert.LessOrEqual(t, counts["javascript"], 2)
}

func TestGenerateCacheKeyIsDeterministic(t *testing.T) {
	o := New(testConfig(), analyzer.New(analyzer.DefaultConfig()), nil, nil, nil, nil)
	defer o.Close()

	qctx := &ptypes.QueryContext{UserID: "u1"}
	k1 := o.generateCacheKey("Find Docs", qctx)
	k2 := o.generateCacheKey("find docs", qctx)
	assert.Equal(t, k1, k2)
}
