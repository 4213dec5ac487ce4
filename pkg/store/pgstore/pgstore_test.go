package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
	"github.com/developer-mesh/ptolemies/pkg/store/pgstore"
)

const testEmbeddingDim = 4

// fakeEmbedder returns a fixed vector regardless of input, enough to
// exercise the query path without a real embedding model.
type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

// testDSN returns the test database DSN from the environment, or skips
// the test if PTOLEMIES_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PTOLEMIES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PTOLEMIES_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration test")
	}
	return dsn
}

func newTestStore(t *testing.T, embedder ptypes.Embedder) *pgstore.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := pgstore.New(ctx, dsn, embedder, testEmbeddingDim)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestIndexDocumentThenSearchReturnsIt(t *testing.T) {
	store := newTestStore(t, fakeEmbedder{vec: []float32{1, 0, 0, 0}})
	ctx := context.Background()

	doc := ptypes.Document{
		ID:         "doc-fastapi",
		Title:      "FastAPI Overview",
		Content:    "FastAPI is a modern Python web framework.",
		SourceName: "docs.fastapi",
		SourceURL:  "https://fastapi.tiangolo.com",
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.IndexDocument(ctx, doc, []float32{1, 0, 0, 0}))

	results, err := store.Search(ctx, "fastapi", 5, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-fastapi", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 0.0001)
}

func TestSearchOnEmptyTableReturnsEmptySlice(t *testing.T) {
	store := newTestStore(t, fakeEmbedder{vec: []float32{0, 1, 0, 0}})
	results, err := store.Search(context.Background(), "anything", 5, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchFiltersByQualityThreshold(t *testing.T) {
	store := newTestStore(t, fakeEmbedder{vec: []float32{1, 0, 0, 0}})
	ctx := context.Background()

	low := ptypes.Document{
		ID: "doc-low-quality", Title: "Low Quality", Content: "low quality document",
		SourceName: "docs.low", SourceURL: "https://example.com/low",
		UpdatedAt: time.Now(), QualityScore: 0.1,
	}
	high := ptypes.Document{
		ID: "doc-high-quality", Title: "High Quality", Content: "high quality document",
		SourceName: "docs.high", SourceURL: "https://example.com/high",
		UpdatedAt: time.Now(), QualityScore: 0.9,
	}
	require.NoError(t, store.IndexDocument(ctx, low, []float32{1, 0, 0, 0}))
	require.NoError(t, store.IndexDocument(ctx, high, []float32{1, 0, 0, 0}))

	results, err := store.Search(ctx, "quality", 10, nil, 0.5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-low-quality", r.ID)
	}
}

func TestSearchFiltersBySourceName(t *testing.T) {
	store := newTestStore(t, fakeEmbedder{vec: []float32{1, 0, 0, 0}})
	ctx := context.Background()

	a := ptypes.Document{
		ID: "doc-source-a", Title: "Source A Doc", Content: "source a content",
		SourceName: "FastAPI", SourceURL: "https://example.com/a", UpdatedAt: time.Now(),
	}
	b := ptypes.Document{
		ID: "doc-source-b", Title: "Source B Doc", Content: "source b content",
		SourceName: "Django", SourceURL: "https://example.com/b", UpdatedAt: time.Now(),
	}
	require.NoError(t, store.IndexDocument(ctx, a, []float32{1, 0, 0, 0}))
	require.NoError(t, store.IndexDocument(ctx, b, []float32{1, 0, 0, 0}))

	results, err := store.Search(ctx, "doc", 10, []string{"FastAPI"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "doc-source-a", r.ID)
	}
}
