package neostore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/ptolemies/pkg/store/neostore"
)

// testURI returns the test database URI from the environment, or skips
// the test if PTOLEMIES_TEST_NEO4J_URI is not set.
func testURI(t *testing.T) (uri, user, pass string) {
	t.Helper()
	uri = os.Getenv("PTOLEMIES_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("PTOLEMIES_TEST_NEO4J_URI not set — skipping Neo4j integration test")
	}
	user = os.Getenv("PTOLEMIES_TEST_NEO4J_USER")
	pass = os.Getenv("PTOLEMIES_TEST_NEO4J_PASSWORD")
	return uri, user, pass
}

func newTestStore(t *testing.T) *neostore.Store {
	t.Helper()
	uri, user, pass := testURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := neostore.New(ctx, uri, user, pass)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestSearchReturnsEmptySliceWhenNoMatches(t *testing.T) {
	store := newTestStore(t)
	results, err := store.Search(context.Background(), "no-such-term-xyz", "concept", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRelatedReturnsEmptySliceForUnknownID(t *testing.T) {
	store := newTestStore(t)
	results, err := store.Related(context.Background(), "does-not-exist", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
