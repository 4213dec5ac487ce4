// Package neostore is a concrete ptypes.GraphStore backed by Neo4j. Like
// pgstore, the hybrid query engine (C8) consumes it only behind the
// ptypes.GraphStore interface; cmd/ptolemies-server wires it in. The
// session/transaction shape follows evalgo-org-eve's Neo4jRepository
// (driver + explicit ExecuteRead/ExecuteWrite transaction functions).
package neostore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

var _ ptypes.GraphStore = (*Store)(nil)

// Store is a Neo4j-backed concept/document relationship graph. Documents
// are modeled as (:Document {id, title, content, source_name, source_url})
// nodes; RELATES_TO edges connect documents to the concepts they cover and
// to each other. All methods are safe for concurrent use.
type Store struct {
	driver neo4j.DriverWithContext
}

// New creates a Store and verifies connectivity to uri.
func New(ctx context.Context, uri, username, password string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neostore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neostore: verify connectivity: %w", err)
	}
	return &Store{driver: driver}, nil
}

// Search implements ptypes.GraphStore. searchType selects the Cypher
// traversal shape ("concept", "document", or "relationship"; "concept"
// is the default for any other value) and maxDepth bounds the RELATES_TO
// path length used by the "relationship" traversal.
func (s *Store) Search(ctx context.Context, query, searchType string, limit, maxDepth int) ([]ptypes.SearchResult, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	if maxDepth <= 0 {
		maxDepth = 2
	}
	q := searchCypher(searchType, maxDepth)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		rows, err := tx.Run(ctx, q, map[string]interface{}{"query": query, "limit": limit})
		if err != nil {
			return nil, err
		}
		return collectResults(ctx, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("neostore: search: %w", err)
	}
	return result.([]ptypes.SearchResult), nil
}

// searchCypher returns the query-matching Cypher for searchType:
//
//   - "document": matches Document nodes directly on title/content only,
//     ignoring Concept edges entirely.
//   - "relationship": expands from matched documents across RELATES_TO
//     paths up to maxDepth hops, ranking by reachable-node count.
//   - anything else ("concept", ""): the default, matching through a
//     single RELATES_TO hop to a Concept as well as title/content.
func searchCypher(searchType string, maxDepth int) string {
	switch searchType {
	case "document":
		return `
			MATCH (d:Document)
			WHERE toLower(d.title) CONTAINS toLower($query)
			   OR toLower(d.content) CONTAINS toLower($query)
			RETURN d.id AS id, d.title AS title, d.content AS content,
			       d.source_name AS source_name, d.source_url AS source_url, 0 AS degree
			ORDER BY d.title
			LIMIT $limit`
	case "relationship":
		return fmt.Sprintf(`
			MATCH (d:Document)
			WHERE toLower(d.title) CONTAINS toLower($query)
			   OR toLower(d.content) CONTAINS toLower($query)
			MATCH (d)-[:RELATES_TO*1..%d]-(reached)
			WITH DISTINCT d, count(reached) AS degree
			RETURN d.id AS id, d.title AS title, d.content AS content,
			       d.source_name AS source_name, d.source_url AS source_url, degree
			ORDER BY degree DESC
			LIMIT $limit`, maxDepth)
	default:
		return `
			MATCH (d:Document)
			OPTIONAL MATCH (d)-[:RELATES_TO]->(c:Concept)
			WITH d, c
			WHERE toLower(d.title) CONTAINS toLower($query)
			   OR toLower(d.content) CONTAINS toLower($query)
			   OR toLower(c.name) CONTAINS toLower($query)
			WITH DISTINCT d, count(c) AS degree
			RETURN d.id AS id, d.title AS title, d.content AS content,
			       d.source_name AS source_name, d.source_url AS source_url, degree
			ORDER BY degree DESC
			LIMIT $limit`
	}
}

// Related implements ptypes.GraphStore. It returns documents within two
// hops of the document or concept identified by id, following RELATES_TO
// edges in either direction.
func (s *Store) Related(ctx context.Context, id string, limit int) ([]ptypes.SearchResult, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		const q = `
			MATCH (start {id: $id})-[:RELATES_TO*1..2]-(d:Document)
			WHERE d.id <> $id
			WITH DISTINCT d
			RETURN d.id AS id, d.title AS title, d.content AS content,
			       d.source_name AS source_name, d.source_url AS source_url, 0 AS degree
			LIMIT $limit`

		rows, err := tx.Run(ctx, q, map[string]interface{}{"id": id, "limit": limit})
		if err != nil {
			return nil, err
		}
		return collectResults(ctx, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("neostore: related: %w", err)
	}
	return result.([]ptypes.SearchResult), nil
}

func collectResults(ctx context.Context, rows neo4j.ResultWithContext) ([]ptypes.SearchResult, error) {
	results := []ptypes.SearchResult{}
	for rows.Next(ctx) {
		record := rows.Record()
		r := ptypes.SearchResult{}
		if v, ok := record.Get("id"); ok && v != nil {
			r.ID, _ = v.(string)
		}
		if v, ok := record.Get("title"); ok && v != nil {
			r.Title, _ = v.(string)
		}
		if v, ok := record.Get("content"); ok && v != nil {
			r.Content, _ = v.(string)
		}
		if v, ok := record.Get("source_name"); ok && v != nil {
			r.SourceName, _ = v.(string)
		}
		if v, ok := record.Get("source_url"); ok && v != nil {
			r.SourceURL, _ = v.(string)
		}
		if v, ok := record.Get("degree"); ok && v != nil {
			if degree, ok := v.(int64); ok {
				r.Score = float64(degree)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close closes the underlying Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
