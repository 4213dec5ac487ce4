package respond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

func sampleResults() []ptypes.HybridResult {
	r := ptypes.HybridResult{
		CombinedScore: 0.9,
	}
	r.ID = "doc-1"
	r.Title = "FastAPI Overview"
	r.Content = "FastAPI is a modern, fast web framework for building APIs with Python."
	r.SourceName = "docs.fastapi"
	r.SourceURL = "https://fastapi.tiangolo.com"
	return []ptypes.HybridResult{r}
}

func TestFormatExplainIntentMarkdownHasOverviewSection(t *testing.T) {
	f := New(DefaultConfig())
	processed := ptypes.ProcessedQuery{Intent: ptypes.IntentExplain}

	resp := f.Format("Explain FastAPI", processed, sampleResults(), FormatMarkdown, 10*time.Millisecond)

	require.Len(t, resp.Sections, 1)
	assert.Equal(t, "Overview", resp.Sections[0].Title)
	assert.Contains(t, resp.Content, "## Overview")
	assert.Contains(t, resp.Content, "FastAPI Overview")
	assert.Contains(t, resp.Content, "**Source:** docs.fastapi")
}

func TestFormatJSONRendersSectionFields(t *testing.T) {
	f := New(DefaultConfig())
	processed := ptypes.ProcessedQuery{Intent: ptypes.IntentSearch}

	resp := f.Format("what is FastAPI", processed, sampleResults(), FormatJSON, time.Millisecond)

	assert.Contains(t, resp.Content, "\"Title\"")
	assert.Contains(t, resp.Content, "FastAPI Overview")
}

func TestFormatHTMLRendersHeadingAndListItems(t *testing.T) {
	f := New(DefaultConfig())
	processed := ptypes.ProcessedQuery{Intent: ptypes.IntentSearch}

	resp := f.Format("q", processed, sampleResults(), FormatHTML, time.Millisecond)

	assert.Contains(t, resp.Content, "<h2>Results</h2>")
	assert.Contains(t, resp.Content, "<li>")
}

func TestFormatCompactOmitsSnippets(t *testing.T) {
	f := New(DefaultConfig())
	processed := ptypes.ProcessedQuery{Intent: ptypes.IntentSearch}

	resp := f.Format("q", processed, sampleResults(), FormatCompact, time.Millisecond)

	assert.Contains(t, resp.Content, "- FastAPI Overview")
	assert.NotContains(t, resp.Content, "modern, fast web framework")
}

func TestDetermineStyleCoversNewIntents(t *testing.T) {
	f := New(DefaultConfig())
	assert.Equal(t, StyleConcise, f.determineStyle(ptypes.IntentDefinition))
	assert.Equal(t, StyleDetailed, f.determineStyle(ptypes.IntentAnalyze))
	assert.Equal(t, StyleDetailed, f.determineStyle(ptypes.IntentUnknown))
}

func TestBuildSectionsTroubleshootAndExample(t *testing.T) {
	f := New(DefaultConfig())

	troubleshoot := f.buildSections(ptypes.ProcessedQuery{Intent: ptypes.IntentTroubleshoot}, sampleResults())
	require.Len(t, troubleshoot, 1)
	assert.Equal(t, "Possible Solutions", troubleshoot[0].Title)

	example := f.buildSections(ptypes.ProcessedQuery{Intent: ptypes.IntentExample}, sampleResults())
	require.Len(t, example, 1)
	assert.Equal(t, "Examples", example[0].Title)
}

func TestFormatEmptyResultsProducesNoResultsSummary(t *testing.T) {
	f := New(DefaultConfig())
	resp := f.Format("q", ptypes.ProcessedQuery{Intent: ptypes.IntentSearch}, nil, FormatText, time.Millisecond)
	assert.Equal(t, "No relevant information found for this query.", resp.Summary)
	assert.Equal(t, 0, resp.ResultsCount)
}
