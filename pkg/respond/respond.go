// Package respond implements the response formatter (C10): intent-driven
// sectioning of search results plus output-format rendering (markdown,
// text, structured). Grounded directly on
// original_source/src/response_formatter.py's ResponseFormatter class:
// format_response's section/summary/insight/related-query/source
// pipeline, _determine_response_style's intent-to-style mapping, the
// snippet-truncation heuristic in _create_snippet, and the markdown/text/
// structured renderers.
package respond

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

// OutputFormat selects how sections are rendered to a string.
type OutputFormat string

const (
	FormatJSON       OutputFormat = "json"
	FormatMarkdown   OutputFormat = "markdown"
	FormatText       OutputFormat = "text"
	FormatHTML       OutputFormat = "html"
	FormatStructured OutputFormat = "structured"
	FormatCompact    OutputFormat = "compact"
	FormatDetailed   OutputFormat = "detailed"
)

// Style is the presentation register applied to a response.
type Style string

const (
	StyleConcise        Style = "concise"
	StyleDetailed       Style = "detailed"
	StyleTechnical       Style = "technical"
	StyleTutorial        Style = "tutorial"
	StyleComparison      Style = "comparison"
	StyleTroubleshooting Style = "troubleshooting"
	StyleSummary         Style = "summary"
)

var styleByIntent = map[ptypes.QueryIntent]Style{
	ptypes.IntentSearch:       StyleConcise,
	ptypes.IntentExplain:      StyleDetailed,
	ptypes.IntentCompare:      StyleComparison,
	ptypes.IntentSummarize:    StyleSummary,
	ptypes.IntentTutorial:     StyleTutorial,
	ptypes.IntentTroubleshoot: StyleTroubleshooting,
	ptypes.IntentExample:      StyleTechnical,
	ptypes.IntentAnalyze:      StyleDetailed,
	ptypes.IntentDefinition:   StyleConcise,
	ptypes.IntentUnknown:      StyleDetailed,
}

// Config controls formatting behavior.
type Config struct {
	DefaultFormat        OutputFormat
	MaxResultsPerSection int
	SnippetLength        int
}

// DefaultConfig mirrors FormattingConfig's relevant defaults.
func DefaultConfig() Config {
	return Config{
		DefaultFormat:        FormatStructured,
		MaxResultsPerSection: 5,
		SnippetLength:        200,
	}
}

// Section is one titled block of a formatted response.
type Section struct {
	Title   string
	Type    string // "results", "steps", "text"
	Content string
	Results []ResultView
	Steps   []string
}

// ResultView is a single rendered search hit within a section.
type ResultView struct {
	Title   string
	Snippet string
	Source  string
	URL     string
	Score   float64
}

// Response is the fully-formatted output for one query.
type Response struct {
	Query          string
	Intent         ptypes.QueryIntent
	Style          Style
	Format         OutputFormat
	ResultsCount   int
	ProcessingTime time.Duration
	Timestamp      time.Time
	Sections       []Section
	Summary        string
	KeyInsights    []string
	RelatedQueries []string
	SearchStrategy ptypes.QueryType
	Confidence     float64
	Content        string
}

// Formatter builds a Response from processed-query metadata and fused
// search results.
type Formatter struct {
	config Config
}

// New constructs a Formatter.
func New(cfg Config) *Formatter {
	if cfg.MaxResultsPerSection == 0 {
		cfg.MaxResultsPerSection = 5
	}
	if cfg.SnippetLength == 0 {
		cfg.SnippetLength = 200
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = FormatStructured
	}
	return &Formatter{config: cfg}
}

// Format renders a complete Response for the given query results.
func (f *Formatter) Format(query string, processed ptypes.ProcessedQuery, results []ptypes.HybridResult, format OutputFormat, processingTime time.Duration) Response {
	if format == "" {
		format = f.config.DefaultFormat
	}
	style := f.determineStyle(processed.Intent)

	sections := f.buildSections(processed, results)
	summary := f.generateSummary(processed, results)
	insights := f.extractKeyInsights(results)
	related := f.generateRelatedQueries(processed)

	resp := Response{
		Query:          query,
		Intent:         processed.Intent,
		Style:          style,
		Format:         format,
		ResultsCount:   len(results),
		ProcessingTime: processingTime,
		Timestamp:      time.Now(),
		Sections:       sections,
		Summary:        summary,
		KeyInsights:    insights,
		RelatedQueries: related,
		SearchStrategy: processed.SearchStrategy,
		Confidence:     processed.ConfidenceScore,
	}
	resp.Content = f.render(sections, format)
	return resp
}

func (f *Formatter) determineStyle(intent ptypes.QueryIntent) Style {
	if s, ok := styleByIntent[intent]; ok {
		return s
	}
	return StyleDetailed
}

func (f *Formatter) buildSections(processed ptypes.ProcessedQuery, results []ptypes.HybridResult) []Section {
	views := f.toResultViews(results)

	switch processed.Intent {
	case ptypes.IntentTutorial:
		return []Section{
			{Title: "Step-by-step guide", Type: "steps", Steps: f.deriveSteps(results)},
			{Title: "Reference material", Type: "results", Results: f.limitResults(views)},
		}
	case ptypes.IntentCompare:
		return []Section{{Title: "Comparison", Type: "results", Results: f.limitResults(views)}}
	case ptypes.IntentSummarize:
		return []Section{{Title: "Summary", Type: "results", Results: f.limitResults(views, 3)}}
	case ptypes.IntentExplain, ptypes.IntentAnalyze, ptypes.IntentDefinition:
		return []Section{{Title: "Overview", Type: "results", Results: f.limitResults(views)}}
	case ptypes.IntentTroubleshoot:
		return []Section{{Title: "Possible Solutions", Type: "results", Results: f.limitResults(views)}}
	case ptypes.IntentExample:
		return []Section{{Title: "Examples", Type: "results", Results: f.limitResults(views)}}
	default:
		return []Section{{Title: "Results", Type: "results", Results: f.limitResults(views)}}
	}
}

func (f *Formatter) deriveSteps(results []ptypes.HybridResult) []string {
	var steps []string
	for i, r := range results {
		if i >= f.config.MaxResultsPerSection {
			break
		}
		steps = append(steps, r.Title)
	}
	return steps
}

func (f *Formatter) toResultViews(results []ptypes.HybridResult) []ResultView {
	views := make([]ResultView, 0, len(results))
	for _, r := range results {
		views = append(views, ResultView{
			Title:   r.Title,
			Snippet: f.createSnippet(r.Content),
			Source:  r.SourceName,
			URL:     r.SourceURL,
			Score:   r.CombinedScore,
		})
	}
	return views
}

func (f *Formatter) limitResults(views []ResultView, limit ...int) []ResultView {
	n := f.config.MaxResultsPerSection
	if len(limit) > 0 {
		n = limit[0]
	}
	if len(views) <= n {
		return views
	}
	return views[:n]
}

// createSnippet mirrors _create_snippet: truncate at a sentence boundary
// when one falls late enough in the window, otherwise at a word boundary,
// otherwise a hard cut with an ellipsis.
func (f *Formatter) createSnippet(content string) string {
	length := f.config.SnippetLength
	if len(content) <= length {
		return content
	}

	snippet := content[:length]
	lastPeriod := strings.LastIndex(snippet, ".")
	lastSpace := strings.LastIndex(snippet, " ")

	switch {
	case float64(lastPeriod) > float64(length)*0.7:
		return snippet[:lastPeriod+1]
	case float64(lastSpace) > float64(length)*0.8:
		return snippet[:lastSpace] + "..."
	default:
		return snippet + "..."
	}
}

func (f *Formatter) generateSummary(processed ptypes.ProcessedQuery, results []ptypes.HybridResult) string {
	if len(results) == 0 {
		return "No relevant information found for this query."
	}

	var total float64
	for _, r := range results {
		total += r.CombinedScore
	}
	avg := total / float64(len(results))

	parts := []string{fmt.Sprintf("Found %d relevant results with an average relevance score of %.2f.", len(results), avg)}

	switch processed.Intent {
	case ptypes.IntentSearch:
		parts = append(parts, "The results provide comprehensive information on the requested topic.")
	case ptypes.IntentExplain:
		parts = append(parts, "The results offer detailed explanations and background information.")
	case ptypes.IntentCompare:
		parts = append(parts, "The results enable comparison between different options or approaches.")
	}
	return strings.Join(parts, " ")
}

func (f *Formatter) extractKeyInsights(results []ptypes.HybridResult) []string {
	if len(results) == 0 {
		return nil
	}

	var insights []string

	top := results[0]
	for _, r := range results {
		if r.CombinedScore > top.CombinedScore {
			top = r
		}
	}
	insights = append(insights, fmt.Sprintf("Most relevant information found in: %s", top.SourceName))

	seenSources := make(map[string]bool)
	for _, r := range results {
		seenSources[r.SourceName] = true
	}
	insights = append(insights, fmt.Sprintf("Information gathered from %d different sources", len(seenSources)))

	if len(insights) > 5 {
		insights = insights[:5]
	}
	return insights
}

// generateRelatedQueries mirrors _generate_related_queries's intent-based
// and concept-based suggestion templates, capped at 5.
func (f *Formatter) generateRelatedQueries(processed ptypes.ProcessedQuery) []string {
	var related []string

	entities := make([]string, 0, len(processed.Entities))
	for _, e := range processed.Entities {
		entities = append(entities, e.Value)
	}

	switch processed.Intent {
	case ptypes.IntentExplain:
		for _, e := range firstN(entities, 2) {
			related = append(related, fmt.Sprintf("How to use %s", e), fmt.Sprintf("%s best practices", e))
		}
	case ptypes.IntentCompare:
		if len(entities) >= 2 {
			related = append(related,
				fmt.Sprintf("%s advantages over %s", entities[0], entities[1]),
				fmt.Sprintf("When to choose %s vs %s", entities[0], entities[1]))
		}
	case ptypes.IntentTutorial:
		for _, e := range firstN(entities, 2) {
			related = append(related, fmt.Sprintf("%s getting started guide", e), fmt.Sprintf("Advanced %s techniques", e))
		}
	}

	for _, c := range firstN(processed.Concepts, 2) {
		related = append(related, fmt.Sprintf("%s examples", c), fmt.Sprintf("%s troubleshooting", c))
	}

	if len(related) > 5 {
		related = related[:5]
	}
	return related
}

func firstN(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}

func (f *Formatter) render(sections []Section, format OutputFormat) string {
	switch format {
	case FormatMarkdown:
		return renderMarkdown(sections)
	case FormatText:
		return renderText(sections)
	case FormatJSON:
		return renderJSON(sections)
	case FormatHTML:
		return renderHTML(sections)
	case FormatCompact:
		return renderCompact(sections)
	case FormatDetailed:
		return renderMarkdown(sections)
	default:
		return renderStructured(sections)
	}
}

// renderJSON marshals the sections verbatim; a caller wanting the full
// Response envelope (summary, insights, related queries) serializes resp
// directly rather than resp.Content in this mode.
func renderJSON(sections []Section) string {
	b, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func renderHTML(sections []Section) string {
	var parts []string
	for _, s := range sections {
		parts = append(parts, fmt.Sprintf("<h2>%s</h2>", htmlEscape(s.Title)))
		switch s.Type {
		case "results":
			parts = append(parts, "<ul>")
			for _, r := range s.Results {
				parts = append(parts, fmt.Sprintf(
					"<li><strong>%s</strong><p>%s</p><span>Source: %s</span></li>",
					htmlEscape(orDefault(r.Title, "Untitled")), htmlEscape(r.Snippet), htmlEscape(orDefault(r.Source, "Unknown"))))
			}
			parts = append(parts, "</ul>")
		case "steps":
			parts = append(parts, "<ol>")
			for _, step := range s.Steps {
				parts = append(parts, fmt.Sprintf("<li>%s</li>", htmlEscape(step)))
			}
			parts = append(parts, "</ol>")
		default:
			parts = append(parts, fmt.Sprintf("<p>%s</p>", htmlEscape(s.Content)))
		}
	}
	return strings.Join(parts, "\n")
}

// renderCompact drops snippets and scores, keeping only titles, for a
// terse single-line-per-result rendering.
func renderCompact(sections []Section) string {
	var parts []string
	for _, s := range sections {
		parts = append(parts, s.Title+":")
		if s.Type == "results" {
			for _, r := range s.Results {
				parts = append(parts, "- "+orDefault(r.Title, "Untitled"))
			}
		} else if s.Type == "steps" {
			for i, step := range s.Steps {
				parts = append(parts, fmt.Sprintf("%d. %s", i+1, step))
			}
		} else {
			parts = append(parts, s.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;")
	return r.Replace(s)
}

func renderMarkdown(sections []Section) string {
	var parts []string
	for _, s := range sections {
		parts = append(parts, fmt.Sprintf("## %s\n", s.Title))
		switch s.Type {
		case "results":
			for _, r := range s.Results {
				parts = append(parts, fmt.Sprintf("### %s", orDefault(r.Title, "Untitled")))
				parts = append(parts, r.Snippet)
				parts = append(parts, fmt.Sprintf("**Source:** %s", orDefault(r.Source, "Unknown")))
				if r.URL != "" {
					parts = append(parts, fmt.Sprintf("**URL:** %s", r.URL))
				}
				parts = append(parts, "")
			}
		case "steps":
			for i, step := range s.Steps {
				parts = append(parts, fmt.Sprintf("%d. %s", i+1, step))
			}
			parts = append(parts, "")
		default:
			parts = append(parts, s.Content+"\n")
		}
	}
	return strings.Join(parts, "\n")
}

func renderText(sections []Section) string {
	var parts []string
	for _, s := range sections {
		parts = append(parts, strings.ToUpper(s.Title))
		parts = append(parts, strings.Repeat("=", len(s.Title)))
		if s.Type == "results" {
			for _, r := range s.Results {
				parts = append(parts, fmt.Sprintf("%s - %s", r.Title, r.Snippet))
			}
		} else {
			parts = append(parts, s.Content)
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

func renderStructured(sections []Section) string {
	var parts []string
	for i, s := range sections {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, s.Title))
		parts = append(parts, strings.Repeat("-", len(s.Title)+4))
		if s.Type == "results" {
			for j, r := range s.Results {
				parts = append(parts, fmt.Sprintf("  %d. %s", j+1, orDefault(r.Title, "Untitled")))
				parts = append(parts, fmt.Sprintf("     %s", r.Snippet))
				parts = append(parts, fmt.Sprintf("     Source: %s", orDefault(r.Source, "Unknown")))
				parts = append(parts, "")
			}
		} else {
			parts = append(parts, s.Content)
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\n")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
