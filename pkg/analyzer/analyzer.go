// Package analyzer implements the query analyzer (C7): normalization,
// spell correction, regex-scored intent detection, entity/keyword/concept
// extraction, complexity assessment, search-strategy selection, query
// expansion, and context-aware strategy refinement. Grounded directly on
// original_source/src/query_processing_pipeline.py's QueryProcessor class:
// the intent-pattern table, stop-word list, tech/concept regex tables, and
// the complexity-scoring/strategy-selection branches are carried over in
// logic, translated from a stateful Python class into pure, struct-returning
// Go functions over an immutable Analyzer value.
package analyzer

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

// Config controls which analysis stages run.
type Config struct {
	EnableSpellCorrection bool
	EnableEntityExtraction bool
	EnableQueryExpansion  bool
	MaxQueryExpansions    int
	IntentConfidenceThreshold float64
	ContextWindowSize     int
}

// DefaultConfig mirrors QueryPipelineConfig's analyzer-relevant defaults.
func DefaultConfig() Config {
	return Config{
		EnableSpellCorrection:     true,
		EnableEntityExtraction:    true,
		EnableQueryExpansion:      true,
		MaxQueryExpansions:        3,
		IntentConfidenceThreshold: 0.7,
		ContextWindowSize:         5,
	}
}

var intentPatterns = map[ptypes.QueryIntent][]*regexp.Regexp{
	ptypes.IntentAnalyze: {
		regexp.MustCompile(`(analyze|analysis|evaluate|assess)`),
		regexp.MustCompile(`(breakdown|break down|deep dive)`),
		regexp.MustCompile(`(trade-?offs?|implications)`),
	},
	ptypes.IntentDefinition: {
		regexp.MustCompile(`(define|definition|meaning of)`),
		regexp.MustCompile(`(what does .* mean)`),
		regexp.MustCompile(`(term for|stands for)`),
	},
	ptypes.IntentSearch: {
		regexp.MustCompile(`(find|search|look for|locate|where)`),
		regexp.MustCompile(`(show me|get me|fetch)`),
		regexp.MustCompile(`(information about|details on)`),
	},
	ptypes.IntentExplain: {
		regexp.MustCompile(`(explain|what is|what are|describe)`),
		regexp.MustCompile(`(how does|how do|how to)`),
		regexp.MustCompile(`(tell me about|teach me)`),
	},
	ptypes.IntentCompare: {
		regexp.MustCompile(`(compare|difference|versus|vs)`),
		regexp.MustCompile(`(better than|worse than)`),
		regexp.MustCompile(`(pros and cons|advantages|disadvantages)`),
	},
	ptypes.IntentSummarize: {
		regexp.MustCompile(`(summarize|summary|overview)`),
		regexp.MustCompile(`(key points|main ideas|highlights)`),
		regexp.MustCompile(`(brief|concise|short)`),
	},
	ptypes.IntentTutorial: {
		regexp.MustCompile(`(tutorial|guide|walkthrough)`),
		regexp.MustCompile(`(step by step|how to|instructions)`),
		regexp.MustCompile(`(learn|teaching|lesson)`),
	},
	ptypes.IntentTroubleshoot: {
		regexp.MustCompile(`(error|problem|issue|bug)`),
		regexp.MustCompile(`(fix|solve|resolve|debug)`),
		regexp.MustCompile(`(not working|broken|failed)`),
	},
	ptypes.IntentExample: {
		regexp.MustCompile(`(example|sample|demo)`),
		regexp.MustCompile(`(show me code|code snippet)`),
		regexp.MustCompile(`(use case|scenario|instance)`),
	},
}

var commonCorrections = map[string]string{
	"pyton":          "python",
	"javascrip":      "javascript",
	"databse":        "database",
	"funtion":        "function",
	"paramter":       "parameter",
	"asyncronous":    "asynchronous",
	"authetication":  "authentication",
	"authorisation":  "authorization",
}

var conceptSynonyms = map[string][]string{
	"authentication": {"auth", "login", "sign-in", "authorization"},
	"database":       {"db", "datastore", "persistence", "storage"},
	"api":            {"endpoint", "interface", "service", "rest"},
	"async":          {"asynchronous", "concurrent", "parallel", "non-blocking"},
	"error":          {"exception", "bug", "issue", "problem", "failure"},
	"performance":    {"speed", "efficiency", "optimization", "fast"},
	"security":       {"safety", "protection", "secure", "vulnerability"},
}

var techPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`\bpython\b`),
	"javascript": regexp.MustCompile(`\bjavascript\b|\bjs\b`),
	"fastapi":    regexp.MustCompile(`\bfastapi\b`),
	"react":      regexp.MustCompile(`\breact\b`),
	"nodejs":     regexp.MustCompile(`\bnode\.?js\b`),
	"database":   regexp.MustCompile(`\b(database|db|sql|nosql)\b`),
	"api":        regexp.MustCompile(`\bapi\b`),
	"mcp":        regexp.MustCompile(`\bmcp\b`),
	"redis":      regexp.MustCompile(`\bredis\b`),
	"neo4j":      regexp.MustCompile(`\bneo4j\b`),
}

var conceptPatterns = map[string]*regexp.Regexp{
	"authentication": regexp.MustCompile(`\b(auth|authentication|login)\b`),
	"caching":        regexp.MustCompile(`\b(cache|caching)\b`),
	"search":         regexp.MustCompile(`\b(search|query|find)\b`),
	"performance":    regexp.MustCompile(`\b(performance|speed|optimization)\b`),
	"security":       regexp.MustCompile(`\b(security|secure|vulnerability)\b`),
}

var stopWords = map[string]bool{
	"the": true, "is": true, "at": true, "which": true, "on": true, "a": true,
	"an": true, "and": true, "or": true, "but": true, "in": true, "with": true,
	"to": true, "for": true, "of": true, "as": true, "by": true, "that": true,
	"this": true, "it": true, "from": true, "be": true, "are": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "should": true, "could": true,
	"may": true, "might": true, "must": true, "can": true, "cant": true,
	"what": true, "where": true, "when": true, "how": true, "why": true,
	"who": true, "whom": true, "whose": true,
}

var whitespaceRe = regexp.MustCompile(`\s+`)
var punctuationRe = regexp.MustCompile(`[^\w\s\-.,?!]`)

var compoundMarkers = []string{" and ", " or ", "but also", "as well as"}

// Analyzer performs the full query analysis pipeline.
type Analyzer struct {
	config Config
}

// New builds an Analyzer.
func New(cfg Config) *Analyzer {
	if cfg.MaxQueryExpansions == 0 {
		cfg.MaxQueryExpansions = 3
	}
	if cfg.ContextWindowSize == 0 {
		cfg.ContextWindowSize = 5
	}
	return &Analyzer{config: cfg}
}

// Process runs the full pipeline over a raw query, optionally refining the
// chosen strategy using session context.
func (a *Analyzer) Process(ctx context.Context, query string, qctx *ptypes.QueryContext) ptypes.ProcessedQuery {
	normalized := normalizeQuery(query)

	corrected, spellCorrected := normalized, false
	if a.config.EnableSpellCorrection {
		corrected, spellCorrected = spellCorrect(normalized)
	}

	intent, confidence := a.detectIntent(corrected)

	var entities []ptypes.Entity
	if a.config.EnableEntityExtraction {
		entities = extractEntities(corrected)
	}

	keywords := extractKeywords(corrected)
	concepts := extractConcepts(corrected, entities)
	complexity := assessComplexity(corrected, entities, concepts)
	strategy := a.determineStrategy(intent, complexity, concepts)

	var expanded []string
	if a.config.EnableQueryExpansion {
		expanded = a.expandQuery(corrected, intent, concepts)
	}

	if qctx != nil {
		strategy = a.applyContext(strategy, qctx, intent)
	}

	rawEntities := make([]string, 0, len(entities))
	for _, e := range entities {
		rawEntities = append(rawEntities, e.Value)
	}

	semanticWeight, graphWeight := weightsForStrategy(strategy)
	return ptypes.ProcessedQuery{
		OriginalQuery:   query,
		NormalizedQuery: corrected,
		SpellCorrected:  spellCorrected,
		Intent:          intent,
		Complexity:      complexity,
		Entities:        entities,
		RawEntities:     rawEntities,
		Keywords:        keywords,
		Concepts:        concepts,
		SearchStrategy:  strategy,
		SemanticWeight:  semanticWeight,
		GraphWeight:     graphWeight,
		ConfidenceScore: confidence,
		ExpandedQueries: expanded,
	}
}

// weightsForStrategy reports the semantic/graph fusion-weight split for a
// chosen strategy, mirroring pkg/hybrid's own per-strategy weighting so
// ProcessedQuery reports the split the engine will apply.
func weightsForStrategy(strategy ptypes.QueryType) (float64, float64) {
	switch strategy {
	case ptypes.QueryTypeSemanticOnly:
		return 1, 0
	case ptypes.QueryTypeGraphOnly:
		return 0, 1
	case ptypes.QueryTypeSemanticThenGraph:
		return 0.7, 0.3
	case ptypes.QueryTypeGraphThenSemantic:
		return 0.5, 0.5
	default:
		return 0.6, 0.4
	}
}

func normalizeQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	normalized = punctuationRe.ReplaceAllString(normalized, "")
	return normalized
}

func spellCorrect(query string) (string, bool) {
	words := strings.Split(query, " ")
	corrected := false
	for i, w := range words {
		if fix, ok := commonCorrections[w]; ok {
			words[i] = fix
			corrected = true
		}
	}
	return strings.Join(words, " "), corrected
}

// detectIntent scores every intent by pattern-match count, breaking ties on
// ptypes.AllIntents' fixed alphabetical order (see DESIGN.md Open Question
// decisions #3), and defaults to IntentSearch below the confidence threshold.
func (a *Analyzer) detectIntent(query string) (ptypes.QueryIntent, float64) {
	lower := strings.ToLower(query)
	scores := make(map[ptypes.QueryIntent]float64)

	for _, intent := range ptypes.AllIntents {
		for _, pattern := range intentPatterns[intent] {
			if pattern.MatchString(lower) {
				scores[intent]++
			}
		}
	}

	if len(scores) == 0 {
		return ptypes.IntentSearch, 0.0
	}

	var best ptypes.QueryIntent
	bestScore := -1.0
	for _, intent := range ptypes.AllIntents {
		if s, ok := scores[intent]; ok && s > bestScore {
			best = intent
			bestScore = s
		}
	}

	confidence := bestScore / 3.0
	if confidence > 1.0 {
		confidence = 1.0
	}

	threshold := a.config.IntentConfidenceThreshold
	if threshold == 0 {
		threshold = 0.7
	}
	if confidence < threshold {
		return ptypes.IntentSearch, confidence
	}
	return best, confidence
}

func extractEntities(query string) []ptypes.Entity {
	lower := strings.ToLower(query)
	var entities []ptypes.Entity

	names := make([]string, 0, len(techPatterns))
	for name := range techPatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if techPatterns[name].MatchString(lower) {
			entities = append(entities, ptypes.Entity{Type: "technology", Value: name, Confidence: 0.9})
		}
	}

	names = names[:0]
	for name := range conceptPatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if conceptPatterns[name].MatchString(lower) {
			entities = append(entities, ptypes.Entity{Type: "concept", Value: name, Confidence: 0.85})
		}
	}

	return entities
}

func extractKeywords(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	var keywords []string
	for _, w := range words {
		if !stopWords[w] && len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

func extractConcepts(query string, entities []ptypes.Entity) []string {
	var concepts []string
	seen := make(map[string]bool)
	for _, e := range entities {
		if e.Type == "concept" && !seen[e.Value] {
			concepts = append(concepts, e.Value)
			seen[e.Value] = true
		}
	}

	lower := strings.ToLower(query)
	names := make([]string, 0, len(conceptSynonyms))
	for name := range conceptSynonyms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, concept := range names {
		matched := strings.Contains(lower, concept)
		if !matched {
			for _, syn := range conceptSynonyms[concept] {
				if strings.Contains(lower, syn) {
					matched = true
					break
				}
			}
		}
		if matched && !seen[concept] {
			concepts = append(concepts, concept)
			seen[concept] = true
		}
	}

	return concepts
}

func assessComplexity(query string, entities []ptypes.Entity, concepts []string) ptypes.QueryComplexity {
	if isCompound(query) {
		return ptypes.ComplexityCompound
	}

	words := strings.Fields(query)
	wordCount := len(words)
	entityCount := len(entities)
	conceptCount := len(concepts)

	score := 0
	switch {
	case wordCount > 10:
		score += 2
	case wordCount > 5:
		score++
	}
	switch {
	case entityCount > 3:
		score += 2
	case entityCount > 1:
		score++
	}
	if conceptCount > 2 {
		score++
	}

	switch {
	case score >= 4:
		return ptypes.ComplexityComplex
	case score >= 2:
		return ptypes.ComplexityModerate
	default:
		return ptypes.ComplexitySimple
	}
}

// isCompound reports whether the query joins multiple clauses with a
// coordinating connector, per spec.md step 7.
func isCompound(query string) bool {
	padded := " " + strings.ToLower(query) + " "
	for _, marker := range compoundMarkers {
		if strings.Contains(padded, marker) {
			return true
		}
	}
	return false
}

func (a *Analyzer) determineStrategy(intent ptypes.QueryIntent, complexity ptypes.QueryComplexity, concepts []string) ptypes.QueryType {
	switch intent {
	case ptypes.IntentExplain:
		return ptypes.QueryTypeConceptExpansion
	case ptypes.IntentCompare:
		return ptypes.QueryTypeGraphThenSemantic
	case ptypes.IntentAnalyze:
		return ptypes.QueryTypeHybridBalanced
	case ptypes.IntentTroubleshoot:
		return ptypes.QueryTypeSemanticThenGraph
	}

	switch complexity {
	case ptypes.ComplexityComplex:
		return ptypes.QueryTypeHybridBalanced
	case ptypes.ComplexityCompound:
		return ptypes.QueryTypeConceptExpansion
	}

	switch {
	case len(concepts) > 2:
		return ptypes.QueryTypeGraphThenSemantic
	case len(concepts) > 0:
		return ptypes.QueryTypeSemanticThenGraph
	}

	return ptypes.QueryTypeSemanticOnly
}

func (a *Analyzer) expandQuery(query string, intent ptypes.QueryIntent, concepts []string) []string {
	var expanded []string

	var synonymWords []string
	for _, word := range strings.Fields(query) {
		names := make([]string, 0, len(conceptSynonyms))
		for name := range conceptSynonyms {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, concept := range names {
			if word == concept || contains(conceptSynonyms[concept], word) {
				synonymWords = append(synonymWords, conceptSynonyms[concept]...)
				break
			}
		}
	}
	if len(synonymWords) > 0 {
		limit := 3
		if limit > len(synonymWords) {
			limit = len(synonymWords)
		}
		expanded = append(expanded, query+" "+strings.Join(synonymWords[:limit], " "))
	}

	switch intent {
	case ptypes.IntentTroubleshoot:
		expanded = append(expanded, query+" solution fix")
	case ptypes.IntentTutorial:
		expanded = append(expanded, query+" step by step guide")
	case ptypes.IntentExample:
		expanded = append(expanded, query+" code sample demo")
	}

	if len(concepts) > 0 {
		limit := 2
		if limit > len(concepts) {
			limit = len(concepts)
		}
		for _, concept := range concepts[:limit] {
			expanded = append(expanded, query+" "+concept+" tutorial")
			expanded = append(expanded, query+" "+concept+" example")
		}
	}

	if len(expanded) > a.config.MaxQueryExpansions {
		expanded = expanded[:a.config.MaxQueryExpansions]
	}
	return expanded
}

// applyContext refines the chosen strategy using session history and
// preferences.
func (a *Analyzer) applyContext(strategy ptypes.QueryType, qctx *ptypes.QueryContext, intent ptypes.QueryIntent) ptypes.QueryType {
	if len(qctx.PreviousQueries) > 0 {
		last := qctx.PreviousQueries[len(qctx.PreviousQueries)-1]
		if containsAny(last, "more", "details", "explain") {
			return ptypes.QueryTypeGraphThenSemantic
		}

		windowStart := len(qctx.PreviousQueries) - a.config.ContextWindowSize
		if windowStart < 0 {
			windowStart = 0
		}
		recent := qctx.PreviousQueries[windowStart:]
		if len(recent) > 1 && intent == ptypes.IntentSearch {
			return ptypes.QueryTypeSemanticOnly
		}
	}

	if qctx.Preferences != nil {
		if v, ok := qctx.Preferences["prefer_examples"].(bool); ok && v {
			return ptypes.QueryTypeSemanticThenGraph
		}
		if v, ok := qctx.Preferences["prefer_concepts"].(bool); ok && v {
			return ptypes.QueryTypeConceptExpansion
		}
	}

	return strategy
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
