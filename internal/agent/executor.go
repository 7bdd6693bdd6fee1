package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
	"github.com/kestrellabs/kestrel/internal/search"
)

// Limits are the collaborator-side size knobs. Compact mode scales these
// down for small local models; the loop's control logic is identical in
// both modes.
type Limits struct {
	MaxSearchResults  int
	MaxPages          int
	MaxContentChars   int
	MaxAnalysisTokens int
	Compact           bool
}

// Executor resolves one query: search, extract page content, analyze with
// the model. It degrades instead of failing: a blocked page falls back to
// snippets, a failed model call falls back to raw search material, and a
// failed search still yields an explanatory Finding so the batch is never
// aborted.
type Executor struct {
	gw        Gateway
	searcher  Searcher
	extractor PageExtractor
	limits    Limits
	logger    *zap.Logger
	emit      EmitFunc
}

func NewExecutor(gw Gateway, searcher Searcher, extractor PageExtractor, limits Limits, logger *zap.Logger, emit EmitFunc) *Executor {
	if emit == nil {
		emit = func(string, string) {}
	}
	return &Executor{
		gw:        gw,
		searcher:  searcher,
		extractor: extractor,
		limits:    limits,
		logger:    logger,
		emit:      emit,
	}
}

// Execute runs one research query and always returns a Finding.
func (e *Executor) Execute(ctx context.Context, query string, iteration int) Finding {
	e.emit("search", fmt.Sprintf("Searching: %s", query))

	results, err := e.searcher.Search(ctx, query, e.limits.MaxSearchResults)
	if err != nil || len(results) == 0 {
		if err != nil {
			e.logger.Warn("Search failed", zap.String("query", query), zap.Error(err))
		}
		e.emit("search", fmt.Sprintf("No results found for: %s", query))
		return Finding{
			Query:     query,
			Analysis:  "No search results found for this query.",
			Iteration: iteration,
			Degraded:  true,
		}
	}
	e.emit("search", fmt.Sprintf("Found %d results", len(results)))

	maxSnippet := 300
	if e.limits.Compact {
		maxSnippet = 100
	}
	var snippets strings.Builder
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		fmt.Fprintf(&snippets, "- [%s](%s)\n  %s\n", r.Title, r.URL, truncate(r.Snippet, maxSnippet))
		sources = append(sources, Source{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}

	e.emit("extract", fmt.Sprintf("Extracting content from top %d sources", e.limits.MaxPages))
	webContent := e.gatherContent(ctx, results)
	if webContent == "" {
		webContent = "No detailed content could be extracted. Use search snippets above."
	}

	e.emit("analyze", "Analyzing findings")
	analysis, err := e.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(e.limits.Compact)},
		{Role: llm.RoleUser, Content: analysisPrompt(query, snippets.String(), truncate(webContent, e.limits.MaxContentChars), e.limits.Compact)},
	}, llm.Options{Temperature: 0.3, MaxTokens: e.limits.MaxAnalysisTokens})
	if err != nil {
		e.logger.Warn("Analysis call failed, keeping raw search material",
			zap.String("query", query), zap.Error(err))
		return Finding{
			Query:     query,
			Analysis:  "Analysis unavailable. Raw search results:\n" + snippets.String(),
			Sources:   sources,
			Iteration: iteration,
		}
	}
	e.emit("analyze", "Analysis complete")

	return Finding{
		Query:     query,
		Analysis:  analysis,
		Sources:   sources,
		Iteration: iteration,
	}
}

// gatherContent extracts the top pages and concatenates their text in
// search-result order. Extraction failures are already absorbed by the
// extractor; an empty result just means snippet-only analysis.
func (e *Executor) gatherContent(ctx context.Context, results []search.Result) string {
	top := results
	if len(top) > e.limits.MaxPages {
		top = top[:e.limits.MaxPages]
	}
	urls := make([]string, 0, len(top))
	for _, r := range top {
		urls = append(urls, r.URL)
	}

	charsPerPage := 3000
	if e.limits.Compact {
		charsPerPage = 1500
	}
	extracted := e.extractor.ExtractMultiple(ctx, urls, charsPerPage)

	var sb strings.Builder
	for _, r := range top {
		text, ok := extracted[r.URL]
		if !ok || text == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n--- SOURCE: %s (%s) ---\n%s\n", r.Title, r.URL, text)
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
