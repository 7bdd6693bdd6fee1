package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
	"github.com/kestrellabs/kestrel/internal/search"
)

// fakeGateway scripts model responses by recognizing the prompt kind from
// its wording.
type fakeGateway struct {
	mu sync.Mutex

	plan        string
	planErr     error
	analysis    string
	analysisErr error
	reflections []string
	reflectIdx  int
	title       string
	report      string
	reportErr   error
	grounded    string

	calls map[string]int
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Generate(_ context.Context, msgs []llm.Message, _ llm.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}

	prompt := msgs[len(msgs)-1].Content
	switch {
	case strings.Contains(prompt, "fact-checker"):
		g.calls["grounded"]++
		if g.grounded == "" {
			return "PASS", nil
		}
		return g.grounded, nil
	case strings.Contains(prompt, "report title"):
		g.calls["title"]++
		if g.title == "" {
			return "Test Report", nil
		}
		return g.title, nil
	case strings.Contains(prompt, "ALL RESEARCH FINDINGS"):
		g.calls["report"]++
		if g.reportErr != nil {
			return "", g.reportErr
		}
		return g.report, nil
	case strings.Contains(prompt, "COMPLETENESS"):
		g.calls["reflect"]++
		if g.reflectIdx >= len(g.reflections) {
			return "VERDICT: SUFFICIENT", nil
		}
		resp := g.reflections[g.reflectIdx]
		g.reflectIdx++
		return resp, nil
	case strings.Contains(prompt, "RESEARCH QUERY"):
		g.calls["analysis"]++
		if g.analysisErr != nil {
			return "", g.analysisErr
		}
		return g.analysis, nil
	case strings.Contains(prompt, "search queries"):
		g.calls["plan"]++
		if g.planErr != nil {
			return "", g.planErr
		}
		return g.plan, nil
	}
	return "", fmt.Errorf("unrecognized prompt: %.60s", prompt)
}

type fakeSearcher struct {
	results []search.Result
	err     error
	// cancelAfter cancels the run context after this many calls (0 = never).
	cancelAfter int
	cancel      context.CancelFunc
	calls       int
}

func (s *fakeSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	s.calls++
	if s.cancelAfter > 0 && s.calls >= s.cancelAfter && s.cancel != nil {
		s.cancel()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type fakeExtractor struct {
	pages map[string]string
}

func (e *fakeExtractor) ExtractMultiple(_ context.Context, urls []string, _ int) map[string]string {
	out := make(map[string]string)
	for _, u := range urls {
		if text, ok := e.pages[u]; ok {
			out[u] = text
		}
	}
	return out
}

func testSettings(maxIterations int) Settings {
	return Settings{
		MaxIterations:   maxIterations,
		Depth:           "quick",
		QueryTarget:     3,
		MaxReportTokens: 2000,
		Limits: Limits{
			MaxSearchResults:  3,
			MaxPages:          2,
			MaxContentChars:   4000,
			MaxAnalysisTokens: 500,
		},
	}
}

func defaultResults() []search.Result {
	return []search.Result{
		{Title: "First hit", URL: "https://example.com/a", Snippet: "snippet a"},
		{Title: "Second hit", URL: "https://example.com/b", Snippet: "snippet b"},
	}
}

const threeQueryPlan = "history of the example protocol\nadoption of the example protocol\ncriticism of the example protocol"

func TestRunFollowUpReentersResearch(t *testing.T) {
	gw := &fakeGateway{
		plan:     threeQueryPlan,
		analysis: "analysis text for the query",
		reflections: []string{
			"COMPLETENESS: 6\nDEPTH: 5\nVERDICT: MORE\nADDITIONAL_QUERIES:\nfuture roadmap of the example protocol",
			"COMPLETENESS: 9\nDEPTH: 8\nVERDICT: SUFFICIENT",
		},
		report: "## Report body",
	}
	searcher := &fakeSearcher{results: defaultResults()}
	loop := NewLoop(gw, searcher, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(context.Background(), "explain the example protocol")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "Test Report", report.Title)
	assert.Equal(t, "## Report body", report.Body)

	snap := loop.Snapshot()
	assert.Equal(t, PhaseComplete, snap.Phase)
	assert.Equal(t, 2, snap.Iteration)
	assert.Len(t, snap.Reflections, 2)
	// Three planned queries plus one follow-up.
	assert.Equal(t, 4, snap.FindingsCount)

	findings := loop.Memory().Findings()
	require.Len(t, findings, 4)
	assert.Equal(t, "future roadmap of the example protocol", findings[3].Query)
	assert.Equal(t, 2, findings[3].Iteration)
	for _, f := range findings[:3] {
		assert.Equal(t, 1, f.Iteration)
	}
}

func TestRunIterationCapIsAbsolute(t *testing.T) {
	gw := &fakeGateway{
		plan:     threeQueryPlan,
		analysis: "analysis text",
		reflections: []string{
			"COMPLETENESS: 3\nDEPTH: 3\nVERDICT: MORE\nADDITIONAL_QUERIES:\nquery that will never be executed",
		},
		report: "## Report body",
	}
	loop := NewLoop(gw, &fakeSearcher{results: defaultResults()}, &fakeExtractor{}, testSettings(1), zap.NewNop())

	report, err := loop.Run(context.Background(), "some research goal")
	require.NoError(t, err)
	require.NotNil(t, report)

	snap := loop.Snapshot()
	assert.Equal(t, 1, snap.Iteration)
	assert.Equal(t, 3, snap.FindingsCount)
	assert.Equal(t, 1, gw.calls["reflect"])
}

func TestRunPlanningFailure(t *testing.T) {
	gw := &fakeGateway{planErr: errors.New("model unreachable")}
	loop := NewLoop(gw, &fakeSearcher{}, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(context.Background(), "some research goal")
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrNoQueries)
	assert.Equal(t, PhaseFailed, loop.Status())
}

func TestRunNoProgressWhenEverySearchFails(t *testing.T) {
	gw := &fakeGateway{plan: threeQueryPlan}
	loop := NewLoop(gw, &fakeSearcher{err: errors.New("network down")}, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(context.Background(), "some research goal")
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, PhaseFailed, loop.Status())
	// One finding per query was still recorded.
	assert.Equal(t, 3, loop.Memory().FindingsCount())
}

func TestRunCancellationSynthesizesPartialWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{
		plan:     threeQueryPlan,
		analysis: "analysis text",
		report:   "## Partial report",
	}
	searcher := &fakeSearcher{results: defaultResults(), cancelAfter: 1, cancel: cancel}
	loop := NewLoop(gw, searcher, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(ctx, "some research goal")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "## Partial report", report.Body)

	// Only the first query ran before the cancel was observed.
	assert.Equal(t, 1, loop.Memory().FindingsCount())
	assert.Equal(t, PhaseComplete, loop.Status())
	assert.Zero(t, gw.calls["reflect"])
}

func TestRunCancellationWithNoFindingsFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := &fakeGateway{plan: threeQueryPlan}
	loop := NewLoop(gw, &fakeSearcher{results: defaultResults()}, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(ctx, "some research goal")
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, PhaseFailed, loop.Status())
}

func TestRunSynthesisFailureKeepsMemory(t *testing.T) {
	gw := &fakeGateway{
		plan:      threeQueryPlan,
		analysis:  "analysis text",
		reportErr: errors.New("model timed out"),
	}
	loop := NewLoop(gw, &fakeSearcher{results: defaultResults()}, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(context.Background(), "some research goal")
	assert.Nil(t, report)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)

	// Findings survive for manual recovery.
	assert.Equal(t, 3, loop.Memory().FindingsCount())
	assert.NotEqual(t, "No findings yet.", loop.Memory().FindingsSummary())
	assert.Equal(t, PhaseFailed, loop.Status())
}

func TestRunStopsWhenFollowUpsAlreadyExecuted(t *testing.T) {
	gw := &fakeGateway{
		plan:     threeQueryPlan,
		analysis: "analysis text",
		reflections: []string{
			"COMPLETENESS: 4\nDEPTH: 4\nVERDICT: MORE\nADDITIONAL_QUERIES:\nhistory of the example protocol",
		},
		report: "## Report body",
	}
	loop := NewLoop(gw, &fakeSearcher{results: defaultResults()}, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(context.Background(), "some research goal")
	require.NoError(t, err)
	require.NotNil(t, report)
	// The only follow-up repeated an executed query, so no second iteration.
	assert.Equal(t, 1, loop.Snapshot().Iteration)
	assert.Equal(t, 3, loop.Memory().FindingsCount())
}

func TestRunGroundednessFlagSurfacesInSnapshot(t *testing.T) {
	gw := &fakeGateway{
		plan:        threeQueryPlan,
		analysis:    "analysis text",
		reflections: []string{"VERDICT: SUFFICIENT"},
		report:      "## Report body",
		grounded:    "FAIL",
	}
	loop := NewLoop(gw, &fakeSearcher{results: defaultResults()}, &fakeExtractor{}, testSettings(3), zap.NewNop())

	report, err := loop.Run(context.Background(), "some research goal")
	require.NoError(t, err)
	require.NotNil(t, report)

	snap := loop.Snapshot()
	require.NotNil(t, snap.Grounded)
	assert.False(t, *snap.Grounded)
	assert.Equal(t, PhaseComplete, snap.Phase)
}

func TestRunEmitsLiveEvents(t *testing.T) {
	var mu sync.Mutex
	var phases []string
	emit := func(phase, _ string) {
		mu.Lock()
		phases = append(phases, phase)
		mu.Unlock()
	}

	gw := &fakeGateway{
		plan:        threeQueryPlan,
		analysis:    "analysis text",
		reflections: []string{"VERDICT: SUFFICIENT"},
		report:      "## Report body",
	}
	loop := NewLoop(gw, &fakeSearcher{results: defaultResults()}, &fakeExtractor{}, testSettings(3), zap.NewNop(), WithEmit(emit))

	_, err := loop.Run(context.Background(), "some research goal")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(phases, " ")
	for _, want := range []string{"init", "plan", "execute", "search", "analyze", "reflect", "synthesize", "complete"} {
		assert.Contains(t, joined, want)
	}
}
