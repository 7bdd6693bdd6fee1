package evals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/agent"
	"github.com/kestrellabs/kestrel/internal/llm"
)

type judgeGateway struct {
	response string
	err      error
	prompts  []string
}

func (g *judgeGateway) Generate(_ context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	return g.response, g.err
}

func (g *judgeGateway) Name() string { return "judge" }

func writeSuite(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSuite(t *testing.T) {
	path := writeSuite(t, `cases:
  - name: rust-vs-go
    goal: Compare Rust and Go for systems programming
    expected_facts:
      - memory safety
      - garbage collection
    min_length: 500
  - name: quantum
    goal: Summarize recent advances in quantum error correction
`)

	suite, err := LoadSuite(path)
	require.NoError(t, err)
	require.Len(t, suite.Cases, 2)
	assert.Equal(t, "rust-vs-go", suite.Cases[0].Name)
	assert.Equal(t, []string{"memory safety", "garbage collection"}, suite.Cases[0].ExpectedFacts)
	assert.Equal(t, 500, suite.Cases[0].MinLength)
	assert.Zero(t, suite.Cases[1].MinLength)
}

func TestLoadSuiteRejectsEmptyAndInvalid(t *testing.T) {
	_, err := LoadSuite(writeSuite(t, "cases: []"))
	assert.ErrorContains(t, err, "no cases")

	_, err = LoadSuite(writeSuite(t, "cases:\n  - name: missing-goal\n"))
	assert.ErrorContains(t, err, "no goal")

	_, err = LoadSuite(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseEvaluation(t *testing.T) {
	ev := ParseEvaluation(`RELEVANCE: 8
ACCURACY: 7
FORMATTING: PASS
FEEDBACK: Solid coverage of the main points.`)

	assert.Equal(t, 8, ev.Relevance)
	assert.Equal(t, 7, ev.Accuracy)
	assert.Equal(t, "PASS", ev.Formatting)
	assert.Equal(t, "Solid coverage of the main points.", ev.Feedback)
}

func TestParseEvaluationTolerant(t *testing.T) {
	// markdown decoration and lowercase keywords still parse
	ev := ParseEvaluation("**relevance:** 9\n**accuracy:** 6\nformatting: pass\nfeedback: fine")
	assert.Equal(t, 9, ev.Relevance)
	assert.Equal(t, 6, ev.Accuracy)
	assert.Equal(t, "PASS", ev.Formatting)

	// bracketed scores, the literal shape the judge template shows
	ev = ParseEvaluation("RELEVANCE: [8]\nACCURACY: [7]\nFORMATTING: [PASS]\nFEEDBACK: ok")
	assert.Equal(t, 8, ev.Relevance)
	assert.Equal(t, 7, ev.Accuracy)
	assert.Equal(t, "PASS", ev.Formatting)

	// garbage defaults to zero scores and FAIL
	ev = ParseEvaluation("the model rambled instead of scoring")
	assert.Zero(t, ev.Relevance)
	assert.Zero(t, ev.Accuracy)
	assert.Equal(t, "FAIL", ev.Formatting)
	assert.Equal(t, "Parsing failed.", ev.Feedback)
}

func TestJudgeBenchmark(t *testing.T) {
	gw := &judgeGateway{response: "RELEVANCE: 9\nACCURACY: 8\nFORMATTING: PASS\nFEEDBACK: Good."}
	judge := NewJudge(gw, zap.NewNop())

	ev := judge.Benchmark(context.Background(), "Compare X and Y", []string{"fact one", "fact two"}, "# Report\n\nbody")
	assert.Equal(t, 9, ev.Relevance)
	assert.Equal(t, "PASS", ev.Formatting)

	require.Len(t, gw.prompts, 1)
	assert.Contains(t, gw.prompts[0], "Compare X and Y")
	assert.Contains(t, gw.prompts[0], "- fact one")
	assert.Contains(t, gw.prompts[0], "# Report")
}

func TestJudgeBenchmarkGatewayFailure(t *testing.T) {
	gw := &judgeGateway{err: errors.New("quota exceeded")}
	judge := NewJudge(gw, zap.NewNop())

	ev := judge.Benchmark(context.Background(), "q", nil, "report")
	assert.Equal(t, "FAIL", ev.Formatting)
	assert.Zero(t, ev.Relevance)
}

func TestRunnerScoresSuite(t *testing.T) {
	gw := &judgeGateway{response: "RELEVANCE: 8\nACCURACY: 8\nFORMATTING: PASS\nFEEDBACK: ok"}
	judge := NewJudge(gw, zap.NewNop())

	longBody := "# Findings\n\n" + strings.Repeat("Detailed paragraph about the research topic under study. ", 20)

	run := func(_ context.Context, goal string) (*agent.Report, error) {
		if goal == "broken" {
			return nil, errors.New("provider unreachable")
		}
		return &agent.Report{Title: "T: " + goal, Body: longBody}, nil
	}

	suite := &Suite{Cases: []Case{
		{Name: "ok", Goal: "working goal", MinLength: 100},
		{Name: "too-short", Goal: "short goal", MinLength: len(longBody) + 1},
		{Name: "errored", Goal: "broken"},
	}}

	results := NewRunner(judge, run, zap.NewNop()).Run(context.Background(), suite)
	require.Len(t, results, 3)

	assert.True(t, results[0].Passed)
	assert.Equal(t, "T: working goal", results[0].Title)

	assert.False(t, results[1].Passed, "length gate applies even when the judge passes")

	assert.False(t, results[2].Passed)
	assert.Equal(t, "provider unreachable", results[2].Err)
}

func TestRunnerFailsOnLowJudgeScore(t *testing.T) {
	gw := &judgeGateway{response: "RELEVANCE: 3\nACCURACY: 9\nFORMATTING: PASS\nFEEDBACK: off-topic"}
	judge := NewJudge(gw, zap.NewNop())

	run := func(_ context.Context, _ string) (*agent.Report, error) {
		return &agent.Report{Title: "t", Body: "body"}, nil
	}

	results := NewRunner(judge, run, zap.NewNop()).Run(context.Background(), &Suite{
		Cases: []Case{{Name: "drift", Goal: "g"}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
}
