// Package evals benchmarks the research agent against a scenario suite.
// An LLM judge scores each generated report for relevance and accuracy;
// static checks cover keywords and length.
package evals

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kestrellabs/kestrel/internal/agent"
	"github.com/kestrellabs/kestrel/internal/llm"
)

// Case is one benchmark scenario.
type Case struct {
	Name          string   `yaml:"name"`
	Goal          string   `yaml:"goal"`
	ExpectedFacts []string `yaml:"expected_facts"`
	MinLength     int      `yaml:"min_length"`
}

// Suite is a set of scenarios loaded from YAML.
type Suite struct {
	Cases []Case `yaml:"cases"`
}

// LoadSuite reads a scenario file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eval suite: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse eval suite: %w", err)
	}
	if len(s.Cases) == 0 {
		return nil, fmt.Errorf("eval suite %s has no cases", path)
	}
	for i, c := range s.Cases {
		if c.Goal == "" {
			return nil, fmt.Errorf("eval case %d has no goal", i)
		}
	}
	return &s, nil
}

// Evaluation is the judge's verdict on one report.
type Evaluation struct {
	Relevance  int    `json:"relevance"`
	Accuracy   int    `json:"accuracy"`
	Formatting string `json:"formatting"` // PASS | FAIL
	Feedback   string `json:"feedback"`
	Raw        string `json:"-"`
}

// Keys tolerate markdown decoration ("**RELEVANCE:** 9") and bracketed
// scores ("RELEVANCE: [8]"), same posture as reflection parsing.
var (
	relevanceRe  = regexp.MustCompile(`(?i)RELEVANCE\**\s*:\**\s*\[?\s*(\d+)`)
	accuracyRe   = regexp.MustCompile(`(?i)ACCURACY\**\s*:\**\s*\[?\s*(\d+)`)
	formattingRe = regexp.MustCompile(`(?i)FORMATTING\**\s*:\**\s*\[?\s*(PASS|FAIL)`)
	feedbackRe   = regexp.MustCompile(`(?is)FEEDBACK\**\s*:\**\s*(.+)$`)
)

// ParseEvaluation extracts the judge's scores with the same tolerant
// posture as reflection parsing: malformed output yields zero scores and
// a FAIL, never an error.
func ParseEvaluation(raw string) Evaluation {
	ev := Evaluation{Formatting: "FAIL", Feedback: "Parsing failed.", Raw: raw}
	if m := relevanceRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ev.Relevance = n
		}
	}
	if m := accuracyRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ev.Accuracy = n
		}
	}
	if m := formattingRe.FindStringSubmatch(raw); m != nil {
		ev.Formatting = strings.ToUpper(m[1])
	}
	if m := feedbackRe.FindStringSubmatch(raw); m != nil {
		ev.Feedback = strings.TrimSpace(m[1])
	}
	return ev
}

const judgeTemplate = `You are an expert AI evaluator benchmarking research reports.
Below is a generated report responding to a specific research question.

QUESTION: %s

EXPECTED FACTS TO COVER:
%s

=== GENERATED REPORT ===
%s
========================

Please evaluate the report on the following criteria. Format your response exactly as shown below.

RELEVANCE: [Score 1-10] (Did it answer the question directly without drifting?)
ACCURACY: [Score 1-10] (Did it cover the expected facts?)
FORMATTING: [PASS/FAIL] (Is it a well-structured markdown document?)
FEEDBACK: [1-2 sentences explaining the scores]`

// Judge scores reports with a model. Use a high-capacity backend for
// consistent judging.
type Judge struct {
	gw     agent.Gateway
	logger *zap.Logger
}

func NewJudge(gw agent.Gateway, logger *zap.Logger) *Judge {
	return &Judge{gw: gw, logger: logger}
}

// Benchmark asks the judge model to score one report.
func (j *Judge) Benchmark(ctx context.Context, question string, expectedFacts []string, report string) Evaluation {
	facts := make([]string, 0, len(expectedFacts))
	for _, f := range expectedFacts {
		facts = append(facts, "- "+f)
	}

	resp, err := j.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(judgeTemplate, question, strings.Join(facts, "\n"), report)},
	}, llm.Options{Temperature: 0.1, MaxTokens: 300})
	if err != nil {
		j.logger.Warn("Judge call failed", zap.Error(err))
		resp = ""
	}
	return ParseEvaluation(resp)
}

// Result is the outcome of one benchmark case.
type Result struct {
	Case       Case       `json:"case"`
	Title      string     `json:"title"`
	Length     int        `json:"length"`
	Evaluation Evaluation `json:"evaluation"`
	Err        string     `json:"error,omitempty"`
	Passed     bool       `json:"passed"`
}

// RunFunc executes one research goal and returns the report.
type RunFunc func(ctx context.Context, goal string) (*agent.Report, error)

// Runner drives the suite: run the agent, judge the output.
type Runner struct {
	judge  *Judge
	run    RunFunc
	logger *zap.Logger
}

func NewRunner(judge *Judge, run RunFunc, logger *zap.Logger) *Runner {
	return &Runner{judge: judge, run: run, logger: logger}
}

// passing thresholds for the judge's 1-10 scores
const minJudgeScore = 6

// Run executes every case in order. A failed run records the error and
// moves on to the next case.
func (r *Runner) Run(ctx context.Context, suite *Suite) []Result {
	results := make([]Result, 0, len(suite.Cases))
	for _, c := range suite.Cases {
		r.logger.Info("Running eval case", zap.String("name", c.Name))

		report, err := r.run(ctx, c.Goal)
		if err != nil {
			results = append(results, Result{Case: c, Err: err.Error()})
			continue
		}

		ev := r.judge.Benchmark(ctx, c.Goal, c.ExpectedFacts, report.Body)
		res := Result{
			Case:       c,
			Title:      report.Title,
			Length:     len(report.Body),
			Evaluation: ev,
		}
		res.Passed = ev.Formatting == "PASS" &&
			ev.Relevance >= minJudgeScore &&
			ev.Accuracy >= minJudgeScore &&
			len(report.Body) >= c.MinLength
		results = append(results, res)
	}
	return results
}
