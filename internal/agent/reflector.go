package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
)

// Reflector evaluates accumulated research and decides whether the loop
// should keep going. This is what makes the agent autonomous: it can
// recognize gaps in its own work and plan additional queries.
type Reflector struct {
	gw     Gateway
	logger *zap.Logger
}

func NewReflector(gw Gateway, logger *zap.Logger) *Reflector {
	return &Reflector{gw: gw, logger: logger}
}

// Evaluate asks the model to score the research so far and parses the
// response tolerantly. A failed model call parses the empty string, which
// yields neutral scores and no follow-up queries, so the loop stops on its
// own rather than erroring.
func (r *Reflector) Evaluate(ctx context.Context, goal, researchSummary string, iteration int, compact bool) Reflection {
	maxTokens := 500
	if compact {
		maxTokens = 300
	}

	resp, err := r.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(compact)},
		{Role: llm.RoleUser, Content: reflectionPrompt(goal, researchSummary, compact)},
	}, llm.Options{Temperature: 0.2, MaxTokens: maxTokens})
	if err != nil {
		r.logger.Warn("Reflection call failed, using defaults", zap.Error(err))
		resp = ""
	}

	reflection := ParseReflection(resp)
	reflection.Iteration = iteration
	return reflection
}

// shouldContinue decides whether the loop re-enters researching. All four
// conditions must hold; the iteration cap is absolute and an empty
// follow-up list is an implicit SUFFICIENT regardless of verdict.
func shouldContinue(r Reflection, iteration, maxIterations int) bool {
	if iteration >= maxIterations {
		return false
	}
	if r.Verdict != VerdictMore || len(r.FollowUpQueries) == 0 {
		return false
	}
	avg := float64(r.Completeness+r.Depth) / 2
	return avg < 8.0
}
