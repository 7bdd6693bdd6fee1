package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
)

// Planner decomposes a goal into an ordered list of search queries.
type Planner struct {
	gw     Gateway
	logger *zap.Logger
}

func NewPlanner(gw Gateway, logger *zap.Logger) *Planner {
	return &Planner{gw: gw, logger: logger}
}

// Plan asks the model for numQueries search queries, one per line, and
// applies query hygiene (length floor, case-insensitive dedupe, cap at
// numQueries). Plan never returns an error; a failed model call yields an
// empty slice and the loop decides what that means.
func (p *Planner) Plan(ctx context.Context, goal, depth string, numQueries int, compact bool) []string {
	maxTokens := 500
	if compact {
		maxTokens = 300
	}

	resp, err := p.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(compact)},
		{Role: llm.RoleUser, Content: planningPrompt(goal, depth, numQueries, compact)},
	}, llm.Options{Temperature: 0.4, MaxTokens: maxTokens})
	if err != nil {
		p.logger.Warn("Planning call failed", zap.Error(err))
		return nil
	}

	var lines []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return sanitizeQueries(lines, numQueries)
}
