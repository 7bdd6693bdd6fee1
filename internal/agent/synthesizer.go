package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
)

// Synthesizer produces the final report from the full findings summary.
type Synthesizer struct {
	gw     Gateway
	logger *zap.Logger
}

func NewSynthesizer(gw Gateway, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{gw: gw, logger: logger}
}

// Synthesize generates a title and then the report body. A failed title
// call falls back to the goal; a failed body call is a SynthesisError and
// the caller keeps working memory intact for recovery.
func (s *Synthesizer) Synthesize(ctx context.Context, goal, allFindings string, sourceCount, maxReportTokens int, compact bool) (*Report, error) {
	title, err := s.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: titlePrompt(goal)},
	}, llm.Options{Temperature: 0.5, MaxTokens: 100})
	if err != nil {
		s.logger.Warn("Title generation failed, using goal as title", zap.Error(err))
		title = goal
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}

	body, err := s.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(compact)},
		{Role: llm.RoleUser, Content: reportPrompt(goal, allFindings, title, compact)},
	}, llm.Options{Temperature: 0.4, MaxTokens: maxReportTokens})
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	return &Report{
		Title:       title,
		Body:        body,
		SourceCount: sourceCount,
	}, nil
}
