package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
)

// Guardrails run advisory checks on model output. A failed check is
// logged and surfaced in the run snapshot but never fails the run.
type Guardrails struct {
	gw     Gateway
	logger *zap.Logger
}

func NewGuardrails(gw Gateway, logger *zap.Logger) *Guardrails {
	return &Guardrails{gw: gw, logger: logger}
}

// ValidateReflectionFormat reports whether the raw reflection text carries
// the keys the parser looks for. Small models often drop them, which is
// exactly when the parser falls back to defaults.
func (g *Guardrails) ValidateReflectionFormat(text string) bool {
	lower := strings.ToLower(text)
	for _, key := range []string{"completeness:", "depth:", "verdict:"} {
		if !strings.Contains(lower, key) {
			g.logger.Warn("Reflection missing required key", zap.String("key", key))
			return false
		}
	}
	return true
}

// CheckGroundedness asks the model whether the report fabricates facts not
// present in the research context. Single-token PASS/FAIL probe; any
// response other than FAIL counts as grounded.
func (g *Guardrails) CheckGroundedness(ctx context.Context, report, researchContext string, compact bool) bool {
	maxContext := 8000
	if compact {
		maxContext = 3000
	}

	resp, err := g.gw.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: groundednessPrompt(truncate(researchContext, maxContext), report)},
	}, llm.Options{Temperature: 0.0, MaxTokens: 10})
	if err != nil {
		g.logger.Warn("Groundedness check failed to run", zap.Error(err))
		return true
	}

	if strings.Contains(strings.ToUpper(resp), "FAIL") {
		g.logger.Warn("Groundedness check flagged the report")
		return false
	}
	return true
}
