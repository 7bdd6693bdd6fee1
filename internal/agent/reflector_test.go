package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/llm"
)

func TestShouldContinue(t *testing.T) {
	base := Reflection{
		Completeness:    5,
		Depth:           5,
		Verdict:         VerdictMore,
		FollowUpQueries: []string{"another angle on the topic"},
	}

	tests := map[string]struct {
		mutate        func(*Reflection)
		iteration     int
		maxIterations int
		want          bool
	}{
		"happy path": {
			mutate: func(*Reflection) {}, iteration: 1, maxIterations: 3, want: true,
		},
		"iteration cap is absolute": {
			mutate: func(*Reflection) {}, iteration: 3, maxIterations: 3, want: false,
		},
		"cap beats perfect continue signal": {
			mutate: func(r *Reflection) { r.Completeness, r.Depth = 1, 1 },
			iteration: 1, maxIterations: 1, want: false,
		},
		"sufficient verdict stops": {
			mutate: func(r *Reflection) { r.Verdict = VerdictSufficient },
			iteration: 1, maxIterations: 3, want: false,
		},
		"empty follow-ups stop even with MORE": {
			mutate: func(r *Reflection) { r.FollowUpQueries = nil },
			iteration: 1, maxIterations: 3, want: false,
		},
		"high average score stops": {
			mutate: func(r *Reflection) { r.Completeness, r.Depth = 8, 8 },
			iteration: 1, maxIterations: 3, want: false,
		},
		"average just below threshold continues": {
			mutate: func(r *Reflection) { r.Completeness, r.Depth = 8, 7 },
			iteration: 1, maxIterations: 3, want: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := base
			r.FollowUpQueries = append([]string(nil), base.FollowUpQueries...)
			tt.mutate(&r)
			assert.Equal(t, tt.want, shouldContinue(r, tt.iteration, tt.maxIterations))
		})
	}
}

// failingGateway errors on every call.
type failingGateway struct{ err error }

func (g *failingGateway) Name() string { return "failing" }

func (g *failingGateway) Generate(context.Context, []llm.Message, llm.Options) (string, error) {
	return "", g.err
}

func TestReflectorEvaluateFailureYieldsDefaults(t *testing.T) {
	failing := &failingGateway{err: errors.New("model unreachable")}

	r := NewReflector(failing, zap.NewNop()).Evaluate(context.Background(), "goal", "summary", 1, false)
	assert.Equal(t, 5, r.Completeness)
	assert.Equal(t, 5, r.Depth)
	assert.Equal(t, VerdictMore, r.Verdict)
	assert.Empty(t, r.FollowUpQueries)
	assert.Equal(t, 1, r.Iteration)
}

func TestReflectorEvaluateParsesResponse(t *testing.T) {
	gw := &fakeGateway{reflections: []string{"COMPLETENESS: 7\nDEPTH: 8\nGAPS: cost data\nVERDICT: SUFFICIENT"}}

	r := NewReflector(gw, zap.NewNop()).Evaluate(context.Background(), "goal", "summary", 2, false)
	assert.Equal(t, 7, r.Completeness)
	assert.Equal(t, 8, r.Depth)
	assert.Equal(t, "cost data", r.Gaps)
	assert.Equal(t, VerdictSufficient, r.Verdict)
	assert.Equal(t, 2, r.Iteration)
}
