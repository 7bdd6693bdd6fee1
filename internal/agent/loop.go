package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/metrics"
)

// Settings are the per-run knobs the loop consumes. Values come from the
// configuration layer; the loop itself never reads config files.
type Settings struct {
	MaxIterations   int
	Depth           string
	QueryTarget     int
	MaxReportTokens int
	Compact         bool
	Limits          Limits
}

// Loop drives one research run through its phases:
//
//	PLANNING -> RESEARCHING -> REFLECTING -> {RESEARCHING | SYNTHESIZING} -> COMPLETE
//
// FAILED is reachable from any phase. A Loop is the run handle: callers keep
// the pointer and query Status/Snapshot on it while Run executes on another
// goroutine. One Loop serves one run.
type Loop struct {
	gw          Gateway
	planner     *Planner
	executor    *Executor
	reflector   *Reflector
	synthesizer *Synthesizer
	guardrails  *Guardrails
	memory      *WorkingMemory
	settings    Settings
	logger      *zap.Logger
	emit        EmitFunc
}

// Option configures optional Loop behavior.
type Option func(*Loop)

// WithEmit attaches a live-log sink. The function must never block.
func WithEmit(fn EmitFunc) Option {
	return func(l *Loop) { l.emit = fn }
}

func NewLoop(gw Gateway, searcher Searcher, extractor PageExtractor, settings Settings, logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		gw:       gw,
		memory:   NewWorkingMemory(),
		settings: settings,
		logger:   logger,
		emit:     func(string, string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.planner = NewPlanner(gw, logger)
	l.executor = NewExecutor(gw, searcher, extractor, settings.Limits, logger, l.log)
	l.reflector = NewReflector(gw, logger)
	l.synthesizer = NewSynthesizer(gw, logger)
	l.guardrails = NewGuardrails(gw, logger)
	return l
}

// Memory exposes the run's working memory for callers that need the raw
// findings, e.g. after a SynthesisError.
func (l *Loop) Memory() *WorkingMemory { return l.memory }

// Status returns the current phase.
func (l *Loop) Status() Phase { return l.memory.Phase() }

// Snapshot returns a copy of the full run state.
func (l *Loop) Snapshot() Snapshot { return l.memory.Snapshot() }

func (l *Loop) log(phase, message string) {
	l.memory.AddLog(phase, message)
	l.emit(phase, message)
	l.logger.Debug(message, zap.String("phase", phase))
}

// Run executes the research loop for goal and returns the final report.
// Cancellation is cooperative: ctx is checked at iteration and per-query
// boundaries, never mid-call. A cancelled run with at least one finding
// still synthesizes from the partial work; with zero findings it fails.
func (l *Loop) Run(ctx context.Context, goal string) (*Report, error) {
	start := time.Now()
	l.memory.Reset(goal)
	metrics.RunsStarted.WithLabelValues(l.settings.Depth, l.gw.Name()).Inc()

	mode := "FULL"
	if l.settings.Compact {
		mode = "COMPACT"
	}
	l.log("init", fmt.Sprintf("Research agent activated (provider=%s, mode=%s)", l.gw.Name(), mode))
	l.log("init", fmt.Sprintf("Goal: %s", goal))

	// PLANNING
	l.memory.SetPhase(PhasePlanning)
	l.log("plan", "Breaking down the goal into research tasks")

	queries := l.planner.Plan(ctx, goal, l.settings.Depth, l.settings.QueryTarget, l.settings.Compact)
	if len(queries) == 0 {
		return nil, l.fail(ErrNoQueries)
	}
	l.memory.SetPlan(queries)
	l.log("plan", fmt.Sprintf("Plan created with %d research tasks", len(queries)))
	for i, q := range queries {
		l.log("plan", fmt.Sprintf("  %d. %s", i+1, q))
	}

	// RESEARCH + REFLECT loop
	completed := make(map[string]struct{})
	iteration := 0
	cancelled := false

research:
	for iteration < l.settings.MaxIterations && len(queries) > 0 {
		iteration++
		l.memory.SetIteration(iteration)
		l.memory.SetPhase(PhaseResearching)
		l.log("execute", fmt.Sprintf("Iteration %d/%d: executing %d tasks", iteration, l.settings.MaxIterations, len(queries)))

		for i, query := range queries {
			if ctx.Err() != nil {
				cancelled = true
				break research
			}
			l.log("execute", fmt.Sprintf("Task %d/%d: %s", i+1, len(queries), query))
			finding := l.executor.Execute(ctx, query, iteration)
			l.memory.AddFinding(finding)
			completed[strings.ToLower(query)] = struct{}{}
		}

		// A first iteration where every search came up empty means the
		// research capability is not working at all.
		if iteration == 1 && l.allDegraded() {
			return nil, l.fail(ErrNoProgress)
		}

		if ctx.Err() != nil {
			cancelled = true
			break
		}

		// REFLECTING
		l.memory.SetPhase(PhaseReflecting)
		l.log("reflect", "Evaluating research quality")

		reflection := l.reflector.Evaluate(ctx, goal, l.memory.FindingsSummary(), iteration, l.settings.Compact)
		l.guardrails.ValidateReflectionFormat(reflection.Raw)
		l.memory.AddReflection(reflection)

		l.log("reflect", fmt.Sprintf("Completeness: %d/10, Depth: %d/10", reflection.Completeness, reflection.Depth))
		if reflection.Gaps != "" {
			l.log("reflect", fmt.Sprintf("Gaps: %s", reflection.Gaps))
		}
		l.log("reflect", fmt.Sprintf("Verdict: %s", reflection.Verdict))

		if !shouldContinue(reflection, iteration, l.settings.MaxIterations) {
			l.log("reflect", "Research is sufficient, moving to synthesis")
			break
		}

		// Follow-ups already passed hygiene in the parser; drop the ones
		// that were executed in an earlier iteration.
		queries = queries[:0]
		for _, q := range reflection.FollowUpQueries {
			if _, done := completed[strings.ToLower(q)]; done {
				continue
			}
			queries = append(queries, q)
		}
		if len(queries) == 0 {
			l.log("reflect", "No new follow-up queries, moving to synthesis")
			break
		}
		l.log("reflect", fmt.Sprintf("Continuing with %d follow-up queries", len(queries)))
	}

	if cancelled {
		if l.memory.FindingsCount() == 0 {
			return nil, l.fail(fmt.Errorf("cancelled with no findings: %w", ErrNoProgress))
		}
		l.log("execute", "Cancellation requested, synthesizing from partial findings")
		// Synthesis still needs working model calls after the run ctx died.
		ctx = context.WithoutCancel(ctx)
	}

	// SYNTHESIZING
	l.memory.SetPhase(PhaseSynthesizing)
	l.log("synthesize", "Generating final report")

	summary := l.memory.FindingsSummary()
	report, err := l.synthesizer.Synthesize(ctx, goal, summary, l.memory.SourceCount(), l.settings.MaxReportTokens, l.settings.Compact)
	if err != nil {
		// Working memory stays intact for the caller.
		return nil, l.fail(err)
	}

	if !l.guardrails.CheckGroundedness(ctx, report.Body, summary, l.settings.Compact) {
		l.memory.SetGrounded(false)
		l.log("guardrail", "Groundedness check flagged the report, review sources carefully")
	} else {
		l.memory.SetGrounded(true)
	}

	l.memory.SetPhase(PhaseComplete)
	l.log("complete", fmt.Sprintf("Report complete: %d findings over %d iterations", l.memory.FindingsCount(), iteration))

	metrics.RunsCompleted.WithLabelValues("complete").Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.RunIterations.Observe(float64(iteration))
	metrics.RunFindings.Observe(float64(l.memory.FindingsCount()))

	return report, nil
}

func (l *Loop) fail(err error) error {
	l.memory.SetPhase(PhaseFailed)
	l.memory.SetError(err.Error())
	l.memory.AddLog("error", err.Error())
	l.emit("error", err.Error())
	l.logger.Warn("Run failed", zap.Error(err))
	metrics.RunsCompleted.WithLabelValues("failed").Inc()
	return err
}

func (l *Loop) allDegraded() bool {
	findings := l.memory.Findings()
	for _, f := range findings {
		if !f.Degraded {
			return false
		}
	}
	return len(findings) > 0
}
