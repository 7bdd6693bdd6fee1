package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrellabs/kestrel/internal/llm"
	"github.com/kestrellabs/kestrel/internal/search"
)

// Phase is the loop's externally visible state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePlanning     Phase = "planning"
	PhaseResearching  Phase = "researching"
	PhaseReflecting   Phase = "reflecting"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
)

// Reflection verdicts.
const (
	VerdictMore       = "MORE"
	VerdictSufficient = "SUFFICIENT"
)

// Source is one search hit that backed a finding.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Finding is the analyzed result of executing one query. Immutable once
// appended to working memory. Degraded marks findings whose search step
// produced nothing, so the analysis carries no real information.
type Finding struct {
	Query     string   `json:"query"`
	Analysis  string   `json:"analysis"`
	Sources   []Source `json:"sources"`
	Iteration int      `json:"iteration"`
	Degraded  bool     `json:"degraded"`
}

// Reflection is the quality self-assessment produced once per iteration.
type Reflection struct {
	Iteration       int      `json:"iteration"`
	Completeness    int      `json:"completeness"`
	Depth           int      `json:"depth"`
	Gaps            string   `json:"gaps"`
	Verdict         string   `json:"verdict"`
	FollowUpQueries []string `json:"follow_up_queries"`
	Raw             string   `json:"-"`
}

// Report is the terminal artifact of a completed run.
type Report struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	SourceCount int    `json:"source_count"`
}

// LogEntry is one line of the run's live log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
}

// Snapshot is a point-in-time copy of a run's state, safe to serialize.
type Snapshot struct {
	Goal            string       `json:"goal"`
	StartedAt       time.Time    `json:"started_at"`
	Phase           Phase        `json:"phase"`
	Iteration       int          `json:"iteration"`
	Plan            []string     `json:"plan"`
	CompletedQueries []string    `json:"completed_queries"`
	FindingsCount   int          `json:"findings_count"`
	Reflections     []Reflection `json:"reflections"`
	Log             []LogEntry   `json:"log"`
	Grounded        *bool        `json:"grounded,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Sentinel loop errors. Callers branch with errors.Is.
var (
	// ErrNoQueries means planning produced zero usable queries.
	ErrNoQueries = errors.New("planning produced no usable queries")

	// ErrNoProgress means the run ended without a single finding that
	// carries real information.
	ErrNoProgress = errors.New("no research progress was made")
)

// SynthesisError wraps a failure during report generation. Working memory
// is left intact so the caller can still read the accumulated findings.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("report synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Gateway is the model capability the loop drives. Satisfied by llm.Provider.
type Gateway interface {
	Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)
	Name() string
}

// Searcher produces ordered search results for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
}

// PageExtractor pulls readable text out of web pages.
type PageExtractor interface {
	ExtractMultiple(ctx context.Context, urls []string, maxCharsEach int) map[string]string
}

// EmitFunc receives live-log events. Implementations must never block.
type EmitFunc func(phase, message string)
