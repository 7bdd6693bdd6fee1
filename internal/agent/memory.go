package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// WorkingMemory holds everything a run accumulates: the goal, the plan,
// findings, reflections and the live log. The loop is the only writer;
// status queries read through Snapshot. Reset is only called at the very
// start of a run, never mid-run.
type WorkingMemory struct {
	mu sync.Mutex

	goal             string
	startedAt        time.Time
	phase            Phase
	iteration        int
	plan             []string
	completedQueries []string
	findings         []Finding
	reflections      []Reflection
	log              []LogEntry
	grounded         *bool
	lastErr          string
}

func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{phase: PhaseIdle}
}

// Reset clears all state and binds a new goal.
func (m *WorkingMemory) Reset(goal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goal = goal
	m.startedAt = time.Now()
	m.phase = PhaseIdle
	m.iteration = 0
	m.plan = nil
	m.completedQueries = nil
	m.findings = nil
	m.reflections = nil
	m.log = nil
	m.grounded = nil
	m.lastErr = ""
}

func (m *WorkingMemory) SetPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

func (m *WorkingMemory) SetIteration(n int) {
	m.mu.Lock()
	m.iteration = n
	m.mu.Unlock()
}

func (m *WorkingMemory) SetPlan(queries []string) {
	m.mu.Lock()
	m.plan = append([]string(nil), queries...)
	m.mu.Unlock()
}

func (m *WorkingMemory) SetGrounded(ok bool) {
	m.mu.Lock()
	m.grounded = &ok
	m.mu.Unlock()
}

func (m *WorkingMemory) SetError(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
}

func (m *WorkingMemory) AddFinding(f Finding) {
	m.mu.Lock()
	m.findings = append(m.findings, f)
	m.completedQueries = append(m.completedQueries, f.Query)
	m.mu.Unlock()
}

func (m *WorkingMemory) AddReflection(r Reflection) {
	m.mu.Lock()
	m.reflections = append(m.reflections, r)
	m.mu.Unlock()
}

func (m *WorkingMemory) AddLog(phase, message string) {
	m.mu.Lock()
	m.log = append(m.log, LogEntry{
		Timestamp: time.Now(),
		Phase:     phase,
		Message:   message,
	})
	m.mu.Unlock()
}

func (m *WorkingMemory) Goal() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.goal
}

func (m *WorkingMemory) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *WorkingMemory) FindingsCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.findings)
}

// Findings returns a copy of the accumulated findings in insertion order.
func (m *WorkingMemory) Findings() []Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Finding(nil), m.findings...)
}

// CompletedQueries returns the queries executed so far, in order.
func (m *WorkingMemory) CompletedQueries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completedQueries...)
}

// FindingsSummary renders all findings as a stable text block used verbatim
// as model input for reflection and synthesis. Insertion-ordered and
// deterministic so repeated calls without intervening writes are identical.
func (m *WorkingMemory) FindingsSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.findings) == 0 {
		return "No findings yet."
	}

	var sb strings.Builder
	for i, f := range m.findings {
		fmt.Fprintf(&sb, "### Research Task %d: %s\n", i+1, f.Query)
		sb.WriteString(f.Analysis)
		sb.WriteString("\n**Sources:** ")
		if len(f.Sources) == 0 {
			sb.WriteString("N/A")
		} else {
			for j, s := range f.Sources {
				if j > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(s.URL)
			}
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SourceCount is the total number of sources across all findings.
func (m *WorkingMemory) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.findings {
		n += len(f.Sources)
	}
	return n
}

// Snapshot returns a deep copy of the current state.
func (m *WorkingMemory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Goal:             m.goal,
		StartedAt:        m.startedAt,
		Phase:            m.phase,
		Iteration:        m.iteration,
		Plan:             append([]string(nil), m.plan...),
		CompletedQueries: append([]string(nil), m.completedQueries...),
		FindingsCount:    len(m.findings),
		Reflections:      append([]Reflection(nil), m.reflections...),
		Log:              append([]LogEntry(nil), m.log...),
		Error:            m.lastErr,
	}
	if m.grounded != nil {
		g := *m.grounded
		snap.Grounded = &g
	}
	return snap
}
