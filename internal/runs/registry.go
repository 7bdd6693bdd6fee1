// Package runs tracks live research runs inside one process. Each run owns
// its loop and working memory; the registry only hands out handles.
package runs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/agent"
)

// Run is the handle for one research run.
type Run struct {
	ID        string
	Goal      string
	StartedAt time.Time

	loop   *agent.Loop
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	report *agent.Report
	err    error
}

// Status returns the loop's current phase.
func (r *Run) Status() agent.Phase { return r.loop.Status() }

// Snapshot returns a copy of the run's full state.
func (r *Run) Snapshot() agent.Snapshot { return r.loop.Snapshot() }

// Done is closed when the run finishes, successfully or not.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel requests cooperative cancellation. The loop finishes its current
// call, then synthesizes from partial findings or fails.
func (r *Run) Cancel() { r.cancel() }

// Result returns the report and error once the run is done. Before that,
// both are nil.
func (r *Run) Result() (*agent.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.err
}

// Registry holds the live runs of this process keyed by generated IDs.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		runs:   make(map[string]*Run),
		logger: logger,
	}
}

// Start assigns a run ID, builds the loop for it, and launches the run on
// its own goroutine. The builder receives the ID so its live-log sink can
// publish under the right key.
func (g *Registry) Start(ctx context.Context, goal string, build func(runID string) *agent.Loop) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.New().String()
	loop := build(id)
	if loop == nil {
		cancel()
		return nil
	}
	r := &Run{
		ID:        id,
		Goal:      goal,
		StartedAt: time.Now(),
		loop:      loop,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	g.mu.Lock()
	g.runs[r.ID] = r
	g.mu.Unlock()

	go func() {
		defer cancel()
		report, err := loop.Run(runCtx, goal)

		r.mu.Lock()
		r.report = report
		r.err = err
		r.mu.Unlock()
		close(r.done)

		if err != nil {
			g.logger.Warn("Run finished with error",
				zap.String("run_id", r.ID), zap.Error(err))
			return
		}
		g.logger.Info("Run finished",
			zap.String("run_id", r.ID), zap.String("title", report.Title))
	}()

	return r
}

// Get returns the run with the given ID.
func (g *Registry) Get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

// List returns all tracked runs, newest first not guaranteed.
func (g *Registry) List() []*Run {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Run, 0, len(g.runs))
	for _, r := range g.runs {
		out = append(out, r)
	}
	return out
}

// Remove drops a finished run from the registry.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	delete(g.runs, id)
	g.mu.Unlock()
}
