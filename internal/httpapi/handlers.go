// Package httpapi serves the research agent's HTTP surface: run control,
// status and report queries, provider probes, and live event streams.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/agent"
	"github.com/kestrellabs/kestrel/internal/config"
	"github.com/kestrellabs/kestrel/internal/llm"
	"github.com/kestrellabs/kestrel/internal/runs"
	redisstore "github.com/kestrellabs/kestrel/internal/store/redis"
	"github.com/kestrellabs/kestrel/internal/store/sqlite"
	"github.com/kestrellabs/kestrel/internal/streaming"
)

// LoopBuilder constructs a configured research loop for one run. The emit
// function is the run's live-log sink.
type LoopBuilder func(provider, depth string, maxIterations int, emit agent.EmitFunc) (*agent.Loop, error)

// Handler wires the HTTP endpoints to the run registry and stores.
type Handler struct {
	cfg       *config.Config
	registry  *runs.Registry
	stream    *streaming.Manager
	archive   *sqlite.Store
	status    *redisstore.StatusCache
	buildLoop LoopBuilder
	logger    *zap.Logger
}

func NewHandler(cfg *config.Config, registry *runs.Registry, stream *streaming.Manager, archive *sqlite.Store, status *redisstore.StatusCache, buildLoop LoopBuilder, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		stream:    stream,
		archive:   archive,
		status:    status,
		buildLoop: buildLoop,
		logger:    logger,
	}
}

// RegisterRoutes attaches all API routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/run", h.handleRun)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/report", h.handleReport)
	mux.HandleFunc("/api/runs", h.handleRuns)
	mux.HandleFunc("/api/providers", h.handleProviders)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/stream/sse", h.handleSSE)
	mux.HandleFunc("/stream/ws", h.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type runRequest struct {
	Goal          string `json:"goal"`
	Provider      string `json:"provider,omitempty"`
	Depth         string `json:"depth,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// handleRun starts a research run.
// POST /api/run {"goal": "...", "depth": "quick|detailed|exhaustive"}
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal required")
		return
	}
	depth := req.Depth
	if depth == "" {
		depth = h.cfg.Agent.ResearchDepth
	}
	switch depth {
	case config.DepthQuick, config.DepthDetailed, config.DepthExhaustive:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown depth %q", depth))
		return
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = h.cfg.Agent.MaxIterations
	}
	provider := req.Provider
	if provider == "" {
		provider = h.cfg.Provider
	}

	var buildErr error
	run := h.registry.Start(context.Background(), req.Goal, func(runID string) *agent.Loop {
		loop, err := h.buildLoop(provider, depth, maxIterations, func(phase, message string) {
			h.stream.Publish(runID, streaming.Event{Phase: phase, Message: message})
		})
		if err != nil {
			buildErr = err
			return nil
		}
		return loop
	})
	if run == nil {
		if buildErr == nil {
			buildErr = errors.New("loop construction failed")
		}
		writeError(w, http.StatusBadRequest, buildErr.Error())
		return
	}

	go h.watchRun(run)

	h.logger.Info("Run started",
		zap.String("run_id", run.ID),
		zap.String("depth", depth),
		zap.String("provider", provider))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

// watchRun mirrors the run's status into the cache while it executes, then
// archives the finished run and publishes the terminal stream event.
func (h *Handler) watchRun(run *runs.Run) {
	ctx := context.Background()
	h.status.Publish(ctx, run.ID, run.Snapshot())

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.status.Publish(ctx, run.ID, run.Snapshot())
			continue
		case <-run.Done():
		}
		break
	}

	snap := run.Snapshot()
	h.status.Publish(ctx, run.ID, snap)

	report, err := run.Result()
	if err != nil {
		h.stream.Publish(run.ID, streaming.Event{Phase: streaming.KindError, Message: err.Error()})
		return
	}
	h.stream.Publish(run.ID, streaming.Event{Phase: streaming.KindReport, Message: report.Body})

	rec := &sqlite.Record{
		ID:          run.ID,
		Goal:        run.Goal,
		Title:       report.Title,
		Body:        report.Body,
		Iterations:  snap.Iteration,
		Findings:    snap.FindingsCount,
		SourceCount: report.SourceCount,
	}
	if n := len(snap.Reflections); n > 0 {
		rec.Completeness = snap.Reflections[n-1].Completeness
		rec.Depth = snap.Reflections[n-1].Depth
	}
	if err := h.archive.Save(ctx, rec); err != nil {
		h.logger.Warn("Run archive failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// handleStatus returns the live snapshot of a run.
// GET /api/status?run_id=<id>
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("run_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	if run, ok := h.registry.Get(id); ok {
		writeJSON(w, http.StatusOK, run.Snapshot())
		return
	}
	// Not in this process; the cache may still know it.
	if snap, err := h.status.Get(r.Context(), id); err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeError(w, http.StatusNotFound, "run not found")
}

type reportResponse struct {
	RunID       string `json:"run_id"`
	Goal        string `json:"goal"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	SourceCount int    `json:"source_count"`
}

// handleReport returns the final report of a finished run.
// GET /api/report?run_id=<id>
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("run_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}

	if run, ok := h.registry.Get(id); ok {
		select {
		case <-run.Done():
		default:
			writeError(w, http.StatusConflict, "run still in progress")
			return
		}
		report, err := run.Result()
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reportResponse{
			RunID:       id,
			Goal:        run.Goal,
			Title:       report.Title,
			Body:        report.Body,
			SourceCount: report.SourceCount,
		})
		return
	}

	rec, err := h.archive.Get(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		RunID:       rec.ID,
		Goal:        rec.Goal,
		Title:       rec.Title,
		Body:        rec.Body,
		SourceCount: rec.SourceCount,
	})
}

// handleRuns lists archived runs.
// GET /api/runs?limit=<n>
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)
	recs, err := h.archive.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type item struct {
		RunID     string    `json:"run_id"`
		Goal      string    `json:"goal"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]item, 0, len(recs))
	for _, rec := range recs {
		out = append(out, item{RunID: rec.ID, Goal: rec.Goal, Title: rec.Title, CreatedAt: rec.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// modelPresent matches a configured model name against server tags, which
// carry a ":latest" style suffix ("llama3" matches "llama3:latest").
func modelPresent(models []string, model string) bool {
	for _, m := range models {
		if m == model || strings.HasPrefix(m, model+":") {
			return true
		}
	}
	return false
}

// handleProviders probes each known backend for availability.
// GET /api/providers
func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	type status struct {
		Name      string   `json:"name"`
		Model     string   `json:"model"`
		Available bool     `json:"available"`
		Active    bool     `json:"active"`
		Models    []string `json:"models,omitempty"`
		// ModelPulled reports whether the configured model is present on
		// the server; only backends that list models fill it.
		ModelPulled *bool `json:"model_pulled,omitempty"`
	}
	out := make([]status, 0, len(config.ProviderNames))
	for _, name := range config.ProviderNames {
		p, err := llm.NewNamed(h.cfg, name, h.logger)
		st := status{
			Name:   name,
			Model:  h.cfg.ProviderConfig(name).Model,
			Active: name == h.cfg.Provider,
		}
		if err == nil {
			st.Available = p.IsAvailable(ctx)
		}
		if st.Available {
			if lister, ok := llm.AsModelLister(p); ok {
				if models, err := lister.ListModels(ctx); err == nil {
					st.Models = models
					pulled := modelPresent(models, st.Model)
					st.ModelPulled = &pulled
				}
			}
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
