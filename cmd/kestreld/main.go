// Command kestreld is the research agent daemon: an HTTP server that
// starts runs, streams their progress over SSE and WebSocket, and archives
// finished reports.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrellabs/kestrel/internal/agent"
	"github.com/kestrellabs/kestrel/internal/config"
	"github.com/kestrellabs/kestrel/internal/extract"
	"github.com/kestrellabs/kestrel/internal/httpapi"
	"github.com/kestrellabs/kestrel/internal/llm"
	"github.com/kestrellabs/kestrel/internal/runs"
	"github.com/kestrellabs/kestrel/internal/search"
	redisstore "github.com/kestrellabs/kestrel/internal/store/redis"
	"github.com/kestrellabs/kestrel/internal/store/sqlite"
	"github.com/kestrellabs/kestrel/internal/streaming"
)

func main() {
	boot, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := newLogger(boot.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	watcher, err := config.NewWatcher("", logger)
	if err != nil {
		logger.Fatal("Failed to watch config", zap.Error(err))
	}
	defer watcher.Close()
	cfg := watcher.Current()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config reloads only log; in-flight runs keep the settings they
	// started with, new runs pick up the current values.
	go func() {
		for updated := range watcher.Subscribe() {
			logger.Info("Configuration reloaded",
				zap.String("provider", updated.Provider),
				zap.String("depth", updated.Agent.ResearchDepth))
		}
	}()

	searcher := search.NewClient(cfg.Search.RequestsPerSecond, cfg.Search.Burst, cfg.Search.Timeout, logger)
	extractor := extract.New(cfg.Search.Timeout, logger)

	archive, err := sqlite.Open(cfg.Storage.SQLitePath, logger)
	if err != nil {
		logger.Fatal("Failed to open run archive", zap.Error(err))
	}
	defer archive.Close()

	status := redisstore.New(cfg.Storage.RedisAddr, cfg.Storage.StatusTTL, logger)
	defer status.Close()

	stream := streaming.NewManager(cfg.Server.StreamBuffer)
	registry := runs.NewRegistry(logger)

	buildLoop := func(provider, depth string, maxIterations int, emit agent.EmitFunc) (*agent.Loop, error) {
		cur := watcher.Current()
		if provider == "" {
			provider = cur.Provider
		}
		gw, err := llm.NewNamed(cur, provider, logger)
		if err != nil {
			return nil, err
		}
		if depth == "" {
			depth = cur.Agent.ResearchDepth
		}
		if maxIterations <= 0 {
			maxIterations = cur.Agent.MaxIterations
		}
		compact := cur.CompactMode()
		settings := agent.Settings{
			MaxIterations:   maxIterations,
			Depth:           depth,
			QueryTarget:     config.QueryTarget(depth),
			MaxReportTokens: cur.MaxReportTokens(),
			Compact:         compact,
			Limits: agent.Limits{
				MaxSearchResults:  cur.Agent.MaxSearchResults,
				MaxPages:          cur.MaxPagesToExtract(),
				MaxContentChars:   cur.MaxContentChars(),
				MaxAnalysisTokens: cur.MaxAnalysisTokens(),
				Compact:           compact,
			},
		}
		return agent.NewLoop(gw, searcher, extractor, settings, logger, agent.WithEmit(emit)), nil
	}

	mux := http.NewServeMux()
	httpapi.NewHandler(cfg, registry, stream, archive, status, buildLoop, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays at the configured value, zero by default:
		// SSE and WebSocket connections are long-lived.
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("kestreld listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("provider", cfg.Provider))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down, cancelling live runs")
	for _, r := range registry.List() {
		r.Cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	logger.Info("kestreld stopped")
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(lc.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	var level zapcore.Level
	if err := level.Set(lc.Level); err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
