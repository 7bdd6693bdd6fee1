// Command kestrel runs one research goal from the terminal and writes the
// report to disk. With -mode eval it benchmarks the agent against a
// scenario suite instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrellabs/kestrel/internal/agent"
	"github.com/kestrellabs/kestrel/internal/config"
	"github.com/kestrellabs/kestrel/internal/evals"
	"github.com/kestrellabs/kestrel/internal/extract"
	"github.com/kestrellabs/kestrel/internal/llm"
	"github.com/kestrellabs/kestrel/internal/search"
)

func main() {
	var (
		goal       = flag.String("goal", "", "research goal (required in run mode)")
		provider   = flag.String("provider", "", "LLM backend: ollama, openai, anthropic, google (default from config)")
		depth      = flag.String("depth", "", "research depth: quick, detailed, exhaustive (default from config)")
		iterations = flag.Int("iterations", 0, "max research iterations (default from config)")
		configPath = flag.String("config", "", "config file path (default kestrel.yaml)")
		output     = flag.String("output", "", "report output directory (default from config)")
		mode       = flag.String("mode", "run", "run | eval")
		suitePath  = flag.String("suite", "evals.yaml", "eval scenario file (eval mode)")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *depth != "" {
		cfg.Agent.ResearchDepth = *depth
	}
	if *iterations > 0 {
		cfg.Agent.MaxIterations = *iterations
	}
	if *output != "" {
		cfg.Output.Directory = *output
	}
	if err := cfg.Validate(); err != nil {
		fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg, *verbose)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "run":
		if *goal == "" {
			fatalf("-goal is required; try: kestrel -goal \"Compare Rust and Go for systems programming\"")
		}
		if err := runOnce(ctx, cfg, logger, *goal); err != nil {
			fatalf("%v", err)
		}
	case "eval":
		if err := runEvals(ctx, cfg, logger, *suitePath); err != nil {
			fatalf("%v", err)
		}
	default:
		fatalf("unknown mode %q", *mode)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger, goal string) error {
	loop, gw, err := buildLoop(cfg, logger, func(phase, message string) {
		fmt.Printf("  [%s] %s\n", phase, message)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Researching with %s (%s depth, max %d iterations)\n\n",
		gw.Name(), cfg.Agent.ResearchDepth, cfg.Agent.MaxIterations)

	report, err := loop.Run(ctx, goal)
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	path, err := agent.SaveReport(cfg.Output.Directory, goal, report)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	snap := loop.Snapshot()
	fmt.Printf("\n%s\n", report.Title)
	fmt.Printf("  iterations: %d, findings: %d, sources: %d\n",
		snap.Iteration, snap.FindingsCount, report.SourceCount)
	if snap.Grounded != nil && !*snap.Grounded {
		fmt.Println("  warning: groundedness check flagged claims not supported by sources")
	}
	fmt.Printf("  saved to %s\n", path)
	return nil
}

func runEvals(ctx context.Context, cfg *config.Config, logger *zap.Logger, suitePath string) error {
	suite, err := evals.LoadSuite(suitePath)
	if err != nil {
		return err
	}

	judgeGW, err := judgeProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("judge provider: %w", err)
	}
	judge := evals.NewJudge(judgeGW, logger)

	run := func(ctx context.Context, goal string) (*agent.Report, error) {
		loop, _, err := buildLoop(cfg, logger, func(string, string) {})
		if err != nil {
			return nil, err
		}
		return loop.Run(ctx, goal)
	}

	results := evals.NewRunner(judge, run, logger).Run(ctx, suite)

	passed := 0
	for _, r := range results {
		status := "FAIL"
		if r.Passed {
			status = "PASS"
			passed++
		}
		fmt.Printf("%-6s %-24s", status, r.Case.Name)
		if r.Err != "" {
			fmt.Printf(" error: %s\n", r.Err)
			continue
		}
		fmt.Printf(" relevance=%d accuracy=%d formatting=%s length=%d\n",
			r.Evaluation.Relevance, r.Evaluation.Accuracy, r.Evaluation.Formatting, r.Length)
		if r.Evaluation.Feedback != "" {
			fmt.Printf("       %s\n", r.Evaluation.Feedback)
		}
	}
	fmt.Printf("\n%d/%d cases passed\n", passed, len(results))
	if passed < len(results) {
		return fmt.Errorf("%d eval case(s) failed", len(results)-passed)
	}
	return nil
}

// buildLoop wires the agent from config: gateway, rate-limited search,
// page extractor, loop settings.
func buildLoop(cfg *config.Config, logger *zap.Logger, emit agent.EmitFunc) (*agent.Loop, llm.Provider, error) {
	gw, err := llm.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("provider: %w", err)
	}

	searcher := search.NewClient(cfg.Search.RequestsPerSecond, cfg.Search.Burst, cfg.Search.Timeout, logger)
	extractor := extract.New(cfg.Search.Timeout, logger)

	compact := cfg.CompactMode()
	settings := agent.Settings{
		MaxIterations:   cfg.Agent.MaxIterations,
		Depth:           cfg.Agent.ResearchDepth,
		QueryTarget:     config.QueryTarget(cfg.Agent.ResearchDepth),
		MaxReportTokens: cfg.MaxReportTokens(),
		Compact:         compact,
		Limits: agent.Limits{
			MaxSearchResults:  cfg.Agent.MaxSearchResults,
			MaxPages:          cfg.MaxPagesToExtract(),
			MaxContentChars:   cfg.MaxContentChars(),
			MaxAnalysisTokens: cfg.MaxAnalysisTokens(),
			Compact:           compact,
		},
	}
	loop := agent.NewLoop(gw, searcher, extractor, settings, logger, agent.WithEmit(emit))
	return loop, gw, nil
}

// judgeProvider picks the scoring model. OpenAI gives the most consistent
// judgments, so it wins whenever a key is configured; otherwise the active
// provider judges its own output.
func judgeProvider(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	if cfg.Providers.OpenAI.APIKey != "" && cfg.Provider != "openai" {
		logger.Info("Using OpenAI as eval judge")
		return llm.NewNamed(cfg, "openai", logger)
	}
	return llm.New(cfg, logger)
}

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if strings.EqualFold(cfg.Logging.Format, "json") {
		zc = zap.NewProductionConfig()
	}
	level := zapcore.WarnLevel
	if verbose {
		if err := level.Set(cfg.Logging.Level); err != nil {
			return nil, err
		}
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
