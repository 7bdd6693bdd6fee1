// Package llm exposes a uniform gateway over pluggable model backends.
// The research loop only ever sees the Provider interface; which vendor
// sits behind it is a construction-time decision.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/circuitbreaker"
	"github.com/kestrellabs/kestrel/internal/config"
)

// Roles for chat transcript messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a role-tagged chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single generate call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider is the model gateway capability.
type Provider interface {
	// Generate produces a completion for the transcript. Blocking; honors ctx.
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
	// IsAvailable reports whether the backend is reachable and configured.
	IsAvailable(ctx context.Context) bool
	// Name identifies the backend for logs and metrics.
	Name() string
}

// ErrNotConfigured is returned when a provider is selected without the
// credentials it needs.
var ErrNotConfigured = errors.New("provider not configured")

// ModelLister is implemented by backends that can enumerate the models
// present on the server (Ollama).
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// AsModelLister unwraps middleware layers looking for a ModelLister.
func AsModelLister(p Provider) (ModelLister, bool) {
	for p != nil {
		if l, ok := p.(ModelLister); ok {
			return l, true
		}
		u, ok := p.(interface{ Unwrap() Provider })
		if !ok {
			return nil, false
		}
		p = u.Unwrap()
	}
	return nil, false
}

// Timeouts carried by every provider's HTTP client.
type Timeouts struct {
	Connect  time.Duration
	ReadIdle time.Duration
	Request  time.Duration
}

func timeoutsFrom(cfg *config.Config) Timeouts {
	return Timeouts{
		Connect:  cfg.Agent.ConnectTimeout,
		ReadIdle: cfg.Agent.ReadIdleTimeout,
		Request:  cfg.Agent.RequestTimeout,
	}
}

// New builds the provider selected by cfg.Provider, wrapped with metrics.
func New(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	return NewNamed(cfg, cfg.Provider, logger)
}

// NewNamed builds a specific provider from cfg regardless of which one is
// active. Used for per-run provider overrides and availability probes.
func NewNamed(cfg *config.Config, name string, logger *zap.Logger) (Provider, error) {
	pc := cfg.ProviderConfig(name)
	to := timeoutsFrom(cfg)

	var p Provider
	switch name {
	case "ollama":
		p = NewOllama(pc.Model, pc.BaseURL, to, logger)
	case "openai":
		p = NewOpenAI(pc.Model, pc.BaseURL, pc.APIKey, to)
	case "anthropic":
		p = NewAnthropic(pc.Model, pc.BaseURL, pc.APIKey, to)
	case "google":
		p = NewGoogle(pc.Model, pc.BaseURL, pc.APIKey, to)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return WithMetrics(WithBreaker(p, breakerFor(name, logger))), nil
}

// Breakers are shared per backend name so failure history accumulates
// across runs instead of resetting with every loop construction.
var (
	breakerMu sync.Mutex
	breakers  = make(map[string]*circuitbreaker.Breaker)
)

func breakerFor(name string, logger *zap.Logger) *circuitbreaker.Breaker {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	if b, ok := breakers[name]; ok {
		return b
	}
	b := circuitbreaker.New(name, circuitbreaker.DefaultConfig(), logger)
	breakers[name] = b
	return b
}
