package llm

import (
	"context"
	"time"

	"github.com/kestrellabs/kestrel/internal/circuitbreaker"
	"github.com/kestrellabs/kestrel/internal/metrics"
)

// metricsProvider records call counts and latency for any Provider.
type metricsProvider struct {
	inner Provider
}

// WithMetrics wraps p so every generate call is measured.
func WithMetrics(p Provider) Provider {
	return &metricsProvider{inner: p}
}

func (m *metricsProvider) Name() string     { return m.inner.Name() }
func (m *metricsProvider) Unwrap() Provider { return m.inner }

func (m *metricsProvider) IsAvailable(ctx context.Context) bool {
	return m.inner.IsAvailable(ctx)
}

func (m *metricsProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	start := time.Now()
	out, err := m.inner.Generate(ctx, messages, opts)
	metrics.ModelCallDuration.WithLabelValues(m.inner.Name()).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ModelCalls.WithLabelValues(m.inner.Name(), status).Inc()
	return out, err
}

// breakerProvider short-circuits calls to a backend that keeps failing.
type breakerProvider struct {
	inner   Provider
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps p with a circuit breaker. The breaker also feeds the
// state gauge so an open model backend is visible on the dashboard.
func WithBreaker(p Provider, b *circuitbreaker.Breaker) Provider {
	return &breakerProvider{inner: p, breaker: b}
}

func (w *breakerProvider) Name() string     { return w.inner.Name() }
func (w *breakerProvider) Unwrap() Provider { return w.inner }

func (w *breakerProvider) IsAvailable(ctx context.Context) bool {
	if w.breaker.State() == circuitbreaker.StateOpen {
		return false
	}
	return w.inner.IsAvailable(ctx)
}

func (w *breakerProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	var out string
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		var genErr error
		out, genErr = w.inner.Generate(ctx, messages, opts)
		return genErr
	})
	metrics.BreakerState.WithLabelValues(w.inner.Name()).Set(float64(w.breaker.State()))
	return out, err
}
