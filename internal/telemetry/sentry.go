// Package telemetry provides Sentry-based tracing for syncs, extraction
// batches, retrieval and generation.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const serviceName = "chimera"

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// SampleRateFor returns the default trace sampling for an environment
func SampleRateFor(environment string) float64 {
	switch environment {
	case "", "development", "dev", "local":
		return 1.0
	default:
		return 0.1
	}
}

// unsampled transactions are probes and scrapes that would drown real traffic
var unsampled = map[string]bool{
	"GET /health":  true,
	"GET /metrics": true,
}

// sampler keeps whatever decision an upstream service made and falls back to
// rate for root transactions.
func sampler(rate float64) sentry.TracesSampler {
	return func(sc sentry.SamplingContext) float64 {
		if sc.Span == nil || unsampled[sc.Span.Name] {
			return 0
		}
		if sc.Span.ParentSpanID != (sentry.SpanID{}) {
			if sc.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// Init installs the global Sentry client. Without a DSN, or when the client
// cannot be built, tracing stays off and the returned flush does nothing.
func Init(cfg Config, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return func() {}
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = SampleRateFor(cfg.Environment)
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler:    sampler(cfg.TracesSampleRate),
		Debug:            cfg.Debug,
		ServerName:       serviceName,
	})
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
		return func() {}
	}

	logger.Info("sentry tracing enabled",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate))
	return func() { sentry.Flush(5 * time.Second) }
}

// SpanAttributes are the tags every pipeline span carries
type SpanAttributes struct {
	KBID     string
	SourceID string
	Stage    string
}

// Span wraps sentry.Span so callers never deal with nil spans
type Span struct {
	inner *sentry.Span
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetData attaches a value to the span
func (s *Span) SetData(key string, value any) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// SetError marks the span as errored and captures the exception.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

func setAttributes(span *sentry.Span, attrs SpanAttributes) {
	if span == nil {
		return
	}
	if attrs.KBID != "" {
		span.SetTag("kb_id", attrs.KBID)
	}
	if attrs.SourceID != "" {
		span.SetTag("source_id", attrs.SourceID)
	}
	if attrs.Stage != "" {
		span.SetTag("stage", attrs.Stage)
	}
}

// StartSpan creates a child span when ctx already carries one, otherwise a
// new transaction.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	setAttributes(span, attrs)
	return span.Context(), &Span{inner: span}
}

// CaptureError captures an error to Sentry with the current context.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
}
