package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/msaidizi/internal/llm"
	"github.com/jkaninda/msaidizi/internal/sandbox"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics, tracing, and anomaly detection.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.complete",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	if p.anomaly != nil {
		if err != nil {
			p.anomaly.RecordError("llm_request")
		} else {
			p.anomaly.RecordSuccess("llm_request")
		}
	}

	return resp, err
}

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics, tracing, and anomaly detection.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string // "process" or "docker"
	metrics     *MetricsCollector
	tracer      trace.Tracer
	anomaly     *AnomalyDetector
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      tracer,
		anomaly:     anomaly,
	}
}

func (s *InstrumentedSandbox) Run(ctx context.Context, req sandbox.Request) (*sandbox.Output, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.run",
			trace.WithAttributes(
				attribute.String("sandbox.type", s.sandboxType),
			))
		defer span.End()
	}

	start := time.Now()
	out, err := s.inner.Run(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = runStatus(err)
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(duration)
	}

	if s.anomaly != nil {
		if err != nil {
			s.anomaly.RecordError("sandbox_" + s.sandboxType)
		} else {
			s.anomaly.RecordSuccess("sandbox_" + s.sandboxType)
		}
	}

	return out, err
}

// runStatus maps a sandbox failure to a metric label. Classified script
// failures keep their class so timeouts and memory kills are visible
// separately from transport errors.
func runStatus(err error) string {
	var se *sandbox.ScriptError
	if errors.As(err, &se) {
		switch se.Class {
		case sandbox.FailTimeout:
			return "timeout"
		case sandbox.FailMemory:
			return "memory"
		case sandbox.FailCompile:
			return "compile"
		default:
			return "runtime"
		}
	}
	return "error"
}

// --- Compile-time interface checks ---

var (
	_ llm.Provider    = (*InstrumentedProvider)(nil)
	_ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
