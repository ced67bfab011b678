// Package telemetry wires OpenTelemetry tracing into the server: a tracer
// provider that exports over OTLP/gRPC when a collector is configured, and
// an Echo middleware that opens one server span per request.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the tracer provider settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port of the collector; empty disables export
	Insecure       bool    // plaintext gRPC, for local collectors
	SampleRate     float64 // 0.0 to 1.0
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "eligibility-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

func (c *Config) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case c.SampleRate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRate))
	}
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider owns the SDK tracer provider and registers it globally so that
// otel.Tracer calls anywhere in the process produce real spans.
type Provider struct {
	cfg Config
	tp  *sdktrace.TracerProvider
}

// New builds a Provider. With an OTLPEndpoint spans are batched to the
// collector; without one spans are still created (ids show up in logs and
// propagate downstream) but nothing is exported.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.applyDefaults()
	if cfg.OTLPEndpoint == "" {
		return newProvider(cfg), nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	return newProvider(cfg, sdktrace.WithBatcher(exporter)), nil
}

// NewWithExporter builds a Provider that hands every finished span to exp
// synchronously. Tests use it with an in-memory exporter.
func NewWithExporter(cfg Config, exp sdktrace.SpanExporter) *Provider {
	cfg.applyDefaults()
	return newProvider(cfg, sdktrace.WithSyncer(exp))
}

func newProvider(cfg Config, opts ...sdktrace.TracerProviderOption) *Provider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)
	opts = append(opts, sdktrace.WithResource(res), sdktrace.WithSampler(cfg.sampler()))
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{cfg: cfg, tp: tp}
}

// Tracer returns a named tracer from this provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name, trace.WithInstrumentationVersion(p.cfg.ServiceVersion))
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Resource returns the resource attributes attached to every span.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// ---------------------------------------------------------------------------
// TracingMiddleware
// ---------------------------------------------------------------------------

// TraceIDHeader carries the server span's trace id back to the client.
const TraceIDHeader = "X-Trace-ID"

// TracingMiddleware opens a server span named "HTTP {method} {route}" for
// every request, continuing any W3C trace context the caller sent. 5xx
// responses and handler errors mark the span as failed.
func (p *Provider) TracingMiddleware() echo.MiddlewareFunc {
	tracer := p.Tracer("github.com/ehr/eligibility/internal/platform/telemetry")
	propagator := otel.GetTextMapPropagator()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			// Use route pattern, not actual path.
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx, span := tracer.Start(ctx, "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("http.target", req.URL.RequestURI()),
					attribute.String("net.peer.ip", c.RealIP()),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				c.Response().Header().Set(TraceIDHeader, sc.TraceID().String())
				c.Set("trace_id", sc.TraceID().String())
			}
			if rid, ok := c.Get("request_id").(string); ok && rid != "" {
				span.SetAttributes(attribute.String("http.request_id", rid))
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				// Resolve the final status before recording it.
				c.Error(err)
				span.RecordError(err)
			}

			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.status_code", status))
			if err != nil || status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return nil
		}
	}
}
