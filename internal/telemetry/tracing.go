// Package telemetry wires an optional OpenTelemetry tracer around the
// gateway's two request/response round-trips (AgentConnection turns,
// NodeConnectionManager actions). Grounded on the teacher's use of spans to
// describe LLM-call latency in internal/agent/loop_tracing.go, generalized
// from that package's own Postgres-backed span store to a standard OTLP
// exporter since the gateway core has no tracing store of its own (§1 Non-
// goals: "does not persist message bodies itself").
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ag3nt-dev/gateway"

// Protocol selects which OTLP wire transport Setup dials.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http"
)

// Config configures the optional OTLP exporter. Endpoint empty means
// tracing stays a no-op (otel's default global tracer), matching the
// teacher's own "tracing is inert until a collector verb is configured"
// posture.
type Config struct {
	Endpoint    string
	Protocol    Protocol // ProtocolGRPC (default) or ProtocolHTTP
	ServiceName string
}

// Shutdown stops the span processor and flushes any buffered spans.
type Shutdown func(context.Context) error

// Setup installs a batched OTLP tracer provider as the global tracer when
// cfg.Endpoint is set, and returns a no-op Shutdown otherwise. cfg.Protocol
// picks the wire transport: operators behind a gRPC-only collector use
// ProtocolGRPC (the default), those behind a plain HTTPS load balancer use
// ProtocolHTTP.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ag3nt-gateway"
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Protocol {
	case ProtocolHTTP:
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	}
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartSpan begins a span named name under the gateway's tracer, returning
// the derived context and a finish func that records err (if any) and ends
// the span. Callers defer finish(&err) around the traced call.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(errp *error) {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
		}
		span.End()
	}
}
