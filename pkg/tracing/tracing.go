package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "callmesh"

var (
	PeerIDKey     = attribute.Key("peer.id")
	RemotePeerKey = attribute.Key("peer.remote_id")
	RoomKey       = attribute.Key("call.room")
	SignalTypeKey = attribute.Key("signal.type")
	OperationKey  = attribute.Key("webrtc.operation")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	// SampleRate applies to root spans; children follow their parent.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "callmesh",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider owns the exporter pipeline installed by Init. The zero
// value is a disabled provider.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger exporter as the global tracer provider along with
// W3C trace context propagation. When tracing is disabled the global no-op
// provider stays in place and every span helper below is free.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, fmt.Errorf("tracing sample rate %v outside [0, 1]", cfg.SampleRate)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = tracerName
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes buffered spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// RecordError marks the span in ctx failed. A nil err is ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceHTTPRequest starts a server span for an inbound request, continuing
// the trace carried by its headers.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	if route == "" {
		route = "unmatched"
	}
	return start(ctx, method+" "+route, trace.SpanKindServer,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

// TraceSignal covers one signaling envelope on its way through a client or
// the relay.
func TraceSignal(ctx context.Context, signalType, from, to string) (context.Context, trace.Span) {
	return start(ctx, "signal."+signalType, trace.SpanKindProducer,
		SignalTypeKey.String(signalType),
		PeerIDKey.String(from),
		RemotePeerKey.String(to),
	)
}

// TraceWebRTC covers one negotiation step with a remote peer.
func TraceWebRTC(ctx context.Context, operation, remotePeer string) (context.Context, trace.Span) {
	return start(ctx, "webrtc."+operation, trace.SpanKindInternal,
		OperationKey.String(operation),
		RemotePeerKey.String(remotePeer),
	)
}

// TraceRoster covers a roster event delivered by the room bus.
func TraceRoster(ctx context.Context, eventType, room, peerID string) (context.Context, trace.Span) {
	return start(ctx, "roster."+eventType, trace.SpanKindConsumer,
		RoomKey.String(room),
		PeerIDKey.String(peerID),
	)
}
