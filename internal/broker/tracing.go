package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "chathub-broker"

// TracingConfig selects whether broker traffic is traced and where spans go.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	ZipkinURL   string
}

// SetupTracing installs a Zipkin-exporting tracer provider and returns the
// tracer for Traced along with a flush-and-stop func. Disabled tracing yields
// a no-op tracer.
func SetupTracing(ctx context.Context, cfg TracingConfig) (trace.Tracer, func(), error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer(tracerName), func() {}, nil
	}

	exporter, err := zipkin.New(cfg.ZipkinURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create zipkin exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	slog.Info("Broker tracing enabled", "service", cfg.ServiceName, "zipkin_url", cfg.ZipkinURL)

	return tp.Tracer(tracerName), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("Failed to flush broker traces", "error", err)
		}
	}, nil
}

// traced decorates a Gateway with publish and process spans. The span context
// travels in the message headers so consumers continue the producer's trace.
type traced struct {
	Gateway
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Traced wraps g so every publish and every handled delivery is traced.
func Traced(g Gateway, tracer trace.Tracer) Gateway {
	return &traced{Gateway: g, tracer: tracer, propagator: propagation.TraceContext{}}
}

func spanAttributes(op string, msg Message) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("messaging.system", "chathub"),
		attribute.String("messaging.operation", op),
		attribute.String("messaging.destination", msg.Queue),
		attribute.String("messaging.message_id", msg.ID),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Body)),
	)
}

func (t *traced) Publish(ctx context.Context, msg Message) error {
	msg = prepare(msg)
	ctx, span := t.tracer.Start(ctx, "broker.publish."+msg.Queue,
		trace.WithSpanKind(trace.SpanKindProducer), spanAttributes("publish", msg))
	defer span.End()

	t.propagator.Inject(ctx, propagation.MapCarrier(msg.Headers))

	err := t.Gateway.Publish(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *traced) Consume(ctx context.Context, queue string, h Handler) error {
	return t.Gateway.Consume(ctx, queue, func(ctx context.Context, msg Message) error {
		if msg.Headers != nil {
			ctx = t.propagator.Extract(ctx, propagation.MapCarrier(msg.Headers))
		}
		ctx, span := t.tracer.Start(ctx, "broker.process."+queue,
			trace.WithSpanKind(trace.SpanKindConsumer), spanAttributes("process", msg))
		defer span.End()

		err := h(ctx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
}
