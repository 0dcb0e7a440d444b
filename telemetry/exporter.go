// Package telemetry exports run metrics to an OpenTelemetry collector
// over OTLP/gRPC. It consumes the orchestrator's lifecycle events, so
// the core stays free of instrumentation concerns.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/agent"
)

const serviceName = "vyotiq-agent"

// Config controls the exporter.
type Config struct {
	Enabled  bool
	Endpoint string
}

// Exporter records run lifecycle metrics.
type Exporter struct {
	provider      *sdkmetric.MeterProvider
	runsTotal     metric.Int64Counter
	toolCalls     metric.Int64Counter
	tokensTotal   metric.Int64Counter
	healthScore   metric.Int64Histogram
	confirmations metric.Int64Counter
	loopsDetected metric.Int64Counter
}

// NewExporter dials the collector and registers the instruments.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry is disabled or endpoint not configured")
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(serviceName)

	e := &Exporter{provider: provider}

	e.runsTotal, err = meter.Int64Counter(
		"vyotiq_runs_total",
		metric.WithDescription("Run status transitions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	e.toolCalls, err = meter.Int64Counter(
		"vyotiq_tool_calls_total",
		metric.WithDescription("Tool calls dispatched"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tool call counter: %w", err)
	}

	e.tokensTotal, err = meter.Int64Counter(
		"vyotiq_output_tokens_total",
		metric.WithDescription("Output tokens generated"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens counter: %w", err)
	}

	e.healthScore, err = meter.Int64Histogram(
		"vyotiq_session_health_score",
		metric.WithDescription("Session health score samples"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating health histogram: %w", err)
	}

	e.confirmations, err = meter.Int64Counter(
		"vyotiq_confirmations_total",
		metric.WithDescription("Confirmation requests raised"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating confirmation counter: %w", err)
	}

	e.loopsDetected, err = meter.Int64Counter(
		"vyotiq_loops_detected_total",
		metric.WithDescription("Loop detections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loop counter: %w", err)
	}

	return e, nil
}

// Observe records the metrics implied by one lifecycle event.
func (e *Exporter) Observe(ctx context.Context, ev agent.Event) {
	switch ev.Kind {
	case agent.EventRunStatusChanged:
		status, _ := ev.Data["status"].(string)
		e.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	case agent.EventToolCallEnd:
		name, _ := ev.Data["tool_name"].(string)
		success, _ := ev.Data["success"].(bool)
		e.toolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", name),
			attribute.Bool("success", success),
		))
	case agent.EventAssistantMessage:
		if tokens, ok := ev.Data["output_tokens"].(int); ok {
			e.tokensTotal.Add(ctx, int64(tokens))
		}
	case agent.EventSessionHealthUpdate:
		if score, ok := ev.Data["score"].(int); ok {
			e.healthScore.Record(ctx, int64(score))
		}
	case agent.EventConfirmationRequested:
		e.confirmations.Add(ctx, 1)
	case agent.EventLoopDetection:
		e.loopsDetected.Add(ctx, 1)
	}
}

// Close flushes pending metrics and shuts the provider down.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
