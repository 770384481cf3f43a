package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultSampleRate = 0.1

type Config struct {
	Endpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRate float64 `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"0.1"`
}

// ConfigFromEnv reads the exporter settings. A sample rate outside [0,1]
// falls back to 10%.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse telemetry env: %w", err)
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = defaultSampleRate
	}
	return cfg, nil
}

func noop(context.Context) error { return nil }

// Init configures the global trace provider for the proxy and the player
// API. Without an endpoint tracing stays disabled and shutdown is a no-op.
func Init(ctx context.Context, serviceName string, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		return noop, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracehttp.New(initCtx,
		otlptracehttp.WithEndpoint(strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(3*time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	)
	if err != nil {
		// Non-fatal: service starts without tracing.
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
