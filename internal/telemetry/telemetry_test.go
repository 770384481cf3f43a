package telemetry

import (
	"context"
	"testing"
)

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		rate     string
		wantRate float64
	}{
		{"defaults", "", "", 0.1},
		{"explicit", "http://collector:4318", "0.5", 0.5},
		{"above one", "", "3", 0.1},
		{"negative", "", "-0.2", 0.1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tc.endpoint)
			t.Setenv("OTEL_TRACE_SAMPLE_RATE", tc.rate)
			cfg, err := ConfigFromEnv()
			if err != nil {
				t.Fatalf("ConfigFromEnv: %v", err)
			}
			if cfg.Endpoint != tc.endpoint {
				t.Errorf("endpoint = %q, want %q", cfg.Endpoint, tc.endpoint)
			}
			if cfg.SampleRate != tc.wantRate {
				t.Errorf("rate = %v, want %v", cfg.SampleRate, tc.wantRate)
			}
		})
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "playerhub", Config{SampleRate: 0.1})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
