package app

import (
	"os"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "MONGO_URI", "MONGO_DB",
	"CACHE_ENABLED", "CACHE_STORE", "CACHE_DIR", "CACHE_MEMORY_LIMIT_BYTES",
	"CACHE_FETCH_CHUNK_BYTES", "CACHE_FETCH_RATE_LIMIT_BYTES",
	"CACHE_IDLE_FETCH_BYTES", "CACHE_RIDE_WINDOW_BYTES", "CACHE_PRELOAD_BYTES",
	"CACHE_MIN_FREE_BYTES",
	"PLAYER_LOOKAHEAD", "CORS_ALLOWED_ORIGINS",
	"HTTP_RATE_LIMIT_RPS", "HTTP_RATE_LIMIT_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"MongoURI", cfg.MongoURI, ""},
		{"MongoDatabase", cfg.MongoDatabase, "playerhub"},
		{"CacheEnabled", cfg.CacheEnabled, true},
		{"CacheStore", cfg.CacheStore, StoreDisk},
		{"CacheDir", cfg.CacheDir, "data/cache"},
		{"CacheMemoryLimitBytes", cfg.CacheMemoryLimitBytes, int64(256 << 20)},
		{"FetchChunkBytes", cfg.FetchChunkBytes, 64 << 10},
		{"FetchRateLimitBytes", cfg.FetchRateLimitBytes, 0},
		{"IdleFetchBytes", cfg.IdleFetchBytes, int64(16 << 20)},
		{"RideWindowBytes", cfg.RideWindowBytes, int64(256 << 10)},
		{"PreloadBytes", cfg.PreloadBytes, int64(4 << 20)},
		{"MinFreeBytes", cfg.MinFreeBytes, int64(0)},
		{"PlayerLookahead", cfg.PlayerLookahead, 2 * time.Second},
		{"RateLimitRPS", cfg.RateLimitRPS, float64(100)},
		{"RateLimitBurst", cfg.RateLimitBurst, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	setEnvs(t, map[string]string{
		"HTTP_ADDR":                    ":9090",
		"LOG_LEVEL":                    "DEBUG",
		"LOG_FORMAT":                   " JSON ",
		"MONGO_URI":                    " mongodb://remote:27017 ",
		"MONGO_DB":                     "mydb",
		"CACHE_ENABLED":                "false",
		"CACHE_STORE":                  "Memory",
		"CACHE_MEMORY_LIMIT_BYTES":     "1048576",
		"CACHE_FETCH_CHUNK_BYTES":      "4096",
		"CACHE_FETCH_RATE_LIMIT_BYTES": "500000",
		"CACHE_IDLE_FETCH_BYTES":       "-1",
		"CACHE_PRELOAD_BYTES":          "0",
		"CACHE_MIN_FREE_BYTES":         "1073741824",
		"PLAYER_LOOKAHEAD":             "3500ms",
		"CORS_ALLOWED_ORIGINS":         "http://localhost:3000, https://example.com,,",
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"MongoURI", cfg.MongoURI, "mongodb://remote:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "mydb"},
		{"CacheEnabled", cfg.CacheEnabled, false},
		{"CacheStore", cfg.CacheStore, StoreMemory},
		{"CacheMemoryLimitBytes", cfg.CacheMemoryLimitBytes, int64(1 << 20)},
		{"FetchChunkBytes", cfg.FetchChunkBytes, 4096},
		{"FetchRateLimitBytes", cfg.FetchRateLimitBytes, 500000},
		{"IdleFetchBytes", cfg.IdleFetchBytes, int64(-1)},
		{"PreloadBytes", cfg.PreloadBytes, int64(0)},
		{"MinFreeBytes", cfg.MinFreeBytes, int64(1 << 30)},
		{"PlayerLookahead", cfg.PlayerLookahead, 3500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %v, want %v", cfg.CORSAllowedOrigins, wantOrigins)
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{"unknown store", map[string]string{"CACHE_STORE": "tape"}, "CACHE_STORE"},
		{"disk without dir", map[string]string{"CACHE_STORE": "disk", "CACHE_DIR": " "}, "CACHE_DIR"},
		{"zero chunk", map[string]string{"CACHE_FETCH_CHUNK_BYTES": "0"}, "CACHE_FETCH_CHUNK_BYTES"},
		{"negative rate", map[string]string{"CACHE_FETCH_RATE_LIMIT_BYTES": "-1"}, "CACHE_FETCH_RATE_LIMIT_BYTES"},
		{"negative memory limit", map[string]string{"CACHE_MEMORY_LIMIT_BYTES": "-5"}, "CACHE_MEMORY_LIMIT_BYTES"},
		{"negative min free", map[string]string{"CACHE_MIN_FREE_BYTES": "-1"}, "CACHE_MIN_FREE_BYTES"},
		{"zero lookahead", map[string]string{"PLAYER_LOOKAHEAD": "0s"}, "PLAYER_LOOKAHEAD"},
		{"bad duration", map[string]string{"PLAYER_LOOKAHEAD": "soon"}, "parse env"},
		{"bad int", map[string]string{"CACHE_PRELOAD_BYTES": "lots"}, "parse env"},
		{"zero burst", map[string]string{"HTTP_RATE_LIMIT_BURST": "0"}, "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setEnvs(t, tt.envs)

			_, err := LoadConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMemoryStoreIgnoresDir(t *testing.T) {
	clearEnv(t)
	setEnvs(t, map[string]string{"CACHE_STORE": "memory", "CACHE_DIR": ""})

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
}
