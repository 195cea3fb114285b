package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate runs the test from an empty directory so no config.yaml or .env
// from the working tree leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 50051 || cfg.HTTPPort != 9100 {
		t.Errorf("unexpected ports %d/%d", cfg.Port, cfg.HTTPPort)
	}
	if cfg.Model != "liveness.onnx" || cfg.Threshold != 0.5 {
		t.Errorf("unexpected model config %q/%v", cfg.Model, cfg.Threshold)
	}
	if cfg.InputName != "input" || cfg.OutputName != "output" {
		t.Errorf("unexpected tensor names %q/%q", cfg.InputName, cfg.OutputName)
	}
	if cfg.PoolSize != 1 || cfg.AcquireTimeout != 2*time.Second || cfg.CacheTTL != 10*time.Minute {
		t.Errorf("unexpected pool/cache config %+v", cfg)
	}
	if cfg.MaxImagePixels != 4096*4096 {
		t.Errorf("unexpected max_image_pixels %d", cfg.MaxImagePixels)
	}
	if !cfg.MotionEnabled || cfg.UseMockInference || cfg.OTELEnabled {
		t.Errorf("unexpected feature flags %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := isolate(t)

	yaml := "port: 6000\nhttp_port: 6001\nthreshold: 0.3\ncache_ttl: 30s\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("LIVENESS_HTTP_PORT", "7001")
	t.Setenv("LIVENESS_POOL_SIZE", "4")

	cfg, err := Load([]string{"--port", "8000"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8000 {
		t.Errorf("flag should win: port=%d", cfg.Port)
	}
	if cfg.HTTPPort != 7001 {
		t.Errorf("env should beat file: http_port=%d", cfg.HTTPPort)
	}
	if cfg.Threshold != 0.3 || cfg.CacheTTL != 30*time.Second {
		t.Errorf("file should beat defaults: threshold=%v cache_ttl=%v", cfg.Threshold, cfg.CacheTTL)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("expected pool_size 4 from env, got %d", cfg.PoolSize)
	}
}

func TestLoadExplicitConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("model: /models/face.onnx\nuse_mock_inference: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model != "/models/face.onnx" || !cfg.UseMockInference {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := Load([]string{"--config", filepath.Join(dir, "missing.yaml")}); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("LIVENESS_MOCK_SCORE=0.75\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("LIVENESS_MOCK_SCORE") })

	cfg, err := Load([]string{"--env-file", path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MockScore != 0.75 {
		t.Errorf("expected mock_score from env file, got %v", cfg.MockScore)
	}
}

func TestOTELEndpointEnablesTracing(t *testing.T) {
	isolate(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.OTELEnabled || cfg.OTELEndpoint != "http://collector:4317" {
		t.Errorf("unexpected otel config %v/%q", cfg.OTELEnabled, cfg.OTELEndpoint)
	}
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	isolate(t)
	if _, err := Load([]string{"--no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:              50051,
			HTTPPort:          9100,
			Model:             "liveness.onnx",
			Threshold:         0.5,
			PoolSize:          1,
			MotionEnabled:     true,
			MotionMaxSessions: 10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"bad http port", func(c *Config) { c.HTTPPort = 70000 }, "invalid http port"},
		{"same ports", func(c *Config) { c.HTTPPort = c.Port }, "must be different"},
		{"no model", func(c *Config) { c.Model = "" }, "model path is required"},
		{"no model with mock", func(c *Config) { c.Model = ""; c.UseMockInference = true }, ""},
		{"threshold zero", func(c *Config) { c.Threshold = 0 }, "threshold"},
		{"threshold one", func(c *Config) { c.Threshold = 1 }, "threshold"},
		{"pool size", func(c *Config) { c.PoolSize = 0 }, "pool_size"},
		{"negative timeout", func(c *Config) { c.AcquireTimeout = -time.Second }, "acquire_timeout"},
		{"negative max pixels", func(c *Config) { c.MaxImagePixels = -1 }, "max_image_pixels"},
		{"motion sessions", func(c *Config) { c.MotionMaxSessions = 0 }, "motion_max_sessions"},
		{"motion disabled", func(c *Config) { c.MotionEnabled = false; c.MotionMaxSessions = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
