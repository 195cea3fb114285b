// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port     int `mapstructure:"port"`
	HTTPPort int `mapstructure:"http_port"`

	// Model configuration
	Model          string        `mapstructure:"model"`
	Threshold      float64       `mapstructure:"threshold"`
	InputName      string        `mapstructure:"input_name"`
	OutputName     string        `mapstructure:"output_name"`
	ORTLibrary     string        `mapstructure:"ort_library"`
	PoolSize       int           `mapstructure:"pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	MaxImagePixels int           `mapstructure:"max_image_pixels"`

	// Storage
	Redis       string        `mapstructure:"redis"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	DatabaseDSN string        `mapstructure:"database_dsn"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Motion checks
	MotionEnabled     bool          `mapstructure:"motion_enabled"`
	MotionMaxSessions int           `mapstructure:"motion_max_sessions"`
	MotionSessionTTL  time.Duration `mapstructure:"motion_session_ttl"`

	LogLevel string `mapstructure:"log_level"`

	// Feature flags
	UseMockInference bool    `mapstructure:"use_mock_inference"`
	MockScore        float64 `mapstructure:"mock_score"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"port":            "port",
	"http-port":       "http_port",
	"model":           "model",
	"threshold":       "threshold",
	"ort-library":     "ort_library",
	"pool-size":       "pool_size",
	"redis":           "redis",
	"database-dsn":    "database_dsn",
	"otel":            "otel_enabled",
	"log-level":       "log_level",
	"mock":            "use_mock_inference",
	"mock-score":      "mock_score",
	"motion":          "motion_enabled",
	"acquire-timeout": "acquire_timeout",
	"max-pixels":      "max_image_pixels",
}

// NewFlagSet returns the server's command-line flags.
func NewFlagSet(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.String("config", "", "Path to config file (optional)")
	f.String("env-file", ".env", "Path to a dotenv file loaded into the environment (optional)")
	f.Int("port", 50051, "gRPC server port")
	f.Int("http-port", 9100, "HTTP port for the REST API, metrics and health checks")
	f.String("model", "liveness.onnx", "Path to the ONNX liveness model")
	f.Float64("threshold", 0.5, "Spoof score below which a face is live")
	f.String("ort-library", "", "Path to the onnxruntime shared library")
	f.Int("pool-size", 1, "Number of classifiers evaluating concurrently")
	f.Duration("acquire-timeout", 2*time.Second, "Maximum wait for a free classifier")
	f.Int("max-pixels", 4096*4096, "Largest declared image size, in pixels, accepted for cropping")
	f.String("redis", "", "Redis address for the verdict cache (empty disables it)")
	f.String("database-dsn", "", "Postgres DSN for the audit log (empty disables it)")
	f.Bool("otel", false, "Enable OpenTelemetry tracing")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.Bool("mock", false, "Use mock inference engine (for testing)")
	f.Float64("mock-score", 0.1, "Score returned by the mock inference engine")
	f.Bool("motion", true, "Combine verdicts with blink and stillness checks")
	return f
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 50051)
	v.SetDefault("http_port", 9100)
	v.SetDefault("model", "liveness.onnx")
	v.SetDefault("threshold", 0.5)
	v.SetDefault("input_name", "input")
	v.SetDefault("output_name", "output")
	v.SetDefault("ort_library", "")
	v.SetDefault("pool_size", 1)
	v.SetDefault("acquire_timeout", 2*time.Second)
	v.SetDefault("max_image_pixels", 4096*4096)
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("database_dsn", "")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("motion_enabled", true)
	v.SetDefault("motion_max_sessions", 10000)
	v.SetDefault("motion_session_ttl", 2*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("use_mock_inference", false)
	v.SetDefault("mock_score", 0.1)
}

// Load loads configuration from flags, environment variables, and optional config file.
// Priority (highest to lowest): flags > env vars > config file > defaults
func Load(args []string) (*Config, error) {
	flags := NewFlagSet("liveness-service")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return LoadFlags(flags)
}

// LoadFlags loads configuration using an already parsed flag set from NewFlagSet.
func LoadFlags(flags *pflag.FlagSet) (*Config, error) {
	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("LIVENESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("otel_endpoint", "LIVENESS_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, fmt.Errorf("failed to bind otel_endpoint: %w", err)
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/liveness-service/")

		// Read config file if present (ignore error if not found)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A configured collector endpoint implies tracing.
	if cfg.OTELEndpoint != "" {
		cfg.OTELEnabled = true
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTPPort)
	}
	if c.Port == c.HTTPPort {
		return fmt.Errorf("port and http_port must be different")
	}
	if c.Model == "" && !c.UseMockInference {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0, 1), got %v", c.Threshold)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("acquire_timeout must not be negative")
	}
	if c.MaxImagePixels < 0 {
		return fmt.Errorf("max_image_pixels must not be negative, got %d", c.MaxImagePixels)
	}
	if c.MotionEnabled && c.MotionMaxSessions < 1 {
		return fmt.Errorf("motion_max_sessions must be at least 1 when motion checks are enabled")
	}
	return nil
}
