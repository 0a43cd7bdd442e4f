// Package config loads bulk lookup settings from a YAML file, environment
// variables and defaults, and converts them for the pipeline packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/bulk-lookup/pkg/client"
	"github.com/Sternrassler/bulk-lookup/pkg/logging"
	"github.com/Sternrassler/bulk-lookup/pkg/pipeline"
	"github.com/Sternrassler/bulk-lookup/pkg/sink"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full run configuration.
type Config struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	Format string `yaml:"format"`
	Sync   bool   `yaml:"sync"`

	BatchSize      int               `yaml:"batch_size"`
	TimeoutSeconds float64           `yaml:"timeout_seconds"`
	MaxAttempts    int               `yaml:"max_attempts"`
	BackoffSeconds float64           `yaml:"backoff_seconds"`
	Endpoint       string            `yaml:"endpoint"`
	Headers        map[string]string `yaml:"headers"`
	MaxIdleConns   int               `yaml:"max_idle_conns"`

	Redis RedisConfig `yaml:"redis"`
	Log   LogConfig   `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// RedisConfig enables the Redis list sink when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
	List string `yaml:"list"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	cc := client.DefaultConfig()

	return Config{
		Input:          "addresses.txt",
		Output:         "results.txt",
		Format:         string(sink.FormatKeyValue),
		Sync:           true,
		BatchSize:      pipeline.DefaultConfig().BatchSize,
		TimeoutSeconds: cc.Timeout.Seconds(),
		MaxAttempts:    cc.MaxAttempts,
		BackoffSeconds: cc.Backoff.Seconds(),
		Endpoint:       cc.Endpoint,
		Headers:        cc.Headers,
		Redis: RedisConfig{
			List: sink.DefaultRedisList,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// A configured header set replaces the defaults instead of merging.
		cfg.Headers = nil
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Headers == nil {
			cfg.Headers = client.DefaultHeaders()
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides settings from the environment.
func (c *Config) applyEnv() {
	c.Input = getEnv("LOOKUP_INPUT", c.Input)
	c.Output = getEnv("LOOKUP_OUTPUT", c.Output)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return fmt.Errorf("%w: input is required", ErrInvalidConfig)
	}
	if c.Output == "" && c.Redis.Addr == "" {
		return fmt.Errorf("%w: output or redis.addr is required", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be > 0 (got %d)", ErrInvalidConfig, c.BatchSize)
	}
	if _, err := sink.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Client().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Client returns the lookup client configuration.
func (c Config) Client() client.Config {
	headers := c.Headers
	if headers == nil {
		headers = client.DefaultHeaders()
	}

	maxIdle := c.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = c.BatchSize
	}

	return client.Config{
		Endpoint:     c.Endpoint,
		Timeout:      seconds(c.TimeoutSeconds),
		MaxAttempts:  c.MaxAttempts,
		Backoff:      seconds(c.BackoffSeconds),
		Headers:      headers,
		MaxIdleConns: maxIdle,
	}
}

// Pipeline returns the dispatcher configuration.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{BatchSize: c.BatchSize}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	cfg.File = c.Log.File
	return cfg
}

// RecordFormat returns the parsed output format.
func (c Config) RecordFormat() (sink.Format, error) {
	return sink.ParseFormat(c.Format)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
