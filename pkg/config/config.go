// Package config loads provisioner settings from a YAML file, an optional
// .env file and PROVISIONER_* environment variables, in increasing order
// of precedence. The API key is only ever read from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/logging"
	"github.com/Sternrassler/token-provisioner/pkg/remote"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvAPIKey          = "PROVISIONER_API_KEY"
	EnvAccount         = "PROVISIONER_ACCOUNT"
	EnvBaseURL         = "PROVISIONER_BASE_URL"
	EnvUserAgent       = "PROVISIONER_USER_AGENT"
	EnvGuard           = "PROVISIONER_GUARD"
	EnvRedisAddr       = "PROVISIONER_REDIS_ADDR"
	EnvRedisPassword   = "PROVISIONER_REDIS_PASSWORD"
	EnvLogLevel        = "PROVISIONER_LOG_LEVEL"
	EnvListenAddr      = "PROVISIONER_LISTEN_ADDR"
	EnvPollMaxAttempts = "PROVISIONER_POLL_MAX_ATTEMPTS"
)

// Guard backends.
const (
	GuardLocal = "local"
	GuardRedis = "redis"
)

// Config is the full provisioner configuration.
type Config struct {
	// Account is the owning account new resources are created for.
	Account string `yaml:"account"`

	// APIKey authenticates every remote call. Environment only.
	APIKey string `yaml:"-"`

	Service    ServiceConfig    `yaml:"service"`
	Poll       PollConfig       `yaml:"poll"`
	Activation ActivationConfig `yaml:"activation"`
	Guard      GuardConfig      `yaml:"guard"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Entities   EntitiesConfig   `yaml:"entities"`
	Server     ServerConfig     `yaml:"server"`
	Log        logging.Config   `yaml:"log"`
}

// ServiceConfig describes the remote service.
type ServiceConfig struct {
	UserAgent  string           `yaml:"user_agent"`
	AuthHeader string           `yaml:"auth_header"`
	Timeout    time.Duration    `yaml:"timeout"`
	Endpoints  remote.Endpoints `yaml:"endpoints"`
}

// PollConfig bounds job polling.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ActivationConfig tunes the activation workflow.
type ActivationConfig struct {
	// Delay is the pause between activation calls. Zero disables it.
	Delay time.Duration `yaml:"delay"`
}

// OrchestratorDelay returns Delay in the orchestrator's convention, where
// zero selects its default and a negative value disables the pause.
func (a ActivationConfig) OrchestratorDelay() time.Duration {
	if a.Delay == 0 {
		return -1
	}
	return a.Delay
}

// GuardConfig selects the single-flight backend.
type GuardConfig struct {
	Backend  string        `yaml:"backend"`
	Key      string        `yaml:"key"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// RedisConfig is used by the redis guard and the shared rate budget.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`
}

// RateLimitConfig enables rate budget tracking.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ThrottleDelay time.Duration `yaml:"throttle_delay"`
}

// EntitiesConfig is the local entity set. Names win over Count.
type EntitiesConfig struct {
	Count int      `yaml:"count"`
	Names []string `yaml:"names"`
}

// ServerConfig is the HTTP control surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			UserAgent:  "token-provisioner/0.1.0",
			AuthHeader: "x-api-key",
			Timeout:    15 * time.Second,
			Endpoints:  remote.DefaultEndpoints(""),
		},
		Poll:       PollConfig{Interval: time.Second, MaxAttempts: 60},
		Activation: ActivationConfig{Delay: 500 * time.Millisecond},
		Guard:      GuardConfig{Backend: GuardLocal, LeaseTTL: 30 * time.Minute},
		Redis:      RedisConfig{Addr: "localhost:6379"},
		RateLimit:  RateLimitConfig{ThrottleDelay: time.Second},
		Server:     ServerConfig{Addr: ":8080"},
		Log:        logging.DefaultConfig(),
	}
}

// Load builds a Config. Empty paths are skipped; a named file that does not
// exist is an error for the YAML file but not for the .env file.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if envFile != "" {
		// Load never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.Service.Endpoints = cfg.Service.Endpoints.WithDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.APIKey = getEnv(EnvAPIKey, c.APIKey)
	c.Account = getEnv(EnvAccount, c.Account)
	c.Service.Endpoints.BaseURL = getEnv(EnvBaseURL, c.Service.Endpoints.BaseURL)
	c.Service.UserAgent = getEnv(EnvUserAgent, c.Service.UserAgent)
	c.Guard.Backend = getEnv(EnvGuard, c.Guard.Backend)
	c.Redis.Addr = getEnv(EnvRedisAddr, c.Redis.Addr)
	c.Redis.Password = getEnv(EnvRedisPassword, c.Redis.Password)
	c.Server.Addr = getEnv(EnvListenAddr, c.Server.Addr)
	c.Log.Level = logging.LogLevel(getEnv(EnvLogLevel, string(c.Log.Level)))

	if v := os.Getenv(EnvPollMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPollMaxAttempts, err)
		}
		c.Poll.MaxAttempts = n
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%s is required", EnvAPIKey)
	}
	if c.Account == "" {
		return fmt.Errorf("account is required")
	}
	if err := c.ValidateService(); err != nil {
		return err
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive (got %s)", c.Poll.Interval)
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll max_attempts must be positive (got %d)", c.Poll.MaxAttempts)
	}
	if c.Activation.Delay < 0 {
		return fmt.Errorf("activation delay must not be negative (got %s)", c.Activation.Delay)
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Guard.Backend {
	case GuardLocal:
	case GuardRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis guard")
		}
	default:
		return fmt.Errorf("unknown guard backend %q", c.Guard.Backend)
	}
	return nil
}

// ValidateService checks only the remote service settings.
func (c Config) ValidateService() error {
	if c.Service.UserAgent == "" {
		return fmt.Errorf("service user_agent is required")
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("service timeout must be positive (got %s)", c.Service.Timeout)
	}
	return c.Service.Endpoints.Validate()
}

// EntityNames returns the configured entity names, generating empty names
// for Count entities when no names are listed.
func (c Config) EntityNames() []string {
	if len(c.Entities.Names) > 0 {
		return append([]string(nil), c.Entities.Names...)
	}
	return make([]string, c.Entities.Count)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
