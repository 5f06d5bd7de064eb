// Package config loads process configuration from the environment.
//
// Values come from environment variables parsed with github.com/caarlos0/env.
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig is the root configuration shared by the server and worker binaries.
type AppConfig struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTP     HTTPConfig
	Database DBConfig     `envPrefix:"DB_"`
	Broker   BrokerConfig `envPrefix:"BROKER_"`
	Gateway  GatewayConfig
	LLM      LLMConfig    `envPrefix:"LLM_"`
	Worker   WorkerConfig `envPrefix:"WORKER_"`
	Cache    CacheConfig  `envPrefix:"CACHE_"`

	// EmbeddedWorker runs the dispatcher inside the server process.
	EmbeddedWorker bool `env:"EMBEDDED_WORKER" envDefault:"false"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port string `env:"API_PORT" envDefault:"8080"`
}

// DBConfig configures the job store. An empty URL selects the in-memory store.
// DATABASE_URL is accepted in place of DB_URL.
type DBConfig struct {
	URL           string `env:"URL,unset"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	MaxOpenConns  int    `env:"MAX_OPEN_CONNS" envDefault:"25"`
}

// BrokerConfig configures the pub/sub broker. An empty URL disables the broker path.
type BrokerConfig struct {
	URL                  string        `env:"URL"`
	Channel              string        `env:"CHANNEL"                envDefault:"job-updates"`
	ReconnectMaxAttempts uint64        `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"10"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY"   envDefault:"500ms"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY"    envDefault:"5s"`
}

// GatewayConfig configures the worker's direct connection to the notification gateway.
type GatewayConfig struct {
	URL            string        `env:"WS_URL"             envDefault:"ws://localhost:8080/ws/publish"`
	ReconnectDelay time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"3s"`
	// PublishToken guards /ws/publish on the server and is sent by the worker.
	PublishToken string `env:"GATEWAY_PUBLISH_TOKEN,unset"`
}

// LLMConfig configures the computation delegate. An empty APIKey selects local arithmetic.
type LLMConfig struct {
	Provider         string        `env:"PROVIDER"          envDefault:"claude"`
	APIKey           string        `env:"API_KEY,unset"`
	Model            string        `env:"MODEL"`
	Timeout          time.Duration `env:"TIMEOUT"           envDefault:"30s"`
	PricePer1KTokens float64       `env:"PRICE_PER_1K_TOKENS" envDefault:"0.002"`
	RatePerSecond    float64       `env:"RATE_PER_SECOND"   envDefault:"5"`
}

// WorkerConfig configures the dispatcher and pipelines.
type WorkerConfig struct {
	PollInterval   time.Duration `env:"POLL_INTERVAL"   envDefault:"2s"`
	BatchSize      int           `env:"BATCH_SIZE"      envDefault:"5"`
	OperationDelay time.Duration `env:"OPERATION_DELAY" envDefault:"3s"`
	GRPCPort       string        `env:"GRPC_PORT"       envDefault:"8081"`
	MetricsPort    string        `env:"METRICS_PORT"    envDefault:"9091"`
	// GRPCAddr is where the API server probes worker health. Empty skips the probe.
	GRPCAddr string `env:"GRPC_ADDR"`
}

// CacheConfig configures the Redis job snapshot cache. An empty RedisURL disables it.
type CacheConfig struct {
	RedisURL string        `env:"REDIS_URL"`
	JobTTL   time.Duration `env:"JOB_TTL"   envDefault:"1h"`
}

// Load reads .env (if present) and parses the environment into an AppConfig.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.applyAliases()
	cfg.Sanitize()
	return &cfg, nil
}

func (c *AppConfig) applyAliases() {
	if c.Database.URL == "" {
		c.Database.URL = lookup("DATABASE_URL")
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "claude":
			c.LLM.APIKey = lookup("ANTHROPIC_API_KEY")
		case "gemini":
			c.LLM.APIKey = lookup("GEMINI_API_KEY")
		}
	}
}

func lookup(key string) string {
	v, _ := os.LookupEnv(key)
	return v
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *AppConfig) Sanitize() {
	if c.HTTP.Port == "" {
		c.HTTP.Port = "8080"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
	}
	c.Broker.sanitize()
	if c.Gateway.ReconnectDelay <= 0 {
		c.Gateway.ReconnectDelay = 3 * time.Second
	}
	c.LLM.sanitize()
	c.Worker.sanitize()
	if c.Cache.JobTTL <= 0 {
		c.Cache.JobTTL = time.Hour
	}
}

func (c *BrokerConfig) sanitize() {
	if c.Channel == "" {
		c.Channel = "job-updates"
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = 10
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = c.ReconnectBaseDelay
	}
}

func (c *LLMConfig) sanitize() {
	switch c.Provider {
	case "claude", "gemini", "none":
	default:
		c.Provider = "claude"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PricePer1KTokens < 0 {
		c.PricePer1KTokens = 0
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
}

func (c *WorkerConfig) sanitize() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	// zero is allowed and disables the artificial delay
	if c.OperationDelay < 0 {
		c.OperationDelay = 3 * time.Second
	}
	if c.GRPCPort == "" {
		c.GRPCPort = "8081"
	}
	if c.MetricsPort == "" {
		c.MetricsPort = "9091"
	}
}
