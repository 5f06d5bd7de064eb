package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "job-updates", cfg.Broker.Channel)
	assert.Equal(t, uint64(10), cfg.Broker.ReconnectMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Broker.ReconnectMaxDelay)
	assert.Equal(t, 3*time.Second, cfg.Gateway.ReconnectDelay)
	assert.Equal(t, "ws://localhost:8080/ws/publish", cfg.Gateway.URL)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5, cfg.Worker.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Worker.OperationDelay)
	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.InDelta(t, 0.002, cfg.LLM.PricePer1KTokens, 1e-12)
	assert.Empty(t, cfg.Broker.URL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://jobs@localhost/jobs")
	t.Setenv("BROKER_URL", "redis://localhost:6379/0")
	t.Setenv("BROKER_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("WORKER_OPERATION_DELAY", "0s")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://jobs@localhost/jobs", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Broker.URL)
	assert.Equal(t, uint64(3), cfg.Broker.ReconnectMaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.Worker.OperationDelay)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
}

func TestSanitize(t *testing.T) {
	cfg := &AppConfig{
		Broker: BrokerConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: time.Millisecond},
		LLM:    LLMConfig{Provider: "openai", PricePer1KTokens: -1},
		Worker: WorkerConfig{BatchSize: -3, OperationDelay: -time.Second},
	}
	cfg.Sanitize()

	assert.Equal(t, time.Second, cfg.Broker.ReconnectMaxDelay)
	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Zero(t, cfg.LLM.PricePer1KTokens)
	assert.Equal(t, 5, cfg.Worker.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Worker.OperationDelay)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
}
