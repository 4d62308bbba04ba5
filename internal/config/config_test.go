package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Outbox.BaseBackoff)
	assert.Equal(t, time.Hour, cfg.Outbox.MaxBackoff)
	assert.Equal(t, "X-Webhook-Signature", cfg.Webhooks.SignatureHeader)
	assert.Equal(t, 2112, cfg.Metrics.Port)
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
logLevel: debug
webhooks:
  secrets:
    twilio: file-secret
outbox:
  batchSize: 7
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), yaml, 0o600))

	t.Setenv("POSTGRES_DSN", "postgres://env/db")
	t.Setenv("JWT_SECRET", "env-jwt")
	t.Setenv("OUTBOX_POOLSIZE", "3")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Outbox.BatchSize)
	assert.Equal(t, 3, cfg.Outbox.PoolSize)
	assert.Equal(t, "postgres://env/db", cfg.Database.PostgresDSN)
	assert.Equal(t, "env-jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "file-secret", cfg.WebhookSecret("Twilio"))
	assert.Empty(t, cfg.WebhookSecret("vonage"))
}

func TestLoadConfig_RejectsStaleSweepShorterThanJobs(t *testing.T) {
	t.Setenv("OUTBOX_STALEAFTER", "20s")
	t.Setenv("OUTBOX_JOBTIMEOUT", "30s")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staleAfter")

	t.Setenv("OUTBOX_STALEAFTER", "0s")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err, "a disabled sweep needs no margin")
	assert.Zero(t, cfg.Outbox.StaleAfter)
}
