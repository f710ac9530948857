package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/timerule"
)

func TestDefaults(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "class-bot", cfg.JobNamespace)
	assert.Equal(t, "America/New_York", cfg.Location.String())
	assert.Equal(t, timerule.DefaultDispatchOffset, cfg.DispatchOffset)
	assert.Equal(t, timerule.DefaultOpeningOffset, cfg.OpeningOffset)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 25*time.Second, cfg.Retry.Budget)
	assert.Equal(t, 10*time.Second, cfg.EnqueueTimeout)
	assert.Equal(t, "http", cfg.TaskBackend)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Error(t, cfg.RequireSecrets())
}

func TestEnvOverrides(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("CLASSCHED_STORE_DRIVER", "SQLite")
	t.Setenv("CLASSCHED_DISPATCH_OFFSET_MINUTES", "5")
	t.Setenv("CLASSCHED_RETRY_BASE_DELAY", "250ms")
	t.Setenv("CLASSCHED_TIMEZONE", "UTC")
	t.Setenv("DATABASE_URL", "postgres://legacy")
	t.Setenv("COOKIE_HASH_KEY", key)
	t.Setenv("CLASSCHED_COOKIE_BLOCK_KEY", key)
	t.Setenv("CLASSCHED_CRED_ENC_KEY", key)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, uint(5), cfg.DispatchOffset.Minutes)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, "postgres://legacy", cfg.DatabaseURL)
	assert.Len(t, cfg.CookieHashKey, 32)
	assert.NoError(t, cfg.RequireSecrets())
}

func TestKeyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc.key")
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))+"\n"), 0o600))
	t.Setenv("CLASSCHED_CRED_ENC_KEY", path)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", string(cfg.CredEncKey))
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("job_namespace: gym\nopening:\n  offset:\n    hours: 21\n"), 0o600))
	t.Setenv("CLASSCHED_CONFIG", path)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gym", cfg.JobNamespace)
	assert.Equal(t, uint(21), cfg.OpeningOffset.Hours)
	assert.Equal(t, uint(7), cfg.OpeningOffset.Days)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		env, val string
	}{
		{"CLASSCHED_TIMEZONE", "Mars/Olympus"},
		{"CLASSCHED_STORE_DRIVER", "mongo"},
		{"CLASSCHED_TASK_BACKEND", "sqs"},
		{"CLASSCHED_RETRY_MAX_ATTEMPTS", "0"},
		{"CLASSCHED_CRED_ENC_KEY", "not base64!"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
