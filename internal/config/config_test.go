package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tubepost:", cfg.Redis.KeyPrefix)
	assert.Equal(t, StoreDriverRedis, cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Generation.Timeout)
	assert.Equal(t, "youtube.com/watch", cfg.Generation.SourceMatch)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.False(t, cfg.Worker.Embedded)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("GENERATION_ENDPOINT", "https://gen.example.com/")
	t.Setenv("GENERATION_TIMEOUT", "45s")
	t.Setenv("WORKER_CONCURRENCY", "1")
	t.Setenv("STORE_DRIVER", "Memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "https://gen.example.com", cfg.Generation.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 2, cfg.Worker.Concurrency, "concurrency is raised so reset can run beside a job")
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.True(t, cfg.Worker.Embedded, "memory store forces the embedded worker")
}

func TestReadSecretFromFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))

	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}
