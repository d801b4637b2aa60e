package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if ok {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_AppliesDefaultsWhenEnvUnset(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "RETRIEVAL_K", "TASKQUEUE_BASE_DELAY_SECONDS", "EMBEDDING_DIMENSION", "RERANKER_POOL_SIZE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Retrieval.K)
	assert.Equal(t, 256, cfg.Embedding.Dimension)
	assert.Equal(t, 0, cfg.Reranker.PoolSize, "reranking is disabled by default")
	assert.True(t, cfg.Embedding.Deterministic, "no endpoint configured means the deterministic fallback is used")
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@host/db")
	t.Setenv("RETRIEVAL_K", "25")
	t.Setenv("EMBEDDING_ENDPOINT", "https://embed.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@host/db", cfg.Store.DSN)
	assert.Equal(t, 25, cfg.Retrieval.K)
	assert.False(t, cfg.Embedding.Deterministic, "an explicit endpoint should not be overridden by the deterministic default")
}

func TestLoad_ParsesFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_FLAGS", "enable_graph_expand,disable_rerank=false,beta=true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Flags["enable_graph_expand"])
	assert.False(t, cfg.Flags["disable_rerank"])
	assert.True(t, cfg.Flags["beta"])
}

func TestLoad_YAMLFileUnderliesEnv(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
retrieval:
  k: 30
task_queue:
  redis_addr: "127.0.0.1:6379"
  redis_channel: "custom:changes"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RETRIEVAL_VECTOR_K", "99")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Retrieval.K, "file value used when env unset")
	assert.Equal(t, 99, cfg.Retrieval.VectorK, "env still overrides the file")
	assert.Equal(t, "127.0.0.1:6379", cfg.TaskQueue.RedisAddr)
	assert.Equal(t, "custom:changes", cfg.TaskQueue.RedisChannel)
}
