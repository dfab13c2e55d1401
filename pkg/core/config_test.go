package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *agentmem.Config)
	}{
		{
			name: "sqlite with openai",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"SQLITE_PATH":        "./test.db",
				"LLM_PROVIDER":       "openai",
				"LLM_API_KEY":        "test-key",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
			},
			check: func(t *testing.T, cfg *agentmem.Config) {
				assert.Equal(t, "./test.db", cfg.VectorStore.Config["db_path"])
				assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
				assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
				assert.Equal(t, 1536, cfg.Embedder.Dimensions)
			},
		},
		{
			name: "chromem with ollama and scheduler settings",
			envVars: map[string]string{
				"DATABASE_PROVIDER":       "chromem",
				"CHROMEM_PATH":            "/tmp/agentmem",
				"LLM_PROVIDER":            "ollama",
				"EMBEDDING_PROVIDER":      "ollama",
				"REFLECTION_DELAY":        "10s",
				"REFLECTION_WORKERS":      "4",
				"ROUTER_MAX_HOPS":         "3",
				"EMBEDDING_CACHE_ENABLED": "true",
			},
			check: func(t *testing.T, cfg *agentmem.Config) {
				assert.Equal(t, "/tmp/agentmem", cfg.VectorStore.Config["persist_dir"])
				assert.Equal(t, 768, cfg.Embedder.Dimensions)
				assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
				assert.Equal(t, 10*time.Second, cfg.Reflection.Delay)
				assert.Equal(t, 4, cfg.Reflection.Workers)
				assert.Equal(t, 3, cfg.Router.MaxHops)
				assert.NotNil(t, cfg.Cache)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config, err := agentmem.LoadConfigFromEnv()
			require.NoError(t, err)
			assert.Equal(t, tt.envVars["DATABASE_PROVIDER"], config.VectorStore.Provider)
			assert.Equal(t, tt.envVars["LLM_PROVIDER"], config.LLM.Provider)
			assert.Equal(t, tt.envVars["EMBEDDING_PROVIDER"], config.Embedder.Provider)
			tt.check(t, config)
		})
	}
}

func TestLoadConfigFromEnv_InvalidInteger(t *testing.T) {
	t.Setenv("ROUTER_MAX_HOPS", "many")

	_, err := agentmem.LoadConfigFromEnv()
	assert.ErrorIs(t, err, agentmem.ErrInvalidConfig)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedder:
  provider: mock
  dimensions: 64
vector_store:
  provider: sqlite
  config:
    db_path: ./memories.db
    embedding_model_dims: 64
reflection:
  delay: 30s
  workers: 2
  namespace: [memories]
router:
  max_hops: 5
planner:
  checkpoint_store: redis
  redis_addr: localhost:6379
logging:
  level: debug
`), 0o644))

	cfg, err := agentmem.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mock", cfg.Embedder.Provider)
	assert.Equal(t, 64, cfg.VectorStore.Config["embedding_model_dims"])
	assert.Equal(t, 30*time.Second, cfg.Reflection.Delay)
	assert.Equal(t, []string{"memories"}, cfg.Reflection.Namespace)
	assert.Equal(t, "redis", cfg.Planner.CheckpointStore)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmem.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"embedder": {"provider": "mock", "dimensions": 16},
		"vector_store": {"provider": "memory", "config": {"embedding_model_dims": 16}}
	}`), 0o644))

	cfg, err := agentmem.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Embedder.Dimensions)

	// JSON numbers decode as float64 and are still accepted.
	client, err := agentmem.NewClient(cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 16, client.Dimensions())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *agentmem.Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &agentmem.Config{
				Embedder:    agentmem.EmbedderConfig{Provider: "openai", Dimensions: 1536},
				VectorStore: agentmem.VectorStoreConfig{Provider: "sqlite"},
			},
		},
		{
			name: "LLM is optional",
			config: &agentmem.Config{
				Embedder:    agentmem.EmbedderConfig{Provider: "mock"},
				VectorStore: agentmem.VectorStoreConfig{Provider: "memory"},
			},
		},
		{
			name: "missing embedder provider",
			config: &agentmem.Config{
				VectorStore: agentmem.VectorStoreConfig{Provider: "sqlite"},
			},
			wantErr: true,
		},
		{
			name: "missing vector store provider",
			config: &agentmem.Config{
				Embedder: agentmem.EmbedderConfig{Provider: "openai"},
			},
			wantErr: true,
		},
		{
			name: "negative dimensions",
			config: &agentmem.Config{
				Embedder:    agentmem.EmbedderConfig{Provider: "openai", Dimensions: -1},
				VectorStore: agentmem.VectorStoreConfig{Provider: "sqlite"},
			},
			wantErr: true,
		},
		{
			name: "negative max hops",
			config: &agentmem.Config{
				Embedder:    agentmem.EmbedderConfig{Provider: "mock"},
				VectorStore: agentmem.VectorStoreConfig{Provider: "memory"},
				Router:      agentmem.RouterConfig{MaxHops: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, agentmem.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFindEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o644))

	t.Chdir(dir)

	path, found := agentmem.FindEnvFile()
	assert.True(t, found)
	assert.Equal(t, ".env", path)
}
