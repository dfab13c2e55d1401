package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/agentmem-go/pkg/logging"
)

// Config contains the complete configuration for an agentmem deployment.
//
// The memory client itself only reads LLM, Embedder, VectorStore, Retry and
// Cache. The remaining sections are carried here so a single file or
// environment configures the scheduler, router, planner and logger too.
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./agentmem.db",
//	        },
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`

	// Retry bounds embedding retries.
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Cache configures the embedding cache (optional).
	Cache *CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Reflection configures the deferred consolidation scheduler.
	Reflection ReflectionConfig `json:"reflection" yaml:"reflection"`

	// Router configures the supervisor.
	Router RouterConfig `json:"router" yaml:"router"`

	// Planner configures approval checkpoints.
	Planner PlannerConfig `json:"planner" yaml:"planner"`

	// Logging configures the zap logger.
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, deepseek, anthropic, ollama
type LLMConfig struct {
	// Provider is the LLM provider name.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini", "deepseek-chat").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, ollama, mock
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the embedding model name.
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dimension D of every stored vector.
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: memory, sqlite, postgres, oceanbase, chromem
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider" yaml:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name
	// For OceanBase: host, port, user, password, db_name, collection_name, vector_index
	// For PostgreSQL: host, port, user, password, db_name, collection_name, ssl_mode, hnsw_m, hnsw_ef_construction
	// For chromem: persist_dir, compress
	// embedding_model_dims defaults to Embedder.Dimensions for every provider.
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// RetryConfig bounds the retries around embedding calls.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default 3.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// InitialInterval is the first backoff delay. Default 200ms.
	InitialInterval time.Duration `json:"initial_interval,omitempty" yaml:"initial_interval,omitempty"`

	// MaxInterval caps one delay. Default 5s.
	MaxInterval time.Duration `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
}

// CacheConfig enables the in-process embedding cache.
type CacheConfig struct {
	// MaxCost is the budget in bytes. Default 64 MiB.
	MaxCost int64 `json:"max_cost,omitempty" yaml:"max_cost,omitempty"`
}

// ReflectionConfig configures the reflection scheduler.
type ReflectionConfig struct {
	// Delay is the debounce window after the last turn. Default 30s.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`

	// Workers is the executor pool size. Default 2.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// MaxRetries re-runs a failed job. Default 0.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// Namespace is where extracted facts are written. Default ["memories"].
	Namespace []string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// NATSURL enables failure reports over NATS when set.
	NATSURL string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`

	// NATSSubject defaults to "agentmem.reflection.failed".
	NATSSubject string `json:"nats_subject,omitempty" yaml:"nats_subject,omitempty"`
}

// RouterConfig configures the supervisor.
type RouterConfig struct {
	// MaxHops bounds re-routing within one turn. Default 5.
	MaxHops int `json:"max_hops,omitempty" yaml:"max_hops,omitempty"`

	// Namespace holds routing memories. Default ["supervisor_memories"].
	Namespace []string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// PlannerConfig configures plan checkpoints.
type PlannerConfig struct {
	// CheckpointStore is one of memory, file, redis. Default memory.
	CheckpointStore string `json:"checkpoint_store,omitempty" yaml:"checkpoint_store,omitempty"`

	// CheckpointDir is used by the file store.
	CheckpointDir string `json:"checkpoint_dir,omitempty" yaml:"checkpoint_dir,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`

	// Namespace holds planning episodes. Default ["planner_episodes"].
	Namespace []string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (memory, sqlite, oceanbase, postgres, chromem)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - CHROMEM_PATH, CHROMEM_COMPRESS
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - EMBEDDING_CACHE_ENABLED, EMBEDDING_RETRY_MAX_ATTEMPTS
//   - REFLECTION_DELAY, REFLECTION_WORKERS, REFLECTION_MAX_RETRIES, NATS_URL
//   - ROUTER_MAX_HOPS
//   - PLANNER_CHECKPOINT_STORE, PLANNER_CHECKPOINT_DIR, REDIS_URL, REDIS_PASSWORD, REDIS_DB
//   - LOG_LEVEL, LOG_DEVELOPMENT
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	defaultDims := "1536"
	switch embedderProvider {
	case "openai":
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	case "ollama":
		if embedderBaseURL == "" {
			embedderBaseURL = getEnvOrDefault("OLLAMA_EMBEDDING_BASE_URL", "http://localhost:11434")
		}
		if embedderModel == "" {
			embedderModel = "nomic-embed-text"
		}
		defaultDims = "768"
	case "mock":
		defaultDims = "64"
	}
	dims, err := envInt("EMBEDDING_DIMS", defaultDims)
	if err != nil {
		return nil, err
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	vectorStoreConfig := make(map[string]interface{})

	switch provider {
	case "oceanbase":
		port, err := envInt("OCEANBASE_PORT", "2881")
		if err != nil {
			return nil, err
		}
		vectorStoreConfig = map[string]interface{}{
			"host":            getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":            port,
			"user":            getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":        os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":         getEnvOrDefault("OCEANBASE_DATABASE", "agentmem"),
			"collection_name": getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
			"vector_index":    os.Getenv("OCEANBASE_VECTOR_INDEX") == "true",
		}
	case "sqlite":
		vectorStoreConfig = map[string]interface{}{
			"db_path":         getEnvOrDefault("SQLITE_PATH", "./agentmem.db"),
			"collection_name": getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	case "postgres":
		port, err := envInt("POSTGRES_PORT", "5432")
		if err != nil {
			return nil, err
		}
		vectorStoreConfig = map[string]interface{}{
			"host":            getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":            port,
			"user":            getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":        os.Getenv("POSTGRES_PASSWORD"),
			"db_name":         getEnvOrDefault("POSTGRES_DATABASE", "agentmem"),
			"collection_name": getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"ssl_mode":        getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "chromem":
		vectorStoreConfig = map[string]interface{}{
			"persist_dir": os.Getenv("CHROMEM_PATH"),
			"compress":    os.Getenv("CHROMEM_COMPRESS") == "true",
		}
	}

	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	llmBaseURL := os.Getenv("LLM_BASE_URL")
	var defaultModel string
	switch llmProvider {
	case "deepseek":
		if llmBaseURL == "" {
			llmBaseURL = getEnvOrDefault("DEEPSEEK_LLM_BASE_URL", "https://api.deepseek.com")
		}
		defaultModel = "deepseek-chat"
	case "ollama":
		if llmBaseURL == "" {
			llmBaseURL = getEnvOrDefault("OLLAMA_LLM_BASE_URL", "http://localhost:11434")
		}
		defaultModel = "llama3.1"
	case "anthropic":
		if llmBaseURL == "" {
			llmBaseURL = getEnvOrDefault("ANTHROPIC_LLM_BASE_URL", "https://api.anthropic.com")
		}
		defaultModel = "claude-3-5-sonnet-20240620"
	default:
		defaultModel = "gpt-4o-mini"
	}

	maxAttempts, err := envInt("EMBEDDING_RETRY_MAX_ATTEMPTS", "3")
	if err != nil {
		return nil, err
	}
	workers, err := envInt("REFLECTION_WORKERS", "2")
	if err != nil {
		return nil, err
	}
	maxRetries, err := envInt("REFLECTION_MAX_RETRIES", "0")
	if err != nil {
		return nil, err
	}
	delay, err := time.ParseDuration(getEnvOrDefault("REFLECTION_DELAY", "30s"))
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: REFLECTION_DELAY: %v", ErrInvalidConfig, err))
	}
	maxHops, err := envInt("ROUTER_MAX_HOPS", "5")
	if err != nil {
		return nil, err
	}
	redisDB, err := envInt("REDIS_DB", "0")
	if err != nil {
		return nil, err
	}

	config := &Config{
		LLM: LLMConfig{
			Provider: llmProvider,
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnvOrDefault("LLM_MODEL", defaultModel),
			BaseURL:  llmBaseURL,
		},
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: dims,
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   vectorStoreConfig,
		},
		Retry: RetryConfig{
			MaxAttempts: maxAttempts,
		},
		Reflection: ReflectionConfig{
			Delay:      delay,
			Workers:    workers,
			MaxRetries: maxRetries,
			NATSURL:    os.Getenv("NATS_URL"),
		},
		Router: RouterConfig{
			MaxHops: maxHops,
		},
		Planner: PlannerConfig{
			CheckpointStore: getEnvOrDefault("PLANNER_CHECKPOINT_STORE", "memory"),
			CheckpointDir:   getEnvOrDefault("PLANNER_CHECKPOINT_DIR", "./checkpoints"),
			RedisAddr:       os.Getenv("REDIS_URL"),
			RedisPassword:   os.Getenv("REDIS_PASSWORD"),
			RedisDB:         redisDB,
		},
		Logging: logging.Config{
			Level:       getEnvOrDefault("LOG_LEVEL", "info"),
			Development: os.Getenv("LOG_DEVELOPMENT") == "true",
		},
	}

	if os.Getenv("EMBEDDING_CACHE_ENABLED") == "true" {
		config.Cache = &CacheConfig{}
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
// Durations are given in nanoseconds.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
// Durations accept Go duration strings such as "30s".
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	return &config, nil
}

// LoadConfig picks a loader by file extension; an empty path reads the
// environment.
func LoadConfig(path string) (*Config, error) {
	switch filepath.Ext(path) {
	case "":
		if path == "" {
			return LoadConfigFromEnv()
		}
		return LoadConfigFromEnvFile(path)
	case ".json":
		return LoadConfigFromJSON(path)
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	default:
		return LoadConfigFromEnvFile(path)
	}
}

// Validate checks the fields the memory client needs.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	}
	if c.Embedder.Dimensions < 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: embedder dimensions must be positive", ErrInvalidConfig))
	}
	if c.VectorStore.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: vector store provider is required", ErrInvalidConfig))
	}
	if c.Router.MaxHops < 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: router max hops must not be negative", ErrInvalidConfig))
	}
	if c.Reflection.Workers < 0 || c.Reflection.MaxRetries < 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: reflection workers and retries must not be negative", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key, defaultValue string) (int, error) {
	raw := getEnvOrDefault(key, defaultValue)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, raw))
	}
	return n, nil
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// Type-tolerant readers for VectorStoreConfig.Config: values decoded from
// JSON arrive as float64, from YAML as int, from the environment as strings.

func getString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case fmt.Stringer:
			return t.String()
		}
	}
	return def
}

func getInt(m map[string]interface{}, key string, def int) int {
	switch t := m[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

func getBool(m map[string]interface{}, key string) bool {
	switch t := m[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}
