package postgres_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/storage"
	postgresStore "github.com/oceanbase/agentmem-go/pkg/storage/postgres"
	"github.com/oceanbase/agentmem-go/pkg/storage/storagetest"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestClient(t *testing.T) {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}
	port, err := strconv.Atoi(envOr("POSTGRES_PORT", "5432"))
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %v", err)
	}

	n := 0
	storagetest.Run(t, func(t *testing.T) storage.VectorStore {
		n++
		store, err := postgresStore.NewClient(&postgresStore.Config{
			Host:     envOr("POSTGRES_HOST", "127.0.0.1"),
			Port:     port,
			User:     envOr("POSTGRES_USER", "postgres"),
			Password: password,
			DBName:   envOr("POSTGRES_DATABASE", "agentmem_test"),
			// A fresh table per case keeps cases independent.
			CollectionName:     fmt.Sprintf("memories_test_%d_%d", time.Now().UnixNano(), n),
			EmbeddingModelDims: storagetest.Dims,
			SSLMode:            envOr("POSTGRES_SSLMODE", "disable"),
		})
		require.NoError(t, err)
		return store
	})
}
