package oceanbase_test

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
	"github.com/oceanbase/agentmem-go/pkg/storage/oceanbase"
	"github.com/oceanbase/agentmem-go/pkg/storage/storagetest"
)

func TestClient(t *testing.T) {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	host := os.Getenv("OCEANBASE_HOST")
	if host == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_HOST not set")
	}
	port := 2881
	if p := os.Getenv("OCEANBASE_PORT"); p != "" {
		var err error
		if port, err = strconv.Atoi(p); err != nil {
			t.Skipf("Skipping OceanBase test: invalid OCEANBASE_PORT: %v", err)
		}
	}
	user := os.Getenv("OCEANBASE_USER")
	if user == "" {
		user = "root@sys"
	}
	dbName := os.Getenv("OCEANBASE_DATABASE")
	if dbName == "" {
		dbName = "agentmem_test"
	}

	n := 0
	storagetest.Run(t, func(t *testing.T) storage.VectorStore {
		n++
		store, err := oceanbase.NewClient(&oceanbase.Config{
			Host:               host,
			Port:               port,
			User:               user,
			Password:           os.Getenv("OCEANBASE_PASSWORD"),
			DBName:             dbName,
			CollectionName:     fmt.Sprintf("memories_test_%d_%d", time.Now().UnixNano(), n),
			EmbeddingModelDims: storagetest.Dims,
		})
		require.NoError(t, err)
		return store
	})
}
