package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/mock"
	"github.com/oceanbase/agentmem-go/pkg/storage/sqlite"
)

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentmem.yaml")
	cfg := "embedder:\n  provider: mock\n  dimensions: 64\n" +
		"vector_store:\n  provider: sqlite\n  config:\n    db_path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func seed(t *testing.T, dbPath string) {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: dbPath, CollectionName: "memories", EmbeddingModelDims: 64})
	require.NoError(t, err)
	client, err := core.New(store, mock.New(64))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	_, err = client.Upsert(ctx, core.NewNamespace("memories", "alice"), "lang", core.Text("Alice prefers Go"))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, core.NewNamespace("supervisor_memories"), "t1", core.Text("Task was handled by math_expert"))
	require.NoError(t, err)
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentmem.db")
	seed(t, dbPath)
	cfg := writeConfig(t, dbPath)

	out := execute(t, "--config", cfg, "namespaces")
	assert.Equal(t, "memories/alice\nsupervisor_memories\n", out)

	out = execute(t, "--config", cfg, "namespaces", "--prefix", "memories")
	assert.Equal(t, "memories/alice\n", out)

	out = execute(t, "--config", cfg, "search", "memories/alice", "which language?")
	assert.Contains(t, out, "Alice prefers Go")

	exportDir := t.TempDir()
	out = execute(t, "--config", cfg, "export", "--dir", exportDir, "--sqlite")
	assert.Contains(t, out, "exported 2 memories")
	assert.FileExists(t, filepath.Join(exportDir, "memories.json"))
	assert.FileExists(t, filepath.Join(exportDir, "memories.sqlite"))
}

func TestPlanRequiresLLM(t *testing.T) {
	cfg := writeConfig(t, filepath.Join(t.TempDir(), "agentmem.db"))
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "plan", "pending"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
