package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "ErrNotFound", err: agentmem.ErrNotFound, expected: "memory not found"},
		{name: "ErrDuplicateKey", err: agentmem.ErrDuplicateKey, expected: "memory key already exists"},
		{name: "ErrInvalidConfig", err: agentmem.ErrInvalidConfig, expected: "invalid configuration"},
		{name: "ErrEmbeddingFailed", err: agentmem.ErrEmbeddingFailed, expected: "embedding generation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestMemoryError(t *testing.T) {
	originalErr := errors.New("original error")
	memErr := agentmem.NewMemoryError("test_operation", originalErr)

	assert.Equal(t, "agentmem: test_operation: original error", memErr.Error())
	assert.ErrorIs(t, memErr, originalErr)

	var target *agentmem.MemoryError
	assert.ErrorAs(t, memErr, &target)
	assert.Equal(t, "test_operation", target.Op)

	assert.NoError(t, agentmem.NewMemoryError("noop", nil))
}
