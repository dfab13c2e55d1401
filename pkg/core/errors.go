// Package core provides the namespaced memory client.
package core

import (
	"errors"
	"fmt"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that no memory exists for the namespace and key.
	ErrNotFound = errors.New("memory not found")

	// ErrDuplicateKey indicates that create targeted an existing key.
	ErrDuplicateKey = errors.New("memory key already exists")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates that embedding generation failed after retries.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidNamespace indicates an empty namespace or an empty segment.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Create",
//	    Err: ErrEmbeddingFailed,
//	}
//	// Error() returns: "agentmem: Create: embedding generation failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *MemoryError) Error() string {
	return fmt.Sprintf("agentmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Create", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// translateStorageError maps backend sentinels onto the core ones so callers
// only need to check core errors.
func translateStorageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return NewMemoryError(op, ErrNotFound)
	case errors.Is(err, storage.ErrDuplicateKey):
		return NewMemoryError(op, ErrDuplicateKey)
	case errors.Is(err, storage.ErrDimensionMismatch):
		return NewMemoryError(op, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	default:
		return NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
}
