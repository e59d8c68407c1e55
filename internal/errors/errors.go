// Package errors provides the structured error taxonomy for memory operations.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for memory operations.
type ErrorCode string

const (
	// ErrCodeEmbeddingUnavailable indicates the embedding provider could not be
	// reached. Non-fatal: callers degrade to keyword search.
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	// ErrCodeIndexLoadFailed indicates the vector index could not be loaded
	// from disk. Non-fatal: callers rebuild the index from the episode store.
	ErrCodeIndexLoadFailed ErrorCode = "INDEX_LOAD_FAILED"
	// ErrCodeIndexCorrupt indicates the persisted vector index is structurally
	// invalid or its version/dimension does not match.
	ErrCodeIndexCorrupt ErrorCode = "INDEX_CORRUPT"
	// ErrCodeStorageWriteFailed indicates a durable write failed. Fatal for the
	// calling operation.
	ErrCodeStorageWriteFailed ErrorCode = "STORAGE_WRITE_FAILED"
	// ErrCodeCompressionConflict indicates a concurrent mutation invalidated a
	// compression group. The group is aborted, the pass continues.
	ErrCodeCompressionConflict ErrorCode = "COMPRESSION_CONFLICT"
	// ErrCodeCheckpointRestoreFailed indicates a checkpoint restore failed.
	// Fatal only for the restore call; live state is unaffected.
	ErrCodeCheckpointRestoreFailed ErrorCode = "CHECKPOINT_RESTORE_FAILED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// MemoryError represents a structured error for memory operations.
type MemoryError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *MemoryError) GetCode() ErrorCode {
	return e.Code
}

// CodeOf extracts the error code from err, or empty string if err is not a
// MemoryError.
func CodeOf(err error) ErrorCode {
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsNonFatal reports whether err is a degradable error: the operation can
// continue with reduced functionality instead of failing the request.
func IsNonFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeEmbeddingUnavailable, ErrCodeIndexLoadFailed, ErrCodeIndexCorrupt, ErrCodeCompressionConflict:
		return true
	}
	return false
}

// Convenience constructors for common error types.

// EmbeddingUnavailable creates an embedding unavailable error.
func EmbeddingUnavailable(cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeEmbeddingUnavailable, Message: "embedding provider unavailable", Cause: cause}
}

// IndexLoadFailed creates an index load failed error.
func IndexLoadFailed(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeIndexLoadFailed, Message: msg, Cause: cause}
}

// IndexCorrupt creates an index corrupt error.
func IndexCorrupt(msg string) *MemoryError {
	return &MemoryError{Code: ErrCodeIndexCorrupt, Message: msg}
}

// StorageWriteFailed creates a storage write failed error.
func StorageWriteFailed(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeStorageWriteFailed, Message: msg, Cause: cause}
}

// CompressionConflict creates a compression conflict error.
func CompressionConflict(msg string) *MemoryError {
	return &MemoryError{Code: ErrCodeCompressionConflict, Message: msg}
}

// CheckpointRestoreFailed creates a checkpoint restore failed error.
func CheckpointRestoreFailed(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeCheckpointRestoreFailed, Message: msg, Cause: cause}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *MemoryError {
	return &MemoryError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *MemoryError {
	return &MemoryError{Code: ErrCodeNotFound, Message: msg}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}
