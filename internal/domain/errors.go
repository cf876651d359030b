package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrToolFailure          = fmt.Errorf("tool execution failed")
	ErrSessionNotFound      = fmt.Errorf("session not found")
	ErrRetrieverUnavailable = fmt.Errorf("retriever unavailable")
	ErrProviderError        = fmt.Errorf("llm provider error")
	ErrEmbeddingFailed      = fmt.Errorf("embedding generation failed")
	ErrIndexStore           = fmt.Errorf("index store operation failed")
	ErrIndexSearch          = fmt.Errorf("index search failed")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid          = fmt.Errorf("authentication failed")
	ErrTimeout              = fmt.Errorf("operation timed out")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Router.Respond")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeToolNotFound         ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure          ErrorCode = "TOOL_FAILURE"
	CodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	CodeRetrieverUnavailable ErrorCode = "RETRIEVER_UNAVAILABLE"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeEmbeddingFailed      ErrorCode = "EMBEDDING_FAILED"
	CodeIndexStore           ErrorCode = "INDEX_STORE"
	CodeIndexSearch          ErrorCode = "INDEX_SEARCH"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:         CodeInvalidInput,
	ErrToolNotFound:         CodeToolNotFound,
	ErrToolFailure:          CodeToolFailure,
	ErrSessionNotFound:      CodeSessionNotFound,
	ErrRetrieverUnavailable: CodeRetrieverUnavailable,
	ErrProviderError:        CodeProviderError,
	ErrEmbeddingFailed:      CodeEmbeddingFailed,
	ErrIndexStore:           CodeIndexStore,
	ErrIndexSearch:          CodeIndexSearch,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrTimeout:              CodeTimeout,
	ErrConfigLoad:           CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
