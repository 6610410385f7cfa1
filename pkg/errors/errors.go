// Package errors provides the structured error type used across stillshot, with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Camera errors
	ErrCodeCameraUnavailable ErrorCode = "CAMERA_UNAVAILABLE"
	ErrCodeCameraInitFailed  ErrorCode = "CAMERA_INIT_FAILED"
	ErrCodeCaptureReadFailed ErrorCode = "CAPTURE_READ_FAILED"

	// Storage errors
	ErrCodeStorageUnreachable ErrorCode = "STORAGE_UNREACHABLE"
	ErrCodeStorageRejected    ErrorCode = "STORAGE_REJECTED"

	// Filesystem / queue errors
	ErrCodeFilesystem  ErrorCode = "FILESYSTEM_ERROR"
	ErrCodeEntryExists ErrorCode = "QUEUE_ENTRY_EXISTS"

	// Operation errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCamera        ErrorCategory = "camera"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// AgentError is a structured error with context and metadata.
type AgentError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *AgentError with the same code.
func (e *AgentError) Is(target error) bool {
	if other, ok := target.(*AgentError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for debug logging.
func (e *AgentError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("AgentError{%s}", strings.Join(parts, ", "))
}

// NewError creates an error with defaults derived from the code.
func NewError(code ErrorCode, message string) *AgentError {
	return &AgentError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: retryableByDefault(code),
	}
}

// Wrap creates an error with the given cause. A nil cause is allowed.
func Wrap(cause error, code ErrorCode, message string) *AgentError {
	err := NewError(code, message)
	err.Cause = cause
	return err
}

// GetCategory determines the category from the code prefix.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasSuffix(codeStr, "_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CAMERA_") || strings.HasPrefix(codeStr, "CAPTURE_"):
		return CategoryCamera
	case strings.HasPrefix(codeStr, "STORAGE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "FILESYSTEM_") || strings.HasPrefix(codeStr, "QUEUE_"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_") ||
		strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// retryableByDefault reports whether a later attempt may succeed without intervention.
func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeStorageUnreachable, ErrCodeCaptureReadFailed, ErrCodeInternalError:
		return true
	}
	return false
}

// WithContext adds contextual information to an error.
func (e *AgentError) WithContext(key, value string) *AgentError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *AgentError) WithDetail(key string, value interface{}) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *AgentError) WithComponent(component string) *AgentError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *AgentError) WithOperation(operation string) *AgentError {
	e.Operation = operation
	return e
}

// WithRetryable overrides the default retry hint.
func (e *AgentError) WithRetryable(retryable bool) *AgentError {
	e.Retryable = retryable
	return e
}

// CodeOf returns the code of the first AgentError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var agentErr *AgentError
	if stderrors.As(err, &agentErr) {
		return agentErr.Code
	}
	return ""
}

// IsCode reports whether err's chain contains an AgentError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &AgentError{Code: code})
}

// IsRetryable reports whether err carries a retry hint.
func IsRetryable(err error) bool {
	var agentErr *AgentError
	if stderrors.As(err, &agentErr) {
		return agentErr.Retryable
	}
	return false
}
